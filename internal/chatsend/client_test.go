package chatsend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPostsExpectedPayloadAndHeaders(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotBody sendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "secret-key", SenderNumber: "385900000000"})
	err := c.Send(context.Background(), "38591234567", "Vaša pošiljka je na putu.")
	require.NoError(t, err)

	assert.Equal(t, "/whatsapp/1/message/text", gotPath)
	assert.Equal(t, "App secret-key", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "385900000000", gotBody.From)
	assert.Equal(t, "38591234567", gotBody.To)
	assert.Equal(t, "Vaša pošiljka je na putu.", gotBody.Content.Text)
}

func TestSendReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", SenderNumber: "1"})
	err := c.Send(context.Background(), "2", "hi")
	require.Error(t, err)
}

func TestSendReturnsErrorOnTransportFailure(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", APIKey: "k", SenderNumber: "1"})
	err := c.Send(context.Background(), "2", "hi")
	require.Error(t, err)
}
