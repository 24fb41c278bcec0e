package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- ChooseModel ---

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req-model", ChooseModel("req-model", "default", "fallback"))
	assert.Equal(t, "default", ChooseModel("", "default", "fallback"))
	assert.Equal(t, "fallback", ChooseModel("", "", "fallback"))
}

// --- BaseProvider ---

func TestNewBaseProvider(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		bp := NewBaseProvider(BaseConfig{
			Name:    "test",
			BaseURL: "http://example.com/",
		})
		assert.Equal(t, "test", bp.Name())
		assert.Equal(t, 100, bp.MaxBatchSize())
		// BaseURL trailing slash trimmed
		assert.Equal(t, "http://example.com", bp.baseURL)
	})

	t.Run("custom values", func(t *testing.T) {
		bp := NewBaseProvider(BaseConfig{
			Name:       "custom",
			BaseURL:    "http://api.test",
			Dimensions: 512,
			MaxBatch:   50,
			Timeout:    10 * time.Second,
		})
		assert.Equal(t, 512, bp.Dimensions())
		assert.Equal(t, 50, bp.MaxBatchSize())
	})
}

// --- mapHTTPError ---

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		wantCode  string
		retryable bool
	}{
		{http.StatusUnauthorized, "UNAUTHORIZED", false},
		{http.StatusForbidden, "FORBIDDEN", false},
		{http.StatusTooManyRequests, "RATE_LIMITED", true},
		{http.StatusBadRequest, "INVALID_REQUEST", false},
		{http.StatusInternalServerError, "UPSTREAM_ERROR", true},
		{http.StatusBadGateway, "UPSTREAM_ERROR", true},
		{http.StatusServiceUnavailable, "UPSTREAM_ERROR", true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := mapHTTPError(tt.status, "test error", "test-provider")
			assert.Equal(t, tt.wantCode, string(err.Code))
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, "test-provider", err.Provider)
			assert.Equal(t, tt.status, err.HTTPStatus)
		})
	}
}

// --- BaseProvider.DoRequest ---

func TestBaseProviderDoRequest(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		bp := NewBaseProvider(BaseConfig{
			Name:    "test",
			BaseURL: srv.URL,
			APIKey:  "test-key",
		})

		body, err := bp.DoRequest(context.Background(), "POST", "/embed", map[string]string{"q": "hello"}, map[string]string{
			"Authorization": "Bearer test-key",
		})
		require.NoError(t, err)
		assert.Contains(t, string(body), `"ok":true`)
	})

	t.Run("HTTP error mapped", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid key"}`))
		}))
		defer srv.Close()

		bp := NewBaseProvider(BaseConfig{Name: "test", BaseURL: srv.URL})
		_, err := bp.DoRequest(context.Background(), "POST", "/embed", nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid key")
	})

	t.Run("nil body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		bp := NewBaseProvider(BaseConfig{Name: "test", BaseURL: srv.URL})
		body, err := bp.DoRequest(context.Background(), "GET", "/health", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, `{}`, string(body))
	})
}

// --- BaseProvider.EmbedQuery / EmbedDocuments ---

func TestBaseProviderEmbedQueryAndDocuments(t *testing.T) {
	mockEmbed := func(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
		embeddings := make([]EmbeddingData, len(req.Input))
		for i := range req.Input {
			embeddings[i] = EmbeddingData{Index: i, Embedding: []float64{0.1, 0.2}}
		}
		return &EmbeddingResponse{Embeddings: embeddings}, nil
	}

	bp := NewBaseProvider(BaseConfig{Name: "test", BaseURL: "http://unused"})

	t.Run("EmbedQuery", func(t *testing.T) {
		vec, err := bp.EmbedQuery(context.Background(), "hello", mockEmbed)
		require.NoError(t, err)
		assert.Equal(t, []float64{0.1, 0.2}, vec)
	})

	t.Run("EmbedDocuments", func(t *testing.T) {
		vecs, err := bp.EmbedDocuments(context.Background(), []string{"a", "b"}, mockEmbed)
		require.NoError(t, err)
		assert.Len(t, vecs, 2)
	})

	t.Run("EmbedQuery empty response", func(t *testing.T) {
		emptyEmbed := func(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
			return &EmbeddingResponse{Embeddings: nil}, nil
		}
		_, err := bp.EmbedQuery(context.Background(), "hello", emptyEmbed)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no embeddings")
	})
}

// --- OpenAI Provider ---

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIProvider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p := NewOpenAIProvider(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "text-embedding-3-small",
	})
	return srv, p
}

func TestOpenAIProviderEmbed(t *testing.T) {
	srv, p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "text-embedding-3-small", req.Model)

		json.NewEncoder(w).Encode(openAIEmbedResponse{
			Object: "list",
			Model:  "text-embedding-3-small",
			Data: []struct {
				Object    string    `json:"object"`
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{
				{Object: "embedding", Index: 0, Embedding: []float64{0.1, 0.2, 0.3}},
			},
			Usage: struct {
				PromptTokens int `json:"prompt_tokens"`
				TotalTokens  int `json:"total_tokens"`
			}{PromptTokens: 5, TotalTokens: 5},
		})
	})
	defer srv.Close()

	resp, err := p.Embed(context.Background(), &EmbeddingRequest{
		Input: []string{"hello world"},
	})
	require.NoError(t, err)
	assert.Equal(t, "openai-embedding", resp.Provider)
	assert.Equal(t, "text-embedding-3-small", resp.Model)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, resp.Embeddings[0].Embedding)
	assert.Equal(t, 5, resp.Usage.PromptTokens)
}

func TestOpenAIProviderEmbedQueryAndDocuments(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIEmbedResponse{
			Model: "text-embedding-3-small",
			Data: []struct {
				Object    string    `json:"object"`
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{
				{Index: 0, Embedding: []float64{0.5}},
			},
		})
	}
	srv, p := newOpenAITestServer(t, handler)
	defer srv.Close()

	vec, err := p.EmbedQuery(context.Background(), "test query")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, vec)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"doc1"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
}

func TestOpenAIProviderDefaults(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	assert.Equal(t, "openai-embedding", p.Name())
	assert.Equal(t, 1536, p.Dimensions())
	assert.Equal(t, 2048, p.MaxBatchSize())
}

// --- Default config ---

func TestDefaultOpenAIConfig(t *testing.T) {
	oa := DefaultOpenAIConfig()
	assert.Equal(t, "text-embedding-3-small", oa.Model)
	assert.Equal(t, 1536, oa.Dimensions)
}

// --- Error handling: server down ---

func TestProviderServerDown(t *testing.T) {
	// Use a closed server to simulate connection failure
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Embed(context.Background(), &EmbeddingRequest{Input: []string{"test"}})
	require.Error(t, err)
}

// --- Context cancellation ---

func TestProviderContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 5 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := p.Embed(ctx, &EmbeddingRequest{Input: []string{"test"}})
	require.Error(t, err)
}
