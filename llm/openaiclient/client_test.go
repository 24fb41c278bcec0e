package openaiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobilityone/fleetbridge/llm"
	"github.com/mobilityone/fleetbridge/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	return srv, c
}

func TestCompletionSendsTemperatureAndMessages(t *testing.T) {
	var captured chatCompletionRequest
	srv, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(chatCompletionResponse{
			ID:    "resp-1",
			Model: "gpt-4o-mini",
			Choices: []chatChoiceWire{
				{Index: 0, FinishReason: "stop", Message: chatMessage{Role: "assistant", Content: "hello back"}},
			},
			Usage: chatUsageWire{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
		})
	})
	defer srv.Close()

	resp, err := c.Completion(context.Background(), &llm.ChatRequest{
		Messages:    []types.Message{types.NewUserMessage("hi")},
		Temperature: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", captured.Model)
	require.NotNil(t, captured.Temperature)
	assert.Equal(t, float32(0), *captured.Temperature)

	assert.Equal(t, "openai", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello back", resp.Choices[0].Message.Content)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
}

func TestCompletionEncodesToolCallRequestAndResponse(t *testing.T) {
	srv, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var captured chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.Len(t, captured.Tools, 1)
		assert.Equal(t, "get_weather", captured.Tools[0].Function.Name)

		json.NewEncoder(w).Encode(chatCompletionResponse{
			ID:    "resp-2",
			Model: "gpt-4o-mini",
			Choices: []chatChoiceWire{{
				Index: 0,
				Message: chatMessage{
					Role: "assistant",
					ToolCalls: []chatToolCall{{
						ID:   "call-1",
						Type: "function",
						Function: chatToolCallFunc{
							Name:      "get_weather",
							Arguments: `{"city":"Zagreb"}`,
						},
					}},
				},
			}},
		})
	})
	defer srv.Close()

	resp, err := c.Completion(context.Background(), &llm.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("weather?")},
		Tools: []types.ToolSchema{{
			Name:        "get_weather",
			Description: "look up weather",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
		ToolChoice: "auto",
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	call := resp.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "get_weather", call.Name)
	assert.JSONEq(t, `{"city":"Zagreb"}`, string(call.Arguments))
}

func TestCompletionMapsUpstreamError(t *testing.T) {
	srv, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	})
	defer srv.Close()

	_, err := c.Completion(context.Background(), &llm.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.Error(t, err)
	llmErr, ok := err.(*llm.Error)
	require.True(t, ok)
	assert.Equal(t, llm.ErrRateLimited, llmErr.Code)
	assert.True(t, llmErr.Retryable)
}

func TestHealthCheckReportsLatencyOnSuccess(t *testing.T) {
	srv, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		json.NewEncoder(w).Encode(modelListResponse{Data: []modelWire{{ID: "gpt-4o-mini"}}})
	})
	defer srv.Close()

	status, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestHealthCheckReportsUnhealthyOnError(t *testing.T) {
	srv, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	status, err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}

func TestListModels(t *testing.T) {
	srv, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(modelListResponse{Data: []modelWire{
			{ID: "gpt-4o-mini", Object: "model", OwnedBy: "openai"},
		}})
	})
	defer srv.Close()

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-4o-mini", models[0].ID)
}

func TestStreamYieldsDeltasAndStopsAtDone(t *testing.T) {
	srv, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		w.Write([]byte(`data: {"id":"c1","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}` + "\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		w.Write([]byte(`data: {"id":"c1","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}` + "\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		w.Write([]byte("data: [DONE]\n\n"))
	})
	defer srv.Close()

	ch, err := c.Stream(context.Background(), &llm.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	var chunks []llm.StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hel", chunks[0].Delta.Content)
	assert.Equal(t, "lo", chunks[1].Delta.Content)
	assert.Equal(t, "stop", chunks[1].FinishReason)
}

func TestNameAndCapabilities(t *testing.T) {
	c := New(Config{APIKey: "k"})
	assert.Equal(t, "openai", c.Name())
	assert.True(t, c.SupportsNativeFunctionCalling())
}

func TestConnectionFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second})
	_, err := c.Completion(context.Background(), &llm.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.Error(t, err)
	llmErr, ok := err.(*llm.Error)
	require.True(t, ok)
	assert.True(t, llmErr.Retryable)
}
