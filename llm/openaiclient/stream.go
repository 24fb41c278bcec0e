package openaiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mobilityone/fleetbridge/llm"
)

type chatStreamChunkWire struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Delta        chatMessage `json:"delta"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Stream sends a streaming chat request and returns a channel of deltas,
// decoding the upstream's "data: {...}" SSE framing until a "data: [DONE]"
// sentinel or a closed body.
func (c *Client) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	temp := req.Temperature
	wireReq := chatCompletionRequest{
		Model:       c.chooseModel(req.Model),
		Messages:    toWireMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: &temp,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       toWireTools(req.Tools),
		ToolChoice:  req.ToolChoice,
		Stream:      true,
	}

	data, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal openai stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build openai stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: c.Name()}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, mapHTTPError(resp.StatusCode, string(body), c.Name())
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}

			var chunk chatStreamChunkWire
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				select {
				case out <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Provider: c.Name()}}:
				case <-ctx.Done():
				}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			select {
			case out <- llm.StreamChunk{
				ID:           chunk.ID,
				Provider:     c.Name(),
				Model:        chunk.Model,
				Index:        choice.Index,
				Delta:        fromWireMessage(choice.Delta),
				FinishReason: choice.FinishReason,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
