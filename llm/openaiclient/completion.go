package openaiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mobilityone/fleetbridge/llm"
)

// Completion sends a synchronous chat completion request.
func (c *Client) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
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
	}

	respBody, err := c.do(ctx, "POST", "/v1/chat/completions", wireReq)
	if err != nil {
		return nil, err
	}

	var wireResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, fmt.Errorf("unmarshal chat completion response: %w", err)
	}

	choices := make([]llm.ChatChoice, len(wireResp.Choices))
	for i, ch := range wireResp.Choices {
		choices[i] = llm.ChatChoice{
			Index:        ch.Index,
			FinishReason: ch.FinishReason,
			Message:      fromWireMessage(ch.Message),
		}
	}

	return &llm.ChatResponse{
		ID:       wireResp.ID,
		Provider: c.Name(),
		Model:    wireResp.Model,
		Choices:  choices,
		Usage: llm.ChatUsage{
			PromptTokens:     wireResp.Usage.PromptTokens,
			CompletionTokens: wireResp.Usage.CompletionTokens,
			TotalTokens:      wireResp.Usage.TotalTokens,
		},
		CreatedAt: time.Now(),
	}, nil
}
