package agentloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mobilityone/fleetbridge/internal/ctxkeys"
	"github.com/mobilityone/fleetbridge/llm"
	"github.com/mobilityone/fleetbridge/types"
)

// decision is the normalized outcome of one LLM turn: either a single tool
// call to execute, or final response text to send back to the user.
type decision struct {
	ToolCall     *decisionToolCall
	ResponseText string
}

type decisionToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// decide assembles the prompt and invokes the LLM, retrying once on
// malformed tool-call arguments (total attempts bounded by
// MaxDecisionAttempts).
func (l *Loop) decide(ctx context.Context, history []types.Message, userText string, tools []llm.ToolSchema, identityInstruction string) (*decision, error) {
	model := l.model
	if override, ok := ctxkeys.LLMModel(ctx); ok {
		model = override
	}

	var lastErr error
	for attempt := 0; attempt < MaxDecisionAttempts; attempt++ {
		messages := buildMessages(history, userText, identityInstruction)

		req := &llm.ChatRequest{
			Model:       model,
			Messages:    messages,
			Temperature: 0,
		}
		if len(tools) > 0 {
			req.Tools = tools
			req.ToolChoice = "auto"
		}

		resp, err := l.llmClient.Completion(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("llm returned no choices")
			continue
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return &decision{ResponseText: msg.Content}, nil
		}

		call := msg.ToolCalls[0]
		var probe any
		if err := json.Unmarshal(call.Arguments, &probe); err != nil {
			lastErr = fmt.Errorf("malformed tool call arguments: %w", err)
			continue
		}

		return &decision{
			ToolCall: &decisionToolCall{
				ID:        call.ID,
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		}, nil
	}
	return nil, lastErr
}

// sanitizedRoles restricts history replay to roles the LLM API accepts.
var sanitizedRoles = map[types.Role]struct{}{
	types.RoleSystem:    {},
	types.RoleUser:      {},
	types.RoleAssistant: {},
	types.RoleTool:      {},
}

// buildMessages assembles [system-prompt, identity-instruction?, *history, user?],
// sanitizing history to known roles and fields only.
func buildMessages(history []types.Message, userText, identityInstruction string) []types.Message {
	messages := make([]types.Message, 0, len(history)+3)
	messages = append(messages, types.NewSystemMessage(systemPrompt))
	if identityInstruction != "" {
		messages = append(messages, types.NewSystemMessage(identityInstruction))
	}
	for _, msg := range history {
		if _, ok := sanitizedRoles[msg.Role]; !ok {
			continue
		}
		messages = append(messages, sanitize(msg))
	}
	if userText != "" {
		messages = append(messages, types.NewUserMessage(userText))
	}
	return messages
}

// sanitize keeps only the fields the LLM API accepts for replayed history.
func sanitize(msg types.Message) types.Message {
	return types.Message{
		Role:       msg.Role,
		Content:    msg.Content,
		Name:       msg.Name,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
	}
}
