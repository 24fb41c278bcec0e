// Package agentloop implements the bounded plan/act/observe turn handler:
// it assembles LLM prompts from conversation history, lets the model pick
// at most one tool per step, dispatches that tool through the gateway, and
// feeds the observation back for up to MaxSteps iterations before giving up.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mobilityone/fleetbridge/internal/convo"
	"github.com/mobilityone/fleetbridge/internal/ctxkeys"
	"github.com/mobilityone/fleetbridge/internal/gateway"
	"github.com/mobilityone/fleetbridge/internal/identity"
	"github.com/mobilityone/fleetbridge/internal/registry"
	"github.com/mobilityone/fleetbridge/llm"
	"github.com/mobilityone/fleetbridge/types"
)

const (
	// MaxSteps bounds the plan/act/observe loop per inbound turn.
	MaxSteps = 3

	// MaxDecisionAttempts bounds re-invocation of the LLM when it returns
	// tool-call arguments that fail to parse as JSON.
	MaxDecisionAttempts = 2

	// TooComplexReply is sent when the loop exhausts MaxSteps without the
	// model producing a final answer.
	TooComplexReply = "Request too complex; please simplify."

	// FallbackReply is sent when the LLM cannot produce a usable decision
	// after MaxDecisionAttempts.
	FallbackReply = "I couldn't process that request, please try rephrasing it."

	defaultTopK = 3
)

var confirmationTokens = map[string]struct{}{
	"da":      {},
	"potvrdi": {},
	"yes":     {},
	"confirm": {},
}

// IsConfirmation reports whether text is a recognized confirmation token
// for a previously-announced mutating action.
func IsConfirmation(text string) bool {
	_, ok := confirmationTokens[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// isMutating reports whether an HTTP method changes state upstream and so
// requires a confirmation token before the gateway dispatches it.
func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	default:
		return false
	}
}

const systemPrompt = `You are the MobilityOne Fleet AI assistant, reachable over WhatsApp.
Use the available tools to answer fleet, shipment, and driver questions precisely.
Read-only operations (GET) may be invoked immediately. Any operation that mutates
state (POST, PUT, DELETE) must first be announced in plain language to the user and
must NOT be invoked until the user confirms in a subsequent message with one of:
da, potvrdi, yes, confirm. Never invent data that a tool would return.`

// Loop runs the bounded plan/act/observe turn handler.
type Loop struct {
	convoStore *convo.Store
	registry   *registry.Registry
	gateway    *gateway.Gateway
	llmClient  llm.Provider
	model      string
	logger     *zap.Logger
}

// New constructs a Loop from its collaborators.
func New(convoStore *convo.Store, reg *registry.Registry, gw *gateway.Gateway, llmClient llm.Provider, model string, logger *zap.Logger) *Loop {
	return &Loop{
		convoStore: convoStore,
		registry:   reg,
		gateway:    gw,
		llmClient:  llmClient,
		model:      model,
		logger:     logger.With(zap.String("component", "agentloop")),
	}
}

// Run executes one bounded turn for sender given userText, returning the
// text that should be sent back over chat. It appends every intermediate
// message (user, assistant, tool) to the conversation store as it goes.
func (l *Loop) Run(ctx context.Context, sender, userText string, mapping *identity.UserMapping) (string, error) {
	ctx = ctxkeys.WithRunID(ctx, uuid.NewString())
	if traceID, ok := ctxkeys.TraceID(ctx); ok {
		l.logger.Debug("run started", zap.String("trace_id", traceID))
	}

	if err := l.convoStore.Append(ctx, sender, types.NewUserMessage(userText)); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}

	identityInstruction := identityDirective(mapping)
	searchQuery := userText
	// The user turn is already the tail of history (appended above), so it
	// is not passed again as a separate prompt message; only tool-result
	// turns need that treatment, handled below via currentUserText staying
	// empty for the remainder of the loop.
	currentUserText := ""

	for step := 0; step < MaxSteps; step++ {
		history, err := l.convoStore.Get(ctx, sender)
		if err != nil {
			return "", fmt.Errorf("load history: %w", err)
		}

		tools, err := l.registry.FindRelevantTools(ctx, searchQuery, defaultTopK)
		if err != nil {
			l.logger.Warn("tool search failed, continuing without tools", zap.Error(err))
			tools = nil
		}

		decision, err := l.decide(ctx, history, currentUserText, tools, identityInstruction)
		if err != nil {
			l.logger.Warn("llm decision failed", zap.Error(err))
			reply := FallbackReply
			if appendErr := l.convoStore.Append(ctx, sender, types.NewAssistantMessage(reply)); appendErr != nil {
				l.logger.Warn("append fallback reply failed", zap.Error(appendErr))
			}
			return reply, nil
		}

		if decision.ToolCall == nil {
			if err := l.convoStore.Append(ctx, sender, types.NewAssistantMessage(decision.ResponseText)); err != nil {
				return "", fmt.Errorf("append assistant reply: %w", err)
			}
			return decision.ResponseText, nil
		}

		assistantMsg := types.Message{
			Role: types.RoleAssistant,
			ToolCalls: []types.ToolCall{{
				ID:        decision.ToolCall.ID,
				Name:      decision.ToolCall.Name,
				Arguments: decision.ToolCall.Arguments,
			}},
		}
		if err := l.convoStore.Append(ctx, sender, assistantMsg); err != nil {
			return "", fmt.Errorf("append assistant tool call: %w", err)
		}

		def, ok := l.registry.Get(decision.ToolCall.Name)
		var resultPayload string
		switch {
		case !ok:
			resultPayload = fmt.Sprintf(`{"error":true,"message":"unknown tool %s"}`, decision.ToolCall.Name)
		case isMutating(def.Method) && !IsConfirmation(userText):
			// The model is not allowed to take the system prompt's word for
			// it: a mutating call only goes through once the user's own
			// message for this turn is a recognized confirmation token.
			l.logger.Info("blocked mutating tool call pending user confirmation",
				zap.String("tool", decision.ToolCall.Name), zap.String("method", def.Method))
			resultPayload = `{"error":true,"message":"this action requires user confirmation before it can run"}`
		default:
			var args map[string]any
			if err := json.Unmarshal(decision.ToolCall.Arguments, &args); err != nil {
				args = map[string]any{}
			}
			applyIdentity(args, mapping)
			result := l.gateway.Invoke(ctx, def, args)
			data, err := json.Marshal(result)
			if err != nil {
				resultPayload = `{"error":true,"message":"internal"}`
			} else {
				resultPayload = string(data)
			}
		}

		toolMsg := types.NewToolMessage(decision.ToolCall.ID, decision.ToolCall.Name, resultPayload)
		if err := l.convoStore.Append(ctx, sender, toolMsg); err != nil {
			return "", fmt.Errorf("append tool result: %w", err)
		}

		currentUserText = ""
	}

	reply := TooComplexReply
	if err := l.convoStore.Append(ctx, sender, types.NewAssistantMessage(reply)); err != nil {
		l.logger.Warn("append too-complex reply failed", zap.Error(err))
	}
	return reply, nil
}

// identityDirective builds the system instruction injected so the model
// binds the caller's identity into every generated tool call instead of
// prompting the user for it.
func identityDirective(mapping *identity.UserMapping) string {
	if mapping == nil {
		return ""
	}
	id := resolveIdentity(mapping)
	return fmt.Sprintf("The authenticated user's internal identifier is %q. Populate the 'User' (or 'email') "+
		"parameter of every tool call with this value; never ask the user to supply it.", id)
}

// resolveIdentity falls back from APIIdentity to DisplayName to a
// synthesized placeholder so identity binding never blocks a turn.
func resolveIdentity(mapping *identity.UserMapping) string {
	if mapping.APIIdentity != "" {
		return mapping.APIIdentity
	}
	if mapping.DisplayName != "" {
		return mapping.DisplayName
	}
	return "unknown-" + mapping.Phone
}

// applyIdentity injects the resolved identity into the tool call argument
// bag under whichever of "User"/"email" the tool already declares, or
// "User" if neither is present.
func applyIdentity(args map[string]any, mapping *identity.UserMapping) {
	if mapping == nil {
		return
	}
	id := resolveIdentity(mapping)
	if _, ok := args["email"]; ok {
		args["email"] = id
		return
	}
	args["User"] = id
}
