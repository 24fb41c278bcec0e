// Package ctxkeys defines the well-known context.Context keys threaded
// through a single message's processing: its trace id for log
// correlation, the agent loop run id, the OpenAPI spec version active
// when the run started, and an optional per-request model override.
package ctxkeys

import "context"

type contextKey string

const (
	traceIDKey      contextKey = "trace_id"
	runIDKey        contextKey = "run_id"
	toolSpecVersion contextKey = "tool_spec_version"
	llmModelKey     contextKey = "llm_model"
)

// WithTraceID attaches a trace id for log correlation across a message's
// inbound/loop/outbound path.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the trace id set by WithTraceID, if any.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRunID attaches the agent loop run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID returns the run id set by WithRunID, if any.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithToolSpecVersion attaches the content hash of the OpenAPI spec the
// tool registry had loaded when the run started, so a log line can be
// correlated to the exact tool set a decision was made against.
func WithToolSpecVersion(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, toolSpecVersion, version)
}

// ToolSpecVersion returns the version set by WithToolSpecVersion, if any.
func ToolSpecVersion(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(toolSpecVersion).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithLLMModel overrides the default chat model for this context.
func WithLLMModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, llmModelKey, model)
}

// LLMModel returns the model override set by WithLLMModel, if any.
func LLMModel(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(llmModelKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
