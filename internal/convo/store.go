// Package convo implements the per-sender conversation history kept in the
// shared KV store: an ordered message list with a rolling TTL, an oversized
// content guard, and token-budget enforcement that summarizes the oldest
// portion of the history once it would no longer fit the model's context.
package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mobilityone/fleetbridge/internal/kvstore"
	"github.com/mobilityone/fleetbridge/llm"
	"github.com/mobilityone/fleetbridge/types"
)

const (
	// MaxContentSize is the serialized-message size above which the input
	// guard replaces content with a preview envelope.
	MaxContentSize = 15 * 1024

	// TTL is how long a sender's history survives without a new write.
	TTL = 4 * time.Hour

	// MaxTokens is the hard budget a history must fit under after every write.
	MaxTokens = 2500

	// TargetTokens is the budget the kept tail is trimmed back to when
	// MaxTokens is exceeded.
	TargetTokens = 1500

	// DebugPreviewTTL is how long an oversized message's original content
	// survives in the development debug cache.
	DebugPreviewTTL = 1 * time.Hour

	// SummaryPrefix opens the system message left in place of the
	// summarized portion of history. The trailing space is intentional.
	SummaryPrefix = "SAŽETAK RANIJEG RAZGOVORA: "

	maxEnforceIterations = 5
)

// previewEnvelope replaces the content of an oversized message.
type previewEnvelope struct {
	SystemNote string `json:"system_note"`
	Preview    string `json:"preview"`
}

// Store is the per-sender conversation history.
type Store struct {
	kv         *kvstore.Store
	logger     *zap.Logger
	summarizer llm.Provider
	model      string
	devMode    bool
}

// New creates a Store. summarizer may be nil; when it is, budget
// enforcement falls back directly to trimming without a summary.
func New(kv *kvstore.Store, logger *zap.Logger, summarizer llm.Provider, model string, devMode bool) *Store {
	return &Store{
		kv:         kv,
		logger:     logger.With(zap.String("component", "convo")),
		summarizer: summarizer,
		model:      model,
		devMode:    devMode,
	}
}

func contextKey(sender string) string {
	return "ctx:" + sender
}

func debugKey(sender string, ts int64) string {
	return fmt.Sprintf("debug:ctx:%s:%d", sender, ts)
}

// Append appends a message to sender's history, applying the oversized
// content guard, refreshing the TTL, and enforcing the token budget.
func (s *Store) Append(ctx context.Context, sender string, msg types.Message) error {
	msg = s.guardContent(ctx, sender, msg)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := contextKey(sender)
	pipe := s.kv.Client().TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history for %s: %w", sender, err)
	}

	return s.enforceBudget(ctx, sender)
}

// guardContent replaces oversized message content with a preview envelope,
// optionally stashing the original under a short-lived debug key first.
func (s *Store) guardContent(ctx context.Context, sender string, msg types.Message) types.Message {
	data, err := json.Marshal(msg)
	if err != nil || len(data) <= MaxContentSize {
		return msg
	}

	if s.devMode {
		key := debugKey(sender, time.Now().UnixNano())
		if err := s.kv.Set(ctx, key, string(data), DebugPreviewTTL); err != nil {
			s.logger.Warn("failed to cache oversized content for debugging", zap.Error(err))
		}
	}

	preview := msg.Content
	if len(preview) > 1000 {
		preview = preview[:1000]
	}
	envelope := previewEnvelope{
		SystemNote: "content exceeded the size guard and was replaced with a preview",
		Preview:    preview,
	}
	envJSON, _ := json.Marshal(envelope)
	msg.Content = string(envJSON)
	return msg
}

// Get returns sender's full history in order.
func (s *Store) Get(ctx context.Context, sender string) ([]types.Message, error) {
	raw, err := s.kv.Client().LRange(ctx, contextKey(sender), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", sender, err)
	}
	msgs := make([]types.Message, 0, len(raw))
	for _, item := range raw {
		var m types.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			s.logger.Warn("dropping malformed history entry", zap.String("sender", sender), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
