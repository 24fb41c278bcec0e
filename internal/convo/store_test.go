package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mobilityone/fleetbridge/internal/kvstore"
	"github.com/mobilityone/fleetbridge/llm"
	"github.com/mobilityone/fleetbridge/llm/tokenizer"
	"github.com/mobilityone/fleetbridge/types"
)

// fakeSummarizer is a minimal llm.Provider stub used to test compaction
// without a network dependency.
type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: types.NewAssistantMessage(f.summary)}},
	}, nil
}

func (f *fakeSummarizer) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, fmt.Errorf("not implemented")
}
func (f *fakeSummarizer) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (f *fakeSummarizer) Name() string                        { return "fake" }
func (f *fakeSummarizer) SupportsNativeFunctionCalling() bool { return false }
func (f *fakeSummarizer) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }

func newTestStore(t *testing.T, summarizer llm.Provider, devMode bool) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := kvstore.NewFromClient(client, zap.NewNop())
	return New(kv, zap.NewNop(), summarizer, "gpt-4o-mini", devMode)
}

func TestAppendAndGet(t *testing.T) {
	s := newTestStore(t, nil, false)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "38591", types.NewUserMessage("Gdje je ZG-1234?")))
	require.NoError(t, s.Append(ctx, "38591", types.NewAssistantMessage("U Zagrebu.")))

	history, err := s.Get(ctx, "38591")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Gdje je ZG-1234?", history[0].Content)
	assert.Equal(t, "U Zagrebu.", history[1].Content)
}

func TestAppendOversizedContentReplacedWithPreview(t *testing.T) {
	s := newTestStore(t, nil, false)
	ctx := context.Background()

	big := strings.Repeat("x", MaxContentSize+1)
	require.NoError(t, s.Append(ctx, "38591", types.NewUserMessage(big)))

	history, err := s.Get(ctx, "38591")
	require.NoError(t, err)
	require.Len(t, history, 1)

	var env previewEnvelope
	require.NoError(t, json.Unmarshal([]byte(history[0].Content), &env))
	assert.Len(t, env.Preview, 1000)
	assert.NotEmpty(t, env.SystemNote)
}

func TestAppendOversizedContentCachedInDevelopment(t *testing.T) {
	s := newTestStore(t, nil, true)
	ctx := context.Background()

	big := strings.Repeat("y", MaxContentSize+1)
	require.NoError(t, s.Append(ctx, "38591", types.NewUserMessage(big)))

	keys, err := s.kv.Client().Keys(ctx, "debug:ctx:38591:*").Result()
	require.NoError(t, err)
	require.Len(t, keys, 1)

	cached, err := s.kv.Get(ctx, keys[0])
	require.NoError(t, err)
	assert.Contains(t, cached, "y")
}

func TestBudgetStaysUnderLimitWithSummary(t *testing.T) {
	summarizer := &fakeSummarizer{summary: "Korisnik je pitao za status vozila ZG-1234."}
	s := newTestStore(t, summarizer, false)
	ctx := context.Background()

	body := strings.Repeat("riječ ", 100) // ~ a few hundred tokens per message
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Append(ctx, "38591", types.NewUserMessage(body)))
		require.NoError(t, s.Append(ctx, "38591", types.NewAssistantMessage(body)))
	}
	require.NoError(t, s.Append(ctx, "38591", types.NewUserMessage("posljednja poruka")))

	history, err := s.Get(ctx, "38591")
	require.NoError(t, err)
	require.NotEmpty(t, history)

	tok := tokenizer.GetTokenizerOrEstimator(s.model)
	total, err := countTokens(tok, history)
	require.NoError(t, err)
	assert.LessOrEqual(t, total, MaxTokens)

	assert.Equal(t, types.RoleSystem, history[0].Role)
	assert.True(t, strings.HasPrefix(history[0].Content, SummaryPrefix))

	last := history[len(history)-1]
	assert.Equal(t, "posljednja poruka", last.Content)
	assert.Greater(t, summarizer.calls, 0)
}

func TestBudgetFallsBackToTrimWhenSummarizerFails(t *testing.T) {
	summarizer := &fakeSummarizer{err: fmt.Errorf("upstream unavailable")}
	s := newTestStore(t, summarizer, false)
	ctx := context.Background()

	body := strings.Repeat("word ", 100)
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Append(ctx, "38591", types.NewUserMessage(body)))
		require.NoError(t, s.Append(ctx, "38591", types.NewAssistantMessage(body)))
	}

	history, err := s.Get(ctx, "38591")
	require.NoError(t, err)

	for _, m := range history {
		assert.False(t, strings.HasPrefix(m.Content, SummaryPrefix))
	}
}

func TestIndivisibleCaseDropsOldestOnly(t *testing.T) {
	s := newTestStore(t, nil, false)
	ctx := context.Background()

	// Over MaxTokens on its own, but under MaxContentSize so the content
	// guard leaves it intact.
	huge := strings.Repeat("a ", (MaxContentSize-1000)/2)
	require.NoError(t, s.Append(ctx, "38591", types.NewUserMessage(huge)))
	require.NoError(t, s.Append(ctx, "38591", types.NewUserMessage("short")))

	history, err := s.Get(ctx, "38591")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "short", history[0].Content)
}
