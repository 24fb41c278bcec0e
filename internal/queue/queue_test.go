package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mobilityone/fleetbridge/internal/kvstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(kvstore.NewFromClient(client, zap.NewNop()), zap.NewNop())
}

func TestEnsureConsumerGroupIdempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureConsumerGroup(ctx))
	require.NoError(t, s.EnsureConsumerGroup(ctx))
}

func TestEnqueueAndReadInbound(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureConsumerGroup(ctx))

	id, err := s.EnqueueInbound(ctx, "38591", "Gdje je ZG-1234?", "m1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := s.ReadInbound(ctx, "host:aaaaaaaa", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "38591", entries[0].Message.Sender)
	assert.Equal(t, "m1", entries[0].Message.MessageID)

	require.NoError(t, s.AckAndDelete(ctx, entries[0].StreamID))
}

func TestEnqueuePopOutbound(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueOutbound(ctx, "38591", "hello", "", 0))

	msg, err := s.PopOutbound(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "38591", msg.To)
	assert.NotEmpty(t, msg.CID)
}

func TestPopOutboundEmptyReturnsNil(t *testing.T) {
	s := newTestService(t)
	msg, err := s.PopOutbound(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestScheduleRetryProgression(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	msg := OutboundMessage{To: "38591", Text: "ok", CID: "c", Attempts: 0}
	for want := 1; want <= 4; want++ {
		require.NoError(t, s.ScheduleRetry(ctx, msg))
		due, err := s.PopDueRetry(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, due)
		assert.Equal(t, want, due.Attempts)
		msg = *due
	}
}

func TestScheduleRetryRoutesToDLQAtMax(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	msg := OutboundMessage{To: "38591", Text: "ok", CID: "c", Attempts: 4}
	require.NoError(t, s.ScheduleRetry(ctx, msg))

	due, err := s.PopDueRetry(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, due, "attempts reaching max should route to DLQ, not the retry set")

	length, err := s.store.Client().LLen(ctx, OutboundDLQKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestPopDueRetryNotYetDue(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.ScheduleRetry(ctx, OutboundMessage{To: "x", Text: "y", Attempts: 0}))

	due, err := s.PopDueRetry(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, due)
}

func TestStoreInboundDLQ(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.StoreInboundDLQ(ctx, InboundMessage{Sender: "x", MessageID: "m"}, "boom"))

	length, err := s.store.Client().LLen(ctx, InboundDLQKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}
