// Package queue is the thin, pure adapter over the shared KV store that
// every durable structure (inbound stream, outbound list, retry sorted
// set, dead-letter lists) goes through. No other package touches these
// keys; internal/convo issues its own list commands for per-sender history.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mobilityone/fleetbridge/internal/kvstore"
)

// Service implements enqueue/dequeue for the inbound stream, outbound
// list, retry sorted set, and both dead-letter lists.
type Service struct {
	store  *kvstore.Store
	logger *zap.Logger
}

// New creates a Service over the given store.
func New(store *kvstore.Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger.With(zap.String("component", "queue"))}
}

// EnsureConsumerGroup creates the inbound stream's consumer group,
// tolerating the "already exists" case.
func (s *Service) EnsureConsumerGroup(ctx context.Context) error {
	err := s.store.Client().XGroupCreateMkStream(ctx, InboundStreamKey, ConsumerGroupName, "0").Err()
	if err != nil && !isGroupExistsErr(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func isGroupExistsErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// EnqueueInbound appends a message to the inbound stream, returning its
// stream entry id.
func (s *Service) EnqueueInbound(ctx context.Context, sender, text, messageID string) (string, error) {
	msg := InboundMessage{Sender: sender, Text: text, MessageID: messageID, Timestamp: time.Now()}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal inbound message: %w", err)
	}
	id, err := s.store.Client().XAdd(ctx, &redis.XAddArgs{
		Stream: InboundStreamKey,
		Values: map[string]any{"payload": data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd inbound: %w", err)
	}
	return id, nil
}

// ReadInbound reads up to count new entries for the given consumer,
// blocking for at most block; block <= 0 does not block.
func (s *Service) ReadInbound(ctx context.Context, consumerID string, count int64, block time.Duration) ([]InboundEntry, error) {
	if block <= 0 {
		// go-redis sends BLOCK 0 (wait indefinitely) for a zero duration
		// and omits BLOCK for a negative one.
		block = -1
	}
	streams, err := s.store.Client().XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroupName,
		Consumer: consumerID,
		Streams:  []string{InboundStreamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var entries []InboundEntry
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["payload"].(string)
			if !ok {
				s.logger.Warn("inbound entry missing payload field", zap.String("id", msg.ID))
				continue
			}
			var decoded InboundMessage
			if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
				s.logger.Warn("inbound entry payload malformed", zap.String("id", msg.ID), zap.Error(err))
				continue
			}
			entries = append(entries, InboundEntry{StreamID: msg.ID, Message: decoded})
		}
	}
	return entries, nil
}

// AckAndDelete acknowledges and removes a stream entry so the consumer
// group does not stall on it and it does not linger in the stream.
func (s *Service) AckAndDelete(ctx context.Context, streamID string) error {
	pipe := s.store.Client().TxPipeline()
	pipe.XAck(ctx, InboundStreamKey, ConsumerGroupName, streamID)
	pipe.XDel(ctx, InboundStreamKey, streamID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("ack+del inbound entry %s: %w", streamID, err)
	}
	return nil
}

// EnqueueOutbound right-pushes a reply onto the outbound list, generating
// a correlation id if absent.
func (s *Service) EnqueueOutbound(ctx context.Context, to, text, cid string, attempts int) error {
	if cid == "" {
		cid = uuid.NewString()
	}
	msg := OutboundMessage{To: to, Text: text, CID: cid, Attempts: attempts}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	if err := s.store.Client().RPush(ctx, OutboundListKey, data).Err(); err != nil {
		return fmt.Errorf("rpush outbound: %w", err)
	}
	return nil
}

// PopOutbound blocks up to timeout for an outbound message.
func (s *Service) PopOutbound(ctx context.Context, timeout time.Duration) (*OutboundMessage, error) {
	res, err := s.store.Client().BLPop(ctx, timeout, OutboundListKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blpop outbound: %w", err)
	}
	// res[0] is the key name, res[1] is the value.
	var msg OutboundMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal outbound message: %w", err)
	}
	return &msg, nil
}

// ScheduleRetry increments attempts and either routes the message to the
// outbound DLQ (attempts reaches MaxOutboundRetries) or schedules it in
// the retry sorted set with an exponential back-off score.
func (s *Service) ScheduleRetry(ctx context.Context, msg OutboundMessage) error {
	msg.Attempts++

	if msg.Attempts >= MaxOutboundRetries {
		return s.StoreOutboundDLQ(ctx, msg, "max_retries")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal retry message: %w", err)
	}

	delay := time.Duration(math.Pow(2, float64(msg.Attempts))) * time.Second
	score := float64(time.Now().Add(delay).Unix())

	if err := s.store.Client().ZAdd(ctx, RetryZSetKey, redis.Z{Score: score, Member: data}).Err(); err != nil {
		return fmt.Errorf("zadd retry: %w", err)
	}
	return nil
}

// PopDueRetry atomically removes and returns at most one retry-set
// member whose score has elapsed, or nil if none are due.
func (s *Service) PopDueRetry(ctx context.Context, now time.Time) (*OutboundMessage, error) {
	members, err := popDueScript.Run(ctx, s.store.Client(), []string{RetryZSetKey}, float64(now.Unix())).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("pop due retry: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	var msg OutboundMessage
	if err := json.Unmarshal([]byte(members[0]), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal retry message: %w", err)
	}
	return &msg, nil
}

// popDueScript atomically finds and removes the single lowest-score
// member at or before ARGV[1], returning it (or an empty array).
var popDueScript = redis.NewScript(`
local members = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #members == 0 then
	return {}
end
redis.call("ZREM", KEYS[1], members[1])
return members
`)

// StoreInboundDLQ pushes the original inbound payload plus an error
// reason onto the inbound dead-letter list.
func (s *Service) StoreInboundDLQ(ctx context.Context, payload InboundMessage, reason string) error {
	return s.pushDLQ(ctx, InboundDLQKey, payload, reason)
}

// StoreOutboundDLQ pushes an outbound payload that exhausted retries (or
// failed terminally) onto the outbound dead-letter list.
func (s *Service) StoreOutboundDLQ(ctx context.Context, payload OutboundMessage, reason string) error {
	return s.pushDLQ(ctx, OutboundDLQKey, payload, reason)
}

func (s *Service) pushDLQ(ctx context.Context, key string, payload any, reason string) error {
	entry := DeadLetterEntry{Payload: payload, Error: reason, FailedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	if err := s.store.Client().RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("rpush dlq %s: %w", key, err)
	}
	return nil
}
