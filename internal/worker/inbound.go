package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mobilityone/fleetbridge/internal/agentloop"
	"github.com/mobilityone/fleetbridge/internal/ctxkeys"
	"github.com/mobilityone/fleetbridge/internal/identity"
	"github.com/mobilityone/fleetbridge/internal/lock"
	"github.com/mobilityone/fleetbridge/internal/queue"
)

// processInboundBatch reads up to InboundBatchSize new stream entries and
// scatters them across the goroutine pool as independent tasks, gathering
// before returning.
func (w *Worker) processInboundBatch(ctx context.Context) {
	entries, err := w.queue.ReadInbound(ctx, w.consumerID, InboundBatchSize, 0)
	if err != nil {
		w.logger.Warn("read inbound batch failed", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, entry := range entries {
		entry := entry
		wg.Add(1)
		submitErr := w.pool.Submit(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			w.handleInbound(taskCtx, entry)
			return nil
		})
		if submitErr != nil {
			w.logger.Warn("inbound task rejected by pool, handling inline",
				zap.String("stream_id", entry.StreamID), zap.Error(submitErr))
			wg.Done()
			w.handleInbound(ctx, entry)
		}
	}
	wg.Wait()
}

// handleInbound processes a single inbound entry end to end: acquire the
// per-message lock, enforce the rate limit, run the agent loop, and
// always ACK+DEL or DLQ-route before releasing the lock.
func (w *Worker) handleInbound(ctx context.Context, entry queue.InboundEntry) {
	msg := entry.Message
	ctx = ctxkeys.WithTraceID(ctx, msg.MessageID)

	handle, err := lock.Acquire(ctx, w.locker, lock.MessageLockKey(msg.MessageID), MessageLockTTL)
	if err != nil {
		w.logger.Warn("lock acquire failed", zap.String("message_id", msg.MessageID), zap.Error(err))
		return
	}
	if handle == nil {
		// Another worker already holds this message id's lock, so this
		// entry is a duplicate delivery: acknowledge it and leave the
		// processing to the lock holder.
		w.ackOrWarn(ctx, entry.StreamID)
		return
	}
	defer func() {
		if releaseErr := handle.Release(ctx, w.locker); releaseErr != nil {
			w.logger.Warn("lock release failed", zap.String("message_id", msg.MessageID), zap.Error(releaseErr))
		}
	}()

	allowed, err := w.limiter.Allow(ctx, msg.Sender)
	if err != nil {
		w.logger.Warn("rate limit check failed", zap.String("sender", msg.Sender), zap.Error(err))
	} else if !allowed {
		w.ackOrWarn(ctx, entry.StreamID)
		w.recordMessage("inbound", "rate_limited")
		return
	}

	mapping, err := w.lookupIdentity(ctx, msg.Sender)
	if err != nil {
		w.logger.Warn("identity lookup failed, continuing unauthenticated", zap.String("sender", msg.Sender), zap.Error(err))
	}

	start := time.Now()
	reply, runErr := w.loop.Run(ctx, msg.Sender, msg.Text, mapping)
	w.observeProcessing(runErr, reply, time.Since(start))

	if runErr != nil {
		w.logger.Error("agent loop failed", zap.String("message_id", msg.MessageID), zap.Error(runErr))
		if dlqErr := w.queue.StoreInboundDLQ(ctx, msg, runErr.Error()); dlqErr != nil {
			w.logger.Error("inbound dlq store failed", zap.String("message_id", msg.MessageID), zap.Error(dlqErr))
		}
		w.ackOrWarn(ctx, entry.StreamID)
		w.recordMessage("inbound", "error")
		return
	}

	if err := w.queue.EnqueueOutbound(ctx, msg.Sender, reply, "", 0); err != nil {
		w.logger.Error("enqueue outbound reply failed", zap.String("message_id", msg.MessageID), zap.Error(err))
	}

	w.ackOrWarn(ctx, entry.StreamID)
	w.recordMessage("inbound", "ok")
}

func (w *Worker) ackOrWarn(ctx context.Context, streamID string) {
	if err := w.queue.AckAndDelete(ctx, streamID); err != nil {
		w.logger.Warn("ack+del failed", zap.String("stream_id", streamID), zap.Error(err))
	}
}

func (w *Worker) lookupIdentity(ctx context.Context, sender string) (*identity.UserMapping, error) {
	if w.identity == nil {
		return nil, nil
	}
	return w.identity.GetActiveIdentity(ctx, sender)
}

func (w *Worker) recordMessage(direction, status string) {
	if w.metrics == nil {
		return
	}
	w.metrics.RecordMessage(direction, status)
}

func (w *Worker) observeProcessing(runErr error, reply string, elapsed time.Duration) {
	if w.metrics == nil {
		return
	}
	outcome := "answered"
	switch {
	case runErr != nil:
		outcome = "error"
	case reply == agentloop.TooComplexReply:
		outcome = "too_complex"
	}
	w.metrics.ObserveAIProcessing(outcome, elapsed)
}
