package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// heartbeatLoop refreshes this worker's heartbeat key on a fixed interval
// until ctx is cancelled, so a monitoring process can detect a stalled or
// crashed worker once the TTL lapses.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	w.beat(ctx)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.beat(ctx)
		}
	}
}

func (w *Worker) beat(ctx context.Context) {
	now := time.Now().Format(time.RFC3339)
	key := "worker:heartbeat:" + w.consumerID

	if err := w.kv.Set(ctx, key, now, heartbeatTTL); err != nil {
		w.logger.Warn("heartbeat write failed", zap.Error(err))
		return
	}
	if err := w.kv.Set(ctx, "worker:heartbeat", now, heartbeatTTL); err != nil {
		w.logger.Warn("aggregate heartbeat write failed", zap.Error(err))
	}
}
