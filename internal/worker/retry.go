package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// processRetry pops at most one retry-set member whose back-off has
// elapsed and re-enqueues it onto the outbound list, so the same outbound
// pipeline that sends fresh replies also carries every retry attempt
// rather than sending directly from the retry tick.
func (w *Worker) processRetry(ctx context.Context) {
	msg, err := w.queue.PopDueRetry(ctx, time.Now())
	if err != nil {
		w.logger.Warn("pop due retry failed", zap.Error(err))
		return
	}
	if msg == nil {
		return
	}

	if err := w.queue.EnqueueOutbound(ctx, msg.To, msg.Text, msg.CID, msg.Attempts); err != nil {
		w.logger.Error("re-enqueue due retry failed", zap.String("cid", msg.CID), zap.Error(err))
	}
}
