package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/mobilityone/fleetbridge/internal/queue"
)

// processOutbound pops at most one pending reply and sends it through the
// chat gateway, scheduling a back-off retry on failure.
func (w *Worker) processOutbound(ctx context.Context) {
	msg, err := w.queue.PopOutbound(ctx, OutboundPopTimeout)
	if err != nil {
		w.logger.Warn("pop outbound failed", zap.Error(err))
		return
	}
	if msg == nil {
		return
	}

	w.sendOutbound(ctx, *msg)
}

func (w *Worker) sendOutbound(ctx context.Context, msg queue.OutboundMessage) {
	if err := w.sender.Send(ctx, msg.To, msg.Text); err != nil {
		w.logger.Warn("outbound send failed, scheduling retry",
			zap.String("to", msg.To), zap.String("cid", msg.CID), zap.Error(err))
		if scheduleErr := w.queue.ScheduleRetry(ctx, msg); scheduleErr != nil {
			w.logger.Error("schedule retry failed", zap.String("cid", msg.CID), zap.Error(scheduleErr))
		}
		w.recordMessage("outbound", "error")
		return
	}
	w.recordMessage("outbound", "ok")
}
