// Package worker is the main runtime loop: it drives the three concurrent
// per-tick pipelines (inbound, outbound, retry) that move messages between
// the KV store, the agent loop, and the chat gateway, using collaborators
// (queue service, lock, rate limiter, agent loop, chat sender) that the
// caller constructs and owns.
package worker

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mobilityone/fleetbridge/internal/agentloop"
	"github.com/mobilityone/fleetbridge/internal/chatsend"
	"github.com/mobilityone/fleetbridge/internal/identity"
	"github.com/mobilityone/fleetbridge/internal/kvstore"
	"github.com/mobilityone/fleetbridge/internal/lock"
	"github.com/mobilityone/fleetbridge/internal/metrics"
	"github.com/mobilityone/fleetbridge/internal/pool"
	"github.com/mobilityone/fleetbridge/internal/queue"
	"github.com/mobilityone/fleetbridge/internal/ratelimit"
)

const (
	// InboundBatchSize bounds how many stream entries are scattered as
	// concurrent tasks on a single tick.
	InboundBatchSize = 10

	// MessageLockTTL bounds how long an inbound message's dedup lock is
	// held while the agent loop runs.
	MessageLockTTL = 10 * time.Second

	// OutboundPopTimeout is how long PopOutbound blocks per tick.
	OutboundPopTimeout = 1 * time.Second

	// TickSleep is the pause after every tick; it keeps the loop from
	// busy-looping when the queues are empty.
	TickSleep = 200 * time.Millisecond

	// ShutdownDrain is the fixed pause Run takes after the context is
	// cancelled and the in-flight tick has returned.
	ShutdownDrain = 2 * time.Second

	heartbeatTTL      = 30 * time.Second
	heartbeatInterval = 10 * time.Second
)

// Config bundles the Worker's collaborators, all already constructed and
// owned by the caller (cmd/worker's main).
type Config struct {
	Queue    *queue.Service
	Locker   *lock.Locker
	Limiter  *ratelimit.Limiter
	Loop     *agentloop.Loop
	Sender   *chatsend.Client
	Identity *identity.Store
	KV       *kvstore.Store
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// Worker runs the inbound/outbound/retry pipelines and heartbeat for one
// process. It owns no durable state; everything survives a restart in the
// KV store or the relational identity store.
type Worker struct {
	queue    *queue.Service
	locker   *lock.Locker
	limiter  *ratelimit.Limiter
	loop     *agentloop.Loop
	sender   *chatsend.Client
	identity *identity.Store
	kv       *kvstore.Store
	metrics  *metrics.Collector
	logger   *zap.Logger

	consumerID string
	pool       *pool.GoroutinePool

	mu      sync.Mutex
	running bool
}

// New constructs a Worker from cfg. A consumer id of
// "<hostname>:<worker_uuid8>" is generated for this process.
func New(cfg Config) *Worker {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	consumerID := host + ":" + uuid.NewString()[:8]

	return &Worker{
		queue:      cfg.Queue,
		locker:     cfg.Locker,
		limiter:    cfg.Limiter,
		loop:       cfg.Loop,
		sender:     cfg.Sender,
		identity:   cfg.Identity,
		kv:         cfg.KV,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With(zap.String("component", "worker"), zap.String("consumer_id", consumerID)),
		consumerID: consumerID,
		pool:       pool.NewGoroutinePool(pool.DefaultGoroutinePoolConfig()),
	}
}

// Run blocks, driving ticks until ctx is cancelled. It then lets the
// in-flight tick run to completion (that wait is not bounded), pauses for
// ShutdownDrain, closes the goroutine pool, and returns.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.EnsureConsumerGroup(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(heartbeatCtx)

	w.logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			w.logger.Info("shutdown signal received, draining")
			w.drain()
			w.pool.Close()
			return nil
		default:
		}

		w.tick(ctx)

		if ctx.Err() != nil {
			continue
		}
		time.Sleep(TickSleep)
	}
}

// drain pauses for ShutdownDrain. The tick has already returned when it
// runs, so this is a fixed wait, not a wait on outstanding work.
func (w *Worker) drain() {
	time.Sleep(ShutdownDrain)
}

// tick runs the three pipelines concurrently. Each records its own error;
// a failure in one never cancels or delays the others, matching the
// at-least-once delivery model (a stalled outbound send must not block
// inbound ingestion).
func (w *Worker) tick(ctx context.Context) {
	var g errgroup.Group

	g.Go(func() error {
		w.processInboundBatch(ctx)
		return nil
	})
	g.Go(func() error {
		w.processOutbound(ctx)
		return nil
	})
	g.Go(func() error {
		w.processRetry(ctx)
		return nil
	})

	_ = g.Wait()
}

// IsRunning reports whether the worker's main loop is currently active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
