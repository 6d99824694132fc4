package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/VanDung-dev/Consortium-Ledger/engine"
	"github.com/VanDung-dev/Consortium-Ledger/monitoring"
)

// Dispatcher delivers notices asynchronously on a worker pool so callers
// never wait on a sink.
type Dispatcher struct {
	target  Notifier
	pool    *engine.WorkerPool
	timeout time.Duration
	seq     uint64
	logger  zerolog.Logger
	metrics *monitoring.Metrics
}

// NewDispatcher starts a dispatcher with the given number of workers.
// Each delivery is bounded by timeout.
func NewDispatcher(target Notifier, workers int, timeout time.Duration, metrics *monitoring.Metrics, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		target:  target,
		timeout: timeout,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		metrics: metrics,
	}
	d.pool = engine.NewWorkerPool("notify", workers, 0, d.onResult)
	return d
}

// Notify queues n for delivery. It fails only when the queue is full or
// the dispatcher is closed.
func (d *Dispatcher) Notify(_ context.Context, n Notice) error {
	id := fmt.Sprintf("%s/%s/%s/%d", n.Subject, n.Kind, n.Ref, atomic.AddUint64(&d.seq, 1))
	task := engine.NewTask(id, func(ctx context.Context) error {
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		err := d.target.Notify(ctx, n)
		d.metrics.RecordNotification(string(n.Kind), err == nil)
		return err
	})
	if err := d.pool.Submit(task); err != nil {
		d.metrics.RecordNotification(string(n.Kind), false)
		return fmt.Errorf("queue notice %s: %w", id, err)
	}
	return nil
}

func (d *Dispatcher) onResult(r engine.Result) {
	if r.Err != nil {
		d.logger.Error().Err(r.Err).Str("task", r.TaskID).Msg("Notice delivery failed")
	}
}

// Stats returns the worker pool statistics.
func (d *Dispatcher) Stats() engine.WorkerStats {
	return d.pool.GetStats()
}

// Close waits for queued notices, at most timeout.
func (d *Dispatcher) Close(timeout time.Duration) error {
	return d.pool.ShutdownWithTimeout(timeout)
}
