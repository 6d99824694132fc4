package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Worker pool errors
var (
	ErrPoolClosed    = errors.New("worker pool is shut down")
	ErrQueueFull     = errors.New("task queue is full")
	ErrShutdownTimed = errors.New("shutdown timeout")
)

// Task is a unit of background work, such as delivering one notification.
type Task struct {
	ID        string
	Run       func(ctx context.Context) error
	CreatedAt time.Time
}

// NewTask creates a task stamped with the current time.
func NewTask(id string, run func(ctx context.Context) error) *Task {
	return &Task{
		ID:        id,
		Run:       run,
		CreatedAt: time.Now(),
	}
}

// Result describes how a task finished.
type Result struct {
	TaskID   string
	Err      error
	Duration time.Duration
	WorkerID int
}

// WorkerStats contains worker pool statistics.
type WorkerStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// WorkerPool runs tasks on a fixed set of goroutines. Results are passed
// to an optional callback instead of being buffered.
type WorkerPool struct {
	name     string
	workers  int
	tasks    chan *Task
	onResult func(Result)
	wg       sync.WaitGroup

	active    int64
	completed int64
	failed    int64

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewWorkerPool starts a pool with the given number of workers and a queue
// of queueSize pending tasks. onResult may be nil.
func NewWorkerPool(name string, workers, queueSize int, onResult func(Result)) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		name:     name,
		workers:  workers,
		tasks:    make(chan *Task, queueSize),
		onResult: onResult,
		ctx:      ctx,
		cancel:   cancel,
		running:  true,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		p.runTask(id, task)
	}
}

func (p *WorkerPool) runTask(workerID int, task *Task) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()
	result := Result{TaskID: task.ID, WorkerID: workerID}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic in task %s: %v", task.ID, r)
		}
		result.Duration = time.Since(start)
		if result.Err == nil {
			atomic.AddInt64(&p.completed, 1)
		} else {
			atomic.AddInt64(&p.failed, 1)
		}
		if p.onResult != nil {
			p.onResult(result)
		}
	}()

	if err := p.ctx.Err(); err != nil {
		result.Err = err
		return
	}
	if task.Run == nil {
		result.Err = errors.New("no run function defined")
		return
	}
	result.Err = task.Run(p.ctx)
}

// Submit queues a task without blocking.
func (p *WorkerPool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// GetStats returns current worker pool statistics.
func (p *WorkerPool) GetStats() WorkerStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return WorkerStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.tasks),
		SuccessRate: successRate,
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
func (p *WorkerPool) Shutdown() {
	_ = p.ShutdownWithTimeout(0)
}

// ShutdownWithTimeout drains the queue, waiting at most timeout. A zero
// timeout waits indefinitely. Tasks still queued when the timeout fires
// see a cancelled context.
func (p *WorkerPool) ShutdownWithTimeout(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		p.cancel()
		return nil
	}

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return ErrShutdownTimed
	}
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
