package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/recordlog/pkg/core"
)

// ErrPoolNotRunning is returned by Submit before Start or after Stop.
var ErrPoolNotRunning = errors.New("worker pool is not running")

// WorkerPoolConfig configures a WorkerPool.
type WorkerPoolConfig struct {
	Workers   int // worker goroutines
	QueueSize int // tasks waiting for a worker
}

// DefaultWorkerPoolConfig returns 10 workers and a queue of 1000.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:   10,
		QueueSize: 1000,
	}
}

// WorkerPool runs submitted tasks on a fixed set of goroutines fed by a
// bounded Mailbox. Submit never blocks: a full queue is reported as
// ErrMailboxFull so callers can shed load.
//
// Stop cancels the pool context and closes the queue. Tasks already queued
// still run, with the cancelled context, so they can release what they hold.
type WorkerPool struct {
	workers int
	queue   *Mailbox[Task]
	logger  core.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	running atomic.Bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc

	panics atomic.Int64
}

// NewWorkerPool creates a stopped pool.
func NewWorkerPool(ctx context.Context, config WorkerPoolConfig, logger core.Logger) *WorkerPool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 100
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		workers: config.Workers,
		queue:   NewMailbox[Task](config.QueueSize),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.stopped {
		return ErrPoolNotRunning
	}
	if wp.running.Load() {
		return fmt.Errorf("worker pool is already running")
	}
	wp.running.Store(true)
	wp.wg.Add(wp.workers)
	for i := 0; i < wp.workers; i++ {
		go wp.worker(i)
	}
	return nil
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for {
		// Receive only fails once the queue is closed and drained.
		task, err := wp.queue.Receive(context.Background())
		if err != nil {
			return
		}
		wp.run(id, task)
	}
}

func (wp *WorkerPool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.panics.Add(1)
			wp.logger.Errorf("worker %d: task %s panicked: %v", id, task.Name(), r)
		}
	}()
	if err := task.Execute(wp.ctx); err != nil {
		wp.logger.Errorf("worker %d: task %s failed: %v", id, task.Name(), err)
	}
}

// Stop shuts the pool down and waits for the workers until ctx is done.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return nil
	}
	wp.stopped = true
	wasRunning := wp.running.Swap(false)
	wp.cancel()
	wp.queue.Close()
	wp.mu.Unlock()

	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	}
}

// Submit queues task for execution.
func (wp *WorkerPool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if !wp.running.Load() {
		return ErrPoolNotRunning
	}
	if err := wp.queue.Send(task); err != nil {
		if errors.Is(err, ErrMailboxClosed) {
			return ErrPoolNotRunning
		}
		return err
	}
	return nil
}

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Queued returns the number of tasks waiting for a worker.
func (wp *WorkerPool) Queued() int {
	return wp.queue.Len()
}

// QueueCapacity returns the queue bound.
func (wp *WorkerPool) QueueCapacity() int {
	return wp.queue.Cap()
}

// Panics returns how many tasks have panicked.
func (wp *WorkerPool) Panics() int64 {
	return wp.panics.Load()
}

// IsRunning reports whether the pool accepts tasks.
func (wp *WorkerPool) IsRunning() bool {
	return wp.running.Load()
}
