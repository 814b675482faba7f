package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("worker pool shut down")

// ErrQueueFull is returned by Submit when no queue slot is free
var ErrQueueFull = errors.New("worker pool queue full")

// Task is a unit of background work
type Task func(context.Context) error

// WorkerPool runs submitted tasks on a fixed number of workers. Each task
// gets its own timeout; failures and panics are logged, never propagated.
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	logger   logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	workCh chan Task
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool starts workers goroutines consuming a queue of queueSize
// tasks.
//
//	pool := async.NewWorkerPool(ctx, 2, 100, "invitation delivery", 30*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
func NewWorkerPool(ctx context.Context, workers, queueSize int, taskName string, timeout time.Duration, logger logrus.FieldLogger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		logger:   logger.WithField("task", taskName),
		workCh:   make(chan Task, queueSize),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			pool.worker(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues fn without blocking
func (p *WorkerPool) Submit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.workCh <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits up to timeout for the queue to
// drain. Tasks still running afterwards see their context cancelled.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.workCh)
	p.mu.Unlock()

	defer p.cancel()
	select {
	case <-p.doneCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker pool shutdown timed out after %v", timeout)
	}
}

func (p *WorkerPool) worker(id int) {
	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker": id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("PANIC in background task")
		}
	}()

	if err := fn(ctx); err != nil {
		p.logger.WithError(err).WithField("worker", id).Warn("Background task failed")
	}
}
