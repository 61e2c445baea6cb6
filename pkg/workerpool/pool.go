// Package workerpool provides a bounded worker pool with per-task retries.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Submit after Stop
var ErrStopped = errors.New("worker pool is stopped")

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Payload interface{}
}

// Result is the outcome of a task after its retries
type Result struct {
	TaskID   string
	Attempts int
	Err      error
}

// WorkerFunc processes one task
type WorkerFunc func(ctx context.Context, task Task) error

// Config holds worker pool configuration
type Config struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	// RetryDelay grows linearly with the attempt number
	RetryDelay              time.Duration
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults for notification fan-out
func DefaultConfig() Config {
	return Config{
		Workers:                 8,
		QueueSize:               256,
		MaxRetries:              3,
		RetryDelay:              200 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

type job struct {
	ctx  context.Context
	task Task
	done chan Result
}

// Pool runs tasks on a fixed set of workers
type Pool struct {
	config Config
	fn     WorkerFunc
	logger *zap.Logger

	jobs    chan job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool

	submitted int64
	completed int64
	failed    int64
	retried   int64
}

// New creates a new worker pool
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = def.GracefulShutdownTimeout
	}
	return &Pool{
		config: cfg,
		fn:     fn,
		logger: logger,
		jobs:   make(chan job, cfg.QueueSize),
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit queues task, blocking while the queue is full. The returned channel
// receives exactly one Result.
func (p *Pool) Submit(ctx context.Context, task Task) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return nil, ErrStopped
	}

	j := job{ctx: ctx, task: task, done: make(chan Result, 1)}
	select {
	case p.jobs <- j:
		atomic.AddInt64(&p.submitted, 1)
		return j.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run submits every task and waits for all results, in task order
func (p *Pool) Run(ctx context.Context, tasks []Task) ([]Result, error) {
	pending := make([]<-chan Result, 0, len(tasks))
	for _, t := range tasks {
		ch, err := p.Submit(ctx, t)
		if err != nil {
			return nil, err
		}
		pending = append(pending, ch)
	}
	results := make([]Result, len(pending))
	for i, ch := range pending {
		results[i] = <-ch
	}
	return results, nil
}

// Stop refuses new tasks and waits for queued ones to drain
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
		return fmt.Errorf("worker pool shutdown timed out after %s", p.config.GracefulShutdownTimeout)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		res := p.process(j)
		if res.Err != nil {
			atomic.AddInt64(&p.failed, 1)
			p.logger.Error("task failed",
				zap.String("task_id", res.TaskID),
				zap.Int("worker_id", id),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err))
		} else {
			atomic.AddInt64(&p.completed, 1)
		}
		j.done <- res
	}
}

func (p *Pool) process(j job) Result {
	ctx := j.ctx
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{TaskID: j.task.ID, Attempts: attempt, Err: err}
		}
		lastErr = p.fn(ctx, j.task)
		if lastErr == nil {
			return Result{TaskID: j.task.ID, Attempts: attempt + 1}
		}
		if attempt == p.config.MaxRetries {
			break
		}
		atomic.AddInt64(&p.retried, 1)
		p.logger.Debug("retrying task",
			zap.String("task_id", j.task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return Result{TaskID: j.task.ID, Attempts: attempt + 1, Err: ctx.Err()}
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}
	return Result{
		TaskID:   j.task.ID,
		Attempts: p.config.MaxRetries + 1,
		Err:      fmt.Errorf("task failed after %d retries: %w", p.config.MaxRetries, lastErr),
	}
}

// Stats are cumulative pool counters
type Stats struct {
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Retried    int64 `json:"retried"`
	QueueDepth int   `json:"queueDepth"`
	Workers    int   `json:"workers"`
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:  atomic.LoadInt64(&p.submitted),
		Completed:  atomic.LoadInt64(&p.completed),
		Failed:     atomic.LoadInt64(&p.failed),
		Retried:    atomic.LoadInt64(&p.retried),
		QueueDepth: len(p.jobs),
		Workers:    p.config.Workers,
	}
}
