// Package dispatch runs detached background tasks on a bounded worker pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
	"github.com/jonesrussell/north-cloud/outreach/internal/telemetry"
)

var (
	// ErrPoolFull is returned when the task queue has no room left.
	ErrPoolFull = errors.New("dispatch queue is full")
	// ErrNotRunning is returned for submissions before Start or after Stop.
	ErrNotRunning = errors.New("dispatcher is not running")
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 100
)

// State is the lifecycle position of a Pool.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Task is a unit of background work. ctx is cancelled when the pool stops.
type Task func(ctx context.Context) error

type Config struct {
	Workers   int
	QueueSize int
}

type queued struct {
	id   string
	name string
	run  Task
}

// Pool owns a fixed set of workers fed from a bounded queue.
type Pool struct {
	cfg     Config
	log     logger.Logger
	metrics *telemetry.Metrics

	state  atomic.Int32
	mu     sync.RWMutex
	tasks  chan queued
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

type Option func(*Pool)

func WithMetrics(m *telemetry.Metrics) Option { return func(p *Pool) { p.metrics = m } }

func NewPool(cfg Config, log logger.Logger, opts ...Option) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	p := &Pool{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(p)
	}
	p.state.Store(int32(StateStopped))

	return p
}

// Start launches the workers.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return errors.New("dispatcher is already running")
	}

	p.tasks = make(chan queued, p.cfg.QueueSize)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	for i := range p.cfg.Workers {
		p.wg.Add(1)
		go p.work(i)
	}

	p.log.Info("Dispatcher started",
		logger.Int("workers", p.cfg.Workers),
		logger.Int("queue_size", p.cfg.QueueSize),
	)

	return nil
}

// Submit queues fn and returns its task id without waiting for it to run.
func (p *Pool) Submit(name string, fn Task) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.State() != StateRunning {
		return "", ErrNotRunning
	}

	t := queued{id: uuid.NewString(), name: name, run: fn}
	select {
	case p.tasks <- t:
	default:
		return "", ErrPoolFull
	}

	p.metrics.SetQueueDepth(len(p.tasks))
	p.log.Debug("Task queued", logger.TaskID(t.id), logger.String("task", name))

	return t.id, nil
}

// Stop refuses new work, cancels the task context and waits for the workers
// to finish what is queued. It gives up when ctx ends.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		p.mu.Unlock()
		return ErrNotRunning
	}
	close(p.tasks)
	p.mu.Unlock()

	p.log.Info("Dispatcher draining", logger.Int("queued", p.Pending()))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.log.Info("Dispatcher stopped",
			logger.Int64("processed", p.processed.Load()),
			logger.Int64("failed", p.failed.Load()),
		)
	case <-ctx.Done():
		err = fmt.Errorf("dispatcher drain: %w", ctx.Err())
		p.log.Warn("Dispatcher stop timed out")
	}

	p.state.Store(int32(StateStopped))
	return err
}

func (p *Pool) State() State {
	return State(p.state.Load())
}

// Pending is the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.tasks == nil {
		return 0
	}
	return len(p.tasks)
}

func (p *Pool) work(id int) {
	defer p.wg.Done()

	for t := range p.tasks {
		p.metrics.SetQueueDepth(p.Pending())
		p.run(id, t)
	}
}

func (p *Pool) run(workerID int, t queued) {
	start := time.Now()
	log := p.log.With(logger.TaskID(t.id), logger.String("task", t.name), logger.Int("worker", workerID))

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			log.Error("Task panicked", logger.Any("panic", r))
		}
		p.processed.Add(1)
	}()

	if err := t.run(p.ctx); err != nil {
		p.failed.Add(1)
		log.Error("Task failed", logger.Error(err), logger.Duration("duration", time.Since(start)))
		return
	}

	log.Debug("Task finished", logger.Duration("duration", time.Since(start)))
}
