package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
)

// ErrPoolStopped is returned by Submit after Stop
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is one unit of client work
type Task func(ctx context.Context)

// Config contains configuration for the worker pool
type Config struct {
	// Workers is the fixed number of goroutines
	Workers int

	// QueueSize is the shared work queue capacity
	QueueSize int
}

type pauseRequest struct {
	barrier *Barrier
	resume  <-chan struct{}
}

// Pool runs tasks on a fixed set of workers sharing one queue. Pause
// freezes every worker between tasks using a countdown barrier of
// Workers+1 parties; Resume releases them.
type Pool struct {
	config Config
	logger *logging.Logger

	tasks chan Task
	ctrl  []chan pauseRequest

	pauseMu    sync.Mutex
	pauseCount int
	resume     chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a pool; call Start to launch the workers
func NewPool(config Config, logger *logging.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config: config,
		logger: logger,
		tasks:  make(chan Task, config.QueueSize),
		ctrl:   make([]chan pauseRequest, config.Workers),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range p.ctrl {
		p.ctrl[i] = make(chan pauseRequest, 1)
	}
	return p
}

// Start launches the workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Info("Worker pool started", "workers", p.config.Workers, "queue_size", p.config.QueueSize)
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.config.Workers
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	ctrl := p.ctrl[id]

	for {
		// pause requests take priority over queued work
		select {
		case req := <-ctrl:
			p.park(req)
			continue
		default:
		}

		select {
		case req := <-ctrl:
			p.park(req)
		case task := <-p.tasks:
			p.execute(id, task)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) park(req pauseRequest) {
	req.barrier.Arrive()
	select {
	case <-req.resume:
	case <-p.ctx.Done():
	}
}

func (p *Pool) execute(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker task panicked", "worker", id, "panic", fmt.Sprint(r))
		}
	}()
	task(p.ctx)
}

// Submit queues a task, blocking while the queue is full
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolStopped
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Pause returns once every worker is parked between tasks. Pauses nest;
// each successful Pause needs one Resume. On error the pool stays running.
func (p *Pool) Pause(ctx context.Context) error {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()

	if p.pauseCount > 0 {
		p.pauseCount++
		return nil
	}

	barrier := NewBarrier(p.config.Workers + 1)
	resume := make(chan struct{})

	for _, ctrl := range p.ctrl {
		select {
		case ctrl <- pauseRequest{barrier: barrier, resume: resume}:
		case <-ctx.Done():
			close(resume)
			return ctx.Err()
		case <-p.ctx.Done():
			close(resume)
			return ErrPoolStopped
		}
	}

	barrier.Arrive()
	if err := barrier.Wait(ctx); err != nil {
		close(resume)
		return err
	}

	p.resume = resume
	p.pauseCount = 1
	p.logger.Debug("Worker pool paused", "workers", p.config.Workers)
	return nil
}

// Resume undoes one Pause
func (p *Pool) Resume() {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()

	if p.pauseCount == 0 {
		return
	}
	p.pauseCount--
	if p.pauseCount == 0 {
		close(p.resume)
		p.resume = nil
		p.logger.Debug("Worker pool resumed")
	}
}

// Paused reports whether the workers are currently held
func (p *Pool) Paused() bool {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	return p.pauseCount > 0
}

// Stop cancels running tasks and waits for the workers to exit
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.logger.Info("Worker pool stopped")
	})
}
