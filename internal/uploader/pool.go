package uploader

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gene9831/one-app-api/pkg/logger"
)

// Control carries the cooperative cancellation flags of one running job.
// Workers check the flags between chunks; a chunk in flight always runs to
// completion so the provider's offset accounting stays exact.
type Control struct {
	mu     sync.Mutex
	stop   bool
	delete bool
}

// RequestStop asks the worker to park the job as stopped.
func (c *Control) RequestStop() {
	c.mu.Lock()
	c.stop = true
	c.mu.Unlock()
}

// RequestDelete asks the worker to abort and discard the job.
func (c *Control) RequestDelete() {
	c.mu.Lock()
	c.delete = true
	c.mu.Unlock()
}

// StopRequested reports whether a stop was asked for.
func (c *Control) StopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop
}

// DeleteRequested reports whether a delete was asked for.
func (c *Control) DeleteRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delete
}

type task struct {
	control *Control
	cancel  context.CancelFunc
}

// JobRunner executes one upload job until it finishes, fails, or is told
// to stop. Implemented by Worker.
type JobRunner interface {
	Run(ctx context.Context, jobID uuid.UUID, ctl *Control)
}

// Pool schedules queued upload jobs onto at most maxConcurrent workers.
// Queued ids wait in FIFO order; the scheduling loop wakes once a second
// and promotes as many as fit.
type Pool struct {
	runner        JobRunner
	log           *logger.Logger
	maxConcurrent int
	interval      time.Duration

	mu     sync.Mutex
	queue  []uuid.UUID
	active map[uuid.UUID]*task

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates a pool running at most maxConcurrent jobs at once.
func NewPool(runner JobRunner, maxConcurrent int, log *logger.Logger) *Pool {
	return &Pool{
		runner:        runner,
		log:           log,
		maxConcurrent: maxConcurrent,
		interval:      time.Second,
		active:        make(map[uuid.UUID]*task),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the scheduling loop.
func (p *Pool) Start() {
	go p.loop()
}

// Shutdown stops scheduling, cancels running workers, and waits for them.
func (p *Pool) Shutdown() {
	close(p.stopCh)
	<-p.doneCh

	p.mu.Lock()
	for _, t := range p.active {
		t.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Enqueue queues a job id for execution. Idempotent for ids already queued
// or running.
func (p *Pool) Enqueue(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, running := p.active[id]; running {
		return
	}
	for _, queued := range p.queue {
		if queued == id {
			return
		}
	}
	p.queue = append(p.queue, id)
}

// StopJob asks a running job to park itself, or drops a queued one.
// Returns false when the pool does not know the id.
func (p *Pool) StopJob(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, running := p.active[id]; running {
		t.control.RequestStop()
		return true
	}
	return p.removeQueuedLocked(id)
}

// DeleteJob asks a running job to abort and discard itself. Returns true
// when a running worker took the request; a queued id is only dequeued and
// the caller handles the row.
func (p *Pool) DeleteJob(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, running := p.active[id]; running {
		t.control.RequestDelete()
		t.cancel()
		return true
	}
	p.removeQueuedLocked(id)
	return false
}

// IsActive reports whether a worker currently runs the job.
func (p *Pool) IsActive(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[id]
	return ok
}

// IsQueued reports whether the job waits in the queue.
func (p *Pool) IsQueued(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, queued := range p.queue {
		if queued == id {
			return true
		}
	}
	return false
}

// Stats returns the queue depth and running worker count.
func (p *Pool) Stats() (queued, running int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue), len(p.active)
}

func (p *Pool) loop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.promote()
		}
	}
}

func (p *Pool) promote() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) > 0 && len(p.active) < p.maxConcurrent {
		id := p.queue[0]
		p.queue = p.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		t := &task{control: &Control{}, cancel: cancel}
		p.active[id] = t

		p.wg.Add(1)
		go func(id uuid.UUID, t *task) {
			defer p.wg.Done()
			defer cancel()
			defer p.remove(id)
			p.runner.Run(ctx, id, t.control)
		}(id, t)
	}
}

func (p *Pool) remove(id uuid.UUID) {
	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()
}

func (p *Pool) removeQueuedLocked(id uuid.UUID) bool {
	for i, queued := range p.queue {
		if queued == id {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return true
		}
	}
	return false
}
