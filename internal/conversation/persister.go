package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aexy-app/aexy/internal/shared"
)

const (
	defaultPersistQueueSize = 256
	persistJobTimeout       = 10 * time.Second
	persistEnqueueTimeout   = 2 * time.Second
	persistCloseTimeout     = 5 * time.Second
)

var errPersisterClosed = errors.New("persister closed")

type persistJob struct {
	op             string
	conversationID string
	userID         string
	run            func(context.Context) error
	done           chan struct{}
}

// Persister runs fire-and-forget writes on a single background worker, so
// writes are applied in the order they were enqueued. Failures are reported
// as EventPersistenceError and never reach the caller.
type Persister struct {
	jobs   chan persistJob
	bus    *Bus
	logger *slog.Logger
	policy shared.RetryPolicy

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPersister starts a persister with the given queue capacity.
func NewPersister(queueSize int, bus *Bus, logger *slog.Logger) *Persister {
	if queueSize <= 0 {
		queueSize = defaultPersistQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Persister{
		jobs:   make(chan persistJob, queueSize),
		bus:    bus,
		logger: logger,
		policy: shared.DefaultRetryPolicy,
	}

	p.wg.Add(1)
	go p.process()

	return p
}

// Enqueue schedules run. It blocks for at most a short timeout when the queue
// is full; a write that cannot be queued is reported as a persistence error.
func (p *Persister) Enqueue(op, conversationID, userID string, run func(context.Context) error) {
	job := persistJob{op: op, conversationID: conversationID, userID: userID, run: run}
	if err := p.enqueue(job); err != nil {
		p.report(job, err)
	}
}

// Flush waits until every job enqueued before the call has been applied.
func (p *Persister) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := p.enqueue(persistJob{op: "flush", done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Persister) enqueue(job persistJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errPersisterClosed
	}

	select {
	case p.jobs <- job:
		return nil
	default:
	}

	p.logger.Warn("Persist queue full, waiting",
		"op", job.op,
		"conversation_id", job.conversationID,
		"queue_len", len(p.jobs),
	)

	timer := time.NewTimer(persistEnqueueTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- job:
		return nil
	case <-timer.C:
		return errors.New("persist queue full")
	}
}

func (p *Persister) process() {
	defer p.wg.Done()

	for job := range p.jobs {
		if job.done != nil {
			close(job.done)
			continue
		}

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), persistJobTimeout)
		err := shared.RetryOnConflict(ctx, p.policy, job.run)
		cancel()

		if err != nil {
			p.report(job, err)
			continue
		}

		if d := time.Since(start); d > 100*time.Millisecond {
			p.logger.Warn("Slow persistence write",
				"op", job.op,
				"conversation_id", job.conversationID,
				"duration_ms", d.Milliseconds(),
			)
		}
	}
}

func (p *Persister) report(job persistJob, err error) {
	p.logger.Error("Persistence write failed",
		"op", job.op,
		"conversation_id", job.conversationID,
		"user_id", job.userID,
		"error", err,
	)
	p.bus.Publish(Event{
		Type:           EventPersistenceError,
		ConversationID: job.conversationID,
		UserID:         job.userID,
		Op:             job.op,
		Error:          err.Error(),
	})
}

// Close stops accepting jobs and drains the queue.
func (p *Persister) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	remaining := len(p.jobs)
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("Persister closing", "queue_remaining", remaining)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(persistCloseTimeout):
		p.logger.Warn("Persister shutdown timeout", "queue_remaining", len(p.jobs))
		return errors.New("persister shutdown timed out")
	}
}
