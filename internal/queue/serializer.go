// Package queue provides the fetch serializer: a FIFO queue that runs one task at a time.
//
// Tasks that touch shared state (the script namespace the eastmoney scripts assign into)
// are submitted through Do, so no two of them ever overlap.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// task is one queued unit of work
type task struct {
	name     string
	run      func(ctx context.Context) error
	ctx      context.Context
	done     chan struct{}
	queuedAt time.Time
}

// Stats reports serializer activity
type Stats struct {
	Pending   int    `json:"pending"`
	Running   string `json:"running,omitempty"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// Serializer runs submitted tasks one at a time in submission order.
// Each task settles (value, error or recovered panic) before the next begins.
type Serializer struct {
	log zerolog.Logger

	mu        sync.Mutex
	pending   []*task
	running   string // name of the executing task, empty when idle
	draining  bool
	completed int64
	failed    int64
}

// NewSerializer creates an idle serializer
func NewSerializer(log zerolog.Logger) *Serializer {
	return &Serializer{
		log:     log.With().Str("component", "fetch_serializer").Logger(),
		pending: make([]*task, 0),
	}
}

// Do submits fn to s and waits for its result.
//
// Cancellation is not supported: when ctx ends first the caller gets ctx.Err(), but the
// task still runs in its turn with a context that is never cancelled.
func Do[T any](ctx context.Context, s *Serializer, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)

	t := &task{
		name:     name,
		ctx:      context.WithoutCancel(ctx),
		done:     make(chan struct{}),
		queuedAt: time.Now(),
	}
	t.run = func(ctx context.Context) (runErr error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("task %s panicked: %v", name, p)
			}
			runErr = err
		}()
		result, err = fn(ctx)
		return err
	}

	s.enqueue(t)

	select {
	case <-t.done:
		return result, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// enqueue appends t and starts draining when idle
func (s *Serializer) enqueue(t *task) {
	s.mu.Lock()
	s.pending = append(s.pending, t)
	start := !s.draining
	s.draining = true
	depth := len(s.pending)
	s.mu.Unlock()

	s.log.Debug().Str("task", t.name).Int("depth", depth).Msg("Task queued")

	if start {
		go s.drain()
	}
}

// drain runs pending tasks until the queue is empty
func (s *Serializer) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.running = ""
			s.mu.Unlock()
			return
		}
		t := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.running = t.name
		s.mu.Unlock()

		s.execute(t)
	}
}

// execute runs one task and records its outcome
func (s *Serializer) execute(t *task) {
	started := time.Now()
	err := t.run(t.ctx)
	close(t.done)
	failed := err != nil

	s.mu.Lock()
	if failed {
		s.failed++
	} else {
		s.completed++
	}
	s.mu.Unlock()

	s.log.Debug().
		Str("task", t.name).
		Bool("failed", failed).
		Dur("waited", started.Sub(t.queuedAt)).
		Dur("duration", time.Since(started)).
		Msg("Task settled")
}

// Depth returns the number of tasks queued or running
func (s *Serializer) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := len(s.pending)
	if s.running != "" {
		depth++
	}
	return depth
}

// Stats returns a snapshot of serializer activity
func (s *Serializer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:   len(s.pending),
		Running:   s.running,
		Completed: s.completed,
		Failed:    s.failed,
	}
}
