// Package scheduler runs cancellable deferred tasks keyed by id.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/pkg/log"
)

// Task is deferred work. The context is cancelled on Shutdown.
type Task func(ctx context.Context)

// Task id prefixes.
const (
	PrefixDeliver     = "deliver:"
	PrefixExpire      = "expire:"
	PrefixCallTimeout = "call-timeout:"
)

type pending struct {
	timer *time.Timer
	at    time.Time
}

// Scheduler fires each task once at its time unless cancelled first.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*pending
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*pending),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule runs fn at at, replacing any task with the same id. A time in the
// past runs fn immediately on its own goroutine. It returns false after
// Shutdown.
func (s *Scheduler) Schedule(id string, at time.Time, fn Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if old, ok := s.tasks[id]; ok {
		old.timer.Stop()
	}

	p := &pending{at: at}
	p.timer = time.AfterFunc(time.Until(at), func() { s.fire(id, p, fn) })
	s.tasks[id] = p
	return true
}

// Cancel stops the task. It reports whether the task was still pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tasks[id]
	if !ok {
		return false
	}
	delete(s.tasks, id)
	return p.timer.Stop()
}

// When returns the fire time of a pending task.
func (s *Scheduler) When(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return p.at, true
}

// Pending returns the number of tasks not yet fired.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown stops all pending tasks, cancels running ones, and waits for them
// to return or for ctx to end. It returns the ids that never ran.
func (s *Scheduler) Shutdown(ctx context.Context) []string {
	s.mu.Lock()
	s.stopped = true
	var dropped []string
	for id, p := range s.tasks {
		if p.timer.Stop() {
			dropped = append(dropped, id)
		}
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		l := log.L()
		l.Warn().Msg("scheduler shutdown timed out waiting for running tasks")
	}
	return dropped
}

func (s *Scheduler) fire(id string, p *pending, fn Task) {
	s.mu.Lock()
	if cur, ok := s.tasks[id]; !ok || cur != p {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, id)
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			l := log.L()
			l.Error().Str("task", id).Interface("panic", r).Msg("scheduled task panicked")
		}
	}()
	fn(s.ctx)
}
