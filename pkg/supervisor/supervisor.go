// Package supervisor runs long-lived background loops, such as bot update
// polling, and restarts them when they fail.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/internal/metrics"
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// ErrStopped is returned by Go after Stop has been called.
var ErrStopped = errors.New("supervisor stopped")

// TaskFunc is a supervised loop. It should run until ctx is cancelled. Returning
// nil before cancellation ends the task without restart.
type TaskFunc func(ctx context.Context) error

// TaskHealth is the observable state of one task.
type TaskHealth struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type task struct {
	name   string
	cancel context.CancelFunc
	health TaskHealth
}

// Config configures a Supervisor.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// Supervisor owns a set of named tasks.
type Supervisor struct {
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         zerolog.Logger
	metrics        *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*task
}

// New creates a supervisor whose tasks are cancelled when parent is done or Stop is called.
func New(parent context.Context, cfg Config) *Supervisor {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         cfg.Logger.With().Str("component", "supervisor").Logger(),
		metrics:        cfg.Metrics,
		ctx:            ctx,
		cancel:         cancel,
		tasks:          make(map[string]*task),
	}
}

// Go starts fn as a supervised task. A task with the same name is cancelled
// and replaced.
func (s *Supervisor) Go(name string, fn TaskFunc) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if fn == nil {
		return fmt.Errorf("task %s: function is nil", name)
	}
	if s.ctx.Err() != nil {
		return ErrStopped
	}

	taskCtx, cancel := context.WithCancel(s.ctx)
	t := &task{
		name:   name,
		cancel: cancel,
		health: TaskHealth{Name: name, Running: true, StartedAt: time.Now()},
	}

	s.mu.Lock()
	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}
	s.tasks[name] = t
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(taskCtx, t, fn)

	s.logger.Debug().Str("task", name).Msg("Supervised task started")
	return nil
}

// Cancel stops the named task. It reports whether the task existed.
func (s *Supervisor) Cancel(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if ok {
		t.cancel()
	}
	return ok
}

// CancelPrefix stops every task whose name starts with prefix, e.g. "telegram.".
func (s *Supervisor) CancelPrefix(prefix string) int {
	s.mu.Lock()
	var victims []*task
	for name, t := range s.tasks {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			victims = append(victims, t)
			delete(s.tasks, name)
		}
	}
	s.mu.Unlock()

	for _, t := range victims {
		t.cancel()
	}
	return len(victims)
}

func (s *Supervisor) run(ctx context.Context, t *task, fn TaskFunc) {
	defer s.wg.Done()

	backoff := s.initialBackoff
	for {
		started := time.Now()
		err := s.invoke(ctx, fn)

		if ctx.Err() != nil {
			s.markStopped(t, nil)
			return
		}
		if err == nil {
			s.logger.Info().Str("task", t.name).Msg("Supervised task finished")
			s.markStopped(t, nil)
			return
		}

		// A task that ran healthily for a while starts over from the initial backoff.
		if time.Since(started) > s.maxBackoff {
			backoff = s.initialBackoff
		}

		s.recordFailure(t, err)
		s.logger.Warn().
			Err(err).
			Str("task", t.name).
			Dur("backoff", backoff).
			Msg("Supervised task failed, restarting")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.markStopped(t, nil)
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *Supervisor) invoke(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) recordFailure(t *task, err error) {
	s.mu.Lock()
	t.health.Restarts++
	t.health.LastError = err.Error()
	s.mu.Unlock()

	s.metrics.ObserveRestart(t.name)
}

func (s *Supervisor) markStopped(t *task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.health.Running = false
	if err != nil {
		t.health.LastError = err.Error()
	}
}

// Health returns the state of every known task, sorted by name.
func (s *Supervisor) Health() []TaskHealth {
	s.mu.Lock()
	out := make([]TaskHealth, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.health)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels all tasks and waits for them to exit or ctx to expire.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug().Msg("Supervisor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for supervised tasks: %w", ctx.Err())
	}
}
