// Package supervisor runs named goroutines under one cancellable context.
// Panics are recovered and reported as errors; Wait returns the first one.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "expirybot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log         logx.Logger
	cancelOnErr bool

	errMu    sync.Mutex
	firstErr error

	panics   atomic.Uint64
	waitOnce sync.Once
	done     chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels every goroutine once one of them fails.
func WithCancelOnError(enabled bool) Option { return func(s *Supervisor) { s.cancelOnErr = enabled } }

func NewSupervisor(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop(), done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals every goroutine without waiting for them.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first goroutine failure, if any.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

// Panics counts recovered panics across all goroutines.
func (s *Supervisor) Panics() uint64 { return s.panics.Load() }

func (s *Supervisor) fail(err error) {
	s.errMu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.errMu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}

// call runs fn, turning a panic into an error.
func (s *Supervisor) call(name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// Go runs fn in its own goroutine. A non-nil error other than
// context.Canceled is recorded as name-prefixed.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Debug("goroutine started", logx.String("name", name))
		err := s.call(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
			return
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type restartCfg struct {
	initial     time.Duration
	max         time.Duration
	maxRestarts int
}

type RestartOption func(*restartCfg)

func WithRestartBackoff(initial, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if initial > 0 {
			c.initial = initial
		}
		if max > 0 {
			c.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts; the first run is not counted.
// n <= 0 restarts forever.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// GoRestart reruns fn after an error or panic, with exponential backoff,
// until it returns nil or the supervisor is cancelled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{initial: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.initial
	bo.MaxInterval = max(cfg.max, cfg.initial)
	bo.MaxElapsedTime = 0
	var policy backoff.BackOff = bo
	if cfg.maxRestarts > 0 {
		policy = backoff.WithMaxRetries(bo, uint64(cfg.maxRestarts))
	}

	s.Go(name, func(ctx context.Context) error {
		policy := backoff.WithContext(policy, ctx)
		for {
			started := time.Now()
			err := s.call(name, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			// A run that stayed up a while starts the backoff over.
			if time.Since(started) >= 30*time.Second {
				policy.Reset()
			}
			wait := policy.NextBackOff()
			if wait == backoff.Stop {
				if ctx.Err() != nil {
					return nil
				}
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Err(err))
				return err
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}
	})
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
