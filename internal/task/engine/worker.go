package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"

	"expirybot/internal/eventbus"
	logx "expirybot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, q <-chan queuedTask) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case qt := <-q:
			s.execOne(ctx, qt)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	defer qt.state.release()
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	t := qt.t
	start := s.now()
	queueDelay := start.Sub(qt.enqueuedAt)

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	s.publish(eventbus.TaskStarted, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay})
	log := s.log.With(logx.String("task", t.Name), logx.String("task_id", t.ID))
	log.Debug("task started", logx.Duration("queue_delay", queueDelay))

	bo := newRetryBackoff(t.Opt)
	attempts := 0
	var err error
	for {
		attempts++
		err = runAttempt(ctx, t, timeout, log)
		if err == nil || ctx.Err() != nil || IsNoRetry(err) || attempts > t.Opt.RetryMax {
			break
		}
		wait := bo.NextBackOff()
		log.Warn("task attempt failed; retrying", logx.Int("attempt", attempts), logx.Duration("backoff", wait), logx.Err(err))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		if ctx.Err() != nil {
			break
		}
	}

	dur := s.now().Sub(start)
	s.circuits.record(s.now(), t.Name, s.cfg, t.Opt, err)

	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		ev.Error = err.Error()
	}
	s.appendHistory(ev)

	if err != nil {
		s.publish(eventbus.TaskFailed, ev)
		log.Warn("task failed", logx.Int("attempts", attempts), logx.Duration("took", dur), logx.Err(err))
		return
	}
	s.publish(eventbus.TaskFinished, ev)
	log.Debug("task finished", logx.Duration("took", dur))
}

// runAttempt runs one attempt with its own timeout and converts a panic into
// an error so one broken job cannot take the worker down.
func runAttempt(ctx context.Context, t Task, timeout time.Duration, log logx.Logger) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = NoRetry(fmt.Errorf("panic: %v", r))
		}
	}()
	err = t.Run(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		err = NoRetry(fmt.Errorf("timeout after %s: %w", timeout, err))
	}
	return err
}

func newRetryBackoff(opt TaskOptions) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opt.RetryBase
	b.MaxInterval = opt.RetryMaxDelay
	b.RandomizationFactor = opt.RetryJitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
