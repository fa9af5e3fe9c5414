package utils

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"landrecord-extractor/internal/types"
)

// Condition is evaluated repeatedly until it holds. An error ends the current attempt.
type Condition func(ctx context.Context) (bool, error)

// WaitResult is the classified end of a bounded wait.
type WaitResult struct {
	Name     string
	Outcome  types.WaitOutcome
	Attempts int
	LastErr  error
}

// OK reports whether the condition held.
func (r WaitResult) OK() bool {
	return r.Outcome == types.WaitSatisfied
}

// Err returns nil on success, the context error on cancellation, and a
// *types.TransientUIError otherwise. Callers decide whether that is fatal.
func (r WaitResult) Err() error {
	switch r.Outcome {
	case types.WaitSatisfied:
		return nil
	case types.WaitCanceled:
		return r.LastErr
	}
	return &types.TransientUIError{Op: r.Name, Outcome: r.Outcome, Attempts: r.Attempts, Err: r.LastErr}
}

type waitSettings struct {
	timeout time.Duration
	poll    time.Duration
	retries int
	delay   time.Duration
	jitter  time.Duration
}

// WaitOption overrides the waiter defaults for one call site.
type WaitOption func(*waitSettings)

// WithTimeout sets the per-attempt bound.
func WithTimeout(d time.Duration) WaitOption {
	return func(s *waitSettings) { s.timeout = d }
}

// WithRetries sets the total number of attempts.
func WithRetries(n int) WaitOption {
	return func(s *waitSettings) { s.retries = n }
}

// WithDelay sets the fixed pause between attempts and disables jitter.
func WithDelay(d time.Duration) WaitOption {
	return func(s *waitSettings) {
		s.delay = d
		s.jitter = 0
	}
}

// Waiter wraps "wait until the UI shows X" with a timeout and a retry budget.
type Waiter struct {
	defaults waitSettings
	logger   types.Logger
	observe  func(name string, outcome types.WaitOutcome, attempts int)
	pause    func(ctx context.Context, d time.Duration) error
}

// NewWaiter creates a waiter from the run configuration
func NewWaiter(config *types.Config, logger types.Logger) *Waiter {
	return &Waiter{
		defaults: waitSettings{
			timeout: config.WaitTimeout,
			poll:    config.PollInterval,
			retries: config.WaitRetries,
			delay:   config.RetryDelay,
			jitter:  config.RetryJitter,
		},
		logger: logger,
		pause:  sleepContext,
	}
}

// Observe registers a callback invoked once per finished wait.
func (w *Waiter) Observe(fn func(name string, outcome types.WaitOutcome, attempts int)) {
	w.observe = fn
}

// Await blocks until cond holds or the retry budget is spent.
func (w *Waiter) Await(ctx context.Context, name string, cond Condition, opts ...WaitOption) WaitResult {
	s := w.defaults
	for _, opt := range opts {
		opt(&s)
	}
	if s.retries < 1 {
		s.retries = 1
	}

	result := WaitResult{Name: name, Outcome: types.WaitTimeout}
	for attempt := 1; attempt <= s.retries; attempt++ {
		result.Attempts = attempt

		ok, err := w.attempt(ctx, s, cond)
		if ok {
			result.Outcome = types.WaitSatisfied
			result.LastErr = nil
			break
		}
		if ctx.Err() != nil {
			result.Outcome = types.WaitCanceled
			result.LastErr = ctx.Err()
			break
		}
		if err != nil {
			result.Outcome = types.WaitTransientError
			result.LastErr = err
		} else {
			result.Outcome = types.WaitTimeout
			result.LastErr = nil
		}

		if attempt == s.retries {
			break
		}
		w.logger.Debugf("Wait %q attempt %d/%d ended with %s, retrying", name, attempt, s.retries, result.Outcome)
		if err := w.pause(ctx, s.delay+jitter(s.jitter)); err != nil {
			result.Outcome = types.WaitCanceled
			result.LastErr = err
			break
		}
	}

	if !result.OK() {
		w.logger.Debugf("Wait %q gave up: %s after %d attempt(s)", name, result.Outcome, result.Attempts)
	}
	if w.observe != nil {
		w.observe(name, result.Outcome, result.Attempts)
	}
	return result
}

// attempt polls cond until it holds, errors, or the per-attempt bound elapses.
func (w *Waiter) attempt(ctx context.Context, s waitSettings, cond Condition) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	poll := s.poll
	if poll <= 0 || poll > s.timeout {
		poll = s.timeout
	}

	for {
		ok, err := cond(attemptCtx)
		if ok {
			return true, nil
		}
		if err != nil {
			// The probe ran out of attempt time: that is a timeout, not a UI error.
			if attemptCtx.Err() != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return false, nil
			}
			return false, err
		}

		timer := time.NewTimer(poll)
		select {
		case <-attemptCtx.Done():
			timer.Stop()
			return false, nil
		case <-timer.C:
		}
	}
}

// AwaitValue waits until probe yields a value.
func AwaitValue[T any](ctx context.Context, w *Waiter, name string, probe func(ctx context.Context) (T, bool, error), opts ...WaitOption) (T, WaitResult) {
	var value T
	result := w.Await(ctx, name, func(ctx context.Context) (bool, error) {
		v, ok, err := probe(ctx)
		if err != nil || !ok {
			return false, err
		}
		value = v
		return true, nil
	}, opts...)
	if !result.OK() {
		var zero T
		return zero, result
	}
	return value, result
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
