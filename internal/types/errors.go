package types

import (
	"context"
	"errors"
	"fmt"
)

// Outcomes that are not failures.
var (
	// ErrNoResults is returned when a search completed with an empty results table.
	ErrNoResults = errors.New("no results found for the search criteria")

	// ErrEndOfResults is returned by the paginator once the last page has been produced.
	ErrEndOfResults = errors.New("end of results")
)

// Misuse of the engine.
var (
	ErrAlreadySubmitted = errors.New("search already submitted: pagination is not restartable")
	ErrNotSubmitted     = errors.New("search not submitted")
	ErrContextBusy      = errors.New("a secondary browsing context is already open")
	ErrNotFound         = errors.New("element not found")
)

// WaitOutcome classifies how a bounded wait ended.
type WaitOutcome int

const (
	WaitSatisfied WaitOutcome = iota
	WaitTimeout
	WaitTransientError
	WaitCanceled
)

func (o WaitOutcome) String() string {
	switch o {
	case WaitSatisfied:
		return "satisfied"
	case WaitTimeout:
		return "timeout"
	case WaitTransientError:
		return "transient_error"
	case WaitCanceled:
		return "canceled"
	}
	return "unknown"
}

// TransientUIError is a wait that exhausted its retry budget.
type TransientUIError struct {
	Op       string
	Outcome  WaitOutcome
	Attempts int
	Err      error
}

func (e *TransientUIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s after %d attempt(s): %v", e.Op, e.Outcome, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s after %d attempt(s)", e.Op, e.Outcome, e.Attempts)
}

func (e *TransientUIError) Unwrap() error { return e.Err }

// Timeout reports whether the condition simply never held.
func (e *TransientUIError) Timeout() bool { return e.Outcome == WaitTimeout }

// AuthConflictError is a concurrent-session conflict that could not be resolved.
type AuthConflictError struct {
	Err error
}

func (e *AuthConflictError) Error() string {
	return fmt.Errorf("session conflict: %w", e.Err).Error()
}

func (e *AuthConflictError) Unwrap() error { return e.Err }

// FatalSessionError aborts the whole run.
type FatalSessionError struct {
	Stage string
	Err   error
}

func (e *FatalSessionError) Error() string {
	return fmt.Errorf("fatal session error during %s: %w", e.Stage, e.Err).Error()
}

func (e *FatalSessionError) Unwrap() error { return e.Err }

// SearchTimeoutError means the results table never appeared.
type SearchTimeoutError struct {
	Err error
}

func (e *SearchTimeoutError) Error() string {
	return fmt.Errorf("search results timeout: %w", e.Err).Error()
}

func (e *SearchTimeoutError) Unwrap() error { return e.Err }

// SearchError is a technical failure while submitting or reading results.
type SearchError struct {
	Err error
}

func (e *SearchError) Error() string {
	return fmt.Errorf("search failed: %w", e.Err).Error()
}

func (e *SearchError) Unwrap() error { return e.Err }

// RetrievalExhaustedError means every acquisition strategy failed for one row.
type RetrievalExhaustedError struct {
	Page     int
	Index    int
	Attempts []StrategyAttempt
}

func (e *RetrievalExhaustedError) Error() string {
	return fmt.Sprintf("all %d retrieval strategies failed for page %d row %d", len(e.Attempts), e.Page, e.Index)
}

// ErrorKind returns a stable label for metrics and logs.
func ErrorKind(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, ErrNoResults) {
		return "no_results"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	var fatal *FatalSessionError
	if errors.As(err, &fatal) {
		return "fatal_session"
	}
	var conflict *AuthConflictError
	if errors.As(err, &conflict) {
		return "auth_conflict"
	}
	var searchTimeout *SearchTimeoutError
	if errors.As(err, &searchTimeout) {
		return "search_timeout"
	}
	var search *SearchError
	if errors.As(err, &search) {
		return "search_error"
	}
	var exhausted *RetrievalExhaustedError
	if errors.As(err, &exhausted) {
		return "retrieval_exhausted"
	}
	var transient *TransientUIError
	if errors.As(err, &transient) {
		return "transient_ui"
	}
	return "other"
}
