package source

import (
	"errors"
	"fmt"
)

// ErrBlocked is returned when the store answers with an explicit
// anti-automation response.
var ErrBlocked = errors.New("source: blocked")

// Kind distinguishes retryable fetch failures.
type Kind int

const (
	// KindTransient covers network errors, timeouts and bad statuses.
	KindTransient Kind = iota
	// KindParse covers responses whose shape does not match expectations.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindParse:
		return "parse"
	}
	return "unknown"
}

// FetchError is a retryable page failure.
type FetchError struct {
	Kind   Kind
	Status int // HTTP status when known
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("source: %s: http %d: %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("source: %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient wraps err as a transient failure.
func Transient(err error) error { return &FetchError{Kind: KindTransient, Err: err} }

// Parse wraps err as a parse failure.
func Parse(err error) error { return &FetchError{Kind: KindParse, Err: err} }

// Outcome is the collector's three-way view of a page result.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFailure
	OutcomeBlocked
)

// OutcomeOf classifies an adapter error. Errors that are neither ErrBlocked
// nor a FetchError are treated as transient failures.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrBlocked):
		return OutcomeBlocked
	default:
		return OutcomeFailure
	}
}

// KindOf returns the failure kind of err, KindTransient when unknown.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}
