// Package gate implements the startup readiness check: every required
// upstream topic must exist before any binding or the status server starts.
package gate

import (
	"context"
	"errors"
	"fmt"

	loggingpkg "github.com/drblury/transitboard/internal/runtime/logging"
)

// ErrNotReady is the root of every readiness failure.
var ErrNotReady = errors.New("transitboard: upstream dependencies are not ready")

// Checker reports whether a topic exists on the broker.
type Checker interface {
	TopicExists(ctx context.Context, name string) (bool, error)
}

// CheckerFunc adapts a function into a Checker.
type CheckerFunc func(ctx context.Context, name string) (bool, error)

func (f CheckerFunc) TopicExists(ctx context.Context, name string) (bool, error) {
	return f(ctx, name)
}

// Requirement names a topic that an upstream job must have produced, and what
// the operator should do when it is missing.
type Requirement struct {
	Topic  string `json:"topic"`
	Remedy string `json:"remedy"`
}

// MissingTopicError identifies the first requirement that failed.
type MissingTopicError struct {
	Requirement
	Cause error
}

func (e *MissingTopicError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transitboard: cannot verify topic %q: %v", e.Topic, e.Cause)
	}
	return fmt.Sprintf("transitboard: required topic %q does not exist", e.Topic)
}

func (e *MissingTopicError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrNotReady, e.Cause}
	}
	return []error{ErrNotReady}
}

// Check verifies every requirement in order and stops at the first failure.
// A checker error counts as a failure: readiness is all-or-nothing.
func Check(ctx context.Context, checker Checker, logger loggingpkg.ServiceLogger, reqs ...Requirement) error {
	if checker == nil {
		return fmt.Errorf("%w: no topic checker configured", ErrNotReady)
	}
	if logger == nil {
		logger = loggingpkg.Nop()
	}

	for _, req := range reqs {
		ok, err := checker.TopicExists(ctx, req.Topic)
		if err != nil {
			return &MissingTopicError{Requirement: req, Cause: err}
		}
		if !ok {
			return &MissingTopicError{Requirement: req}
		}
		logger.Debug("Required topic present", loggingpkg.LogFields{"topic": req.Topic})
	}
	return nil
}
