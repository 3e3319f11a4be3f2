package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Wrap them with fmt.Errorf("%w")
// and test with errors.Is.
var (
	// ErrEmptyContent is returned when a message is published with blank content.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrUnknownSubscriber signals that a published message reached no agent.
	// The broker logs it and keeps the message in history; it is never returned
	// from Publish.
	ErrUnknownSubscriber = errors.New("no subscriber for topic")
	// ErrGovernedRejection is the base error of a governance veto.
	ErrGovernedRejection = errors.New("message rejected by conversation governance")
	// ErrBackendUnavailable is logged when no generation backend produced text.
	ErrBackendUnavailable = errors.New("no generation backend available")
	// ErrFairnessHalt is recorded when the turn-taking guard stops a debate.
	ErrFairnessHalt = errors.New("debate halted by turn-taking guard")
	// ErrAgentNotFound is returned for operations on unregistered agents.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAgentExists is returned when an agent id is registered twice.
	ErrAgentExists = errors.New("agent already registered")
	// ErrBudgetExhausted is returned by Budget.Increment once the limit is passed.
	ErrBudgetExhausted = errors.New("budget exhausted")
	// ErrUnknownKind is returned when an agent kind has no registered factory.
	ErrUnknownKind = errors.New("unknown agent kind")
	// ErrDisposed is returned when a disposed runtime is asked to do work.
	ErrDisposed = errors.New("agent runtime disposed")
)

// GovernedRejectionError carries the details of a governance veto. It
// unwraps to ErrGovernedRejection.
type GovernedRejectionError struct {
	Verdict    string
	Similarity float64
	Thread     string
}

// Error implements error.
func (e *GovernedRejectionError) Error() string {
	return fmt.Sprintf("%s: verdict=%s similarity=%.3f thread=%s", ErrGovernedRejection, e.Verdict, e.Similarity, e.Thread)
}

// Unwrap exposes the sentinel for errors.Is.
func (e *GovernedRejectionError) Unwrap() error { return ErrGovernedRejection }

// IsGovernedRejection reports whether err (or anything it wraps) is a
// governance veto and returns its details when available.
func IsGovernedRejection(err error) (*GovernedRejectionError, bool) {
	var gre *GovernedRejectionError
	if errors.As(err, &gre) {
		return gre, true
	}
	return nil, errors.Is(err, ErrGovernedRejection)
}
