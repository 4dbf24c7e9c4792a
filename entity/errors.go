package entity

import (
	"errors"
	"fmt"
)

// ErrUnknownShop is returned for a shop name missing from the configuration.
var ErrUnknownShop = errors.New("unknown shop")

// TransientSourceError is a network or rate-limit failure worth retrying.
type TransientSourceError struct {
	Source string
	Err    error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Source, e.Err)
}

func (e *TransientSourceError) Unwrap() error {
	return e.Err
}

// MalformedOrder means a raw record could not be normalized.
type MalformedOrder struct {
	ExternalId string
	Reason     string
}

func (e *MalformedOrder) Error() string {
	if e.ExternalId == "" {
		return fmt.Sprintf("malformed order: %s", e.Reason)
	}
	return fmt.Sprintf("malformed order %s: %s", e.ExternalId, e.Reason)
}

// DispatchError is a failed effect delivery.
type DispatchError struct {
	Target string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s: %v", e.Target, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// InvariantViolation is raised when a document would break the outbox rules.
type InvariantViolation struct {
	ExternalId string
	Reason     string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s", e.ExternalId, e.Reason)
}

// IsRetriable reports whether err may succeed on a later attempt.
func IsRetriable(err error) bool {
	var transient *TransientSourceError
	if errors.As(err, &transient) {
		return true
	}
	var dispatch *DispatchError
	return errors.As(err, &dispatch)
}
