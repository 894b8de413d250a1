package store

import (
	"errors"
	"fmt"
)

// RemoteErrorKind classifies a remote store failure for retry decisions.
type RemoteErrorKind string

const (
	// KindTransient covers network errors, timeouts and 5xx responses. The
	// operation should be retried later.
	KindTransient RemoteErrorKind = "transient"
	// KindRejected covers business-rule rejections by the authoritative store
	// (constraint violations, bad payloads). Retrying unchanged will not help.
	KindRejected RemoteErrorKind = "rejected"
	// KindAuth covers authentication/authorization failures. These are
	// store-wide: once the service rejects credentials, the whole batch stops.
	KindAuth RemoteErrorKind = "auth"
)

// RemoteError wraps a remote store failure with its classification.
type RemoteError struct {
	Kind   RemoteErrorKind
	Entity string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("remote %s (%s): %v", e.Kind, e.Entity, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable remote failure.
func Transient(entity string, err error) error {
	return &RemoteError{Kind: KindTransient, Entity: entity, Err: err}
}

// Rejected wraps err as a non-retryable remote rejection.
func Rejected(entity string, err error) error {
	return &RemoteError{Kind: KindRejected, Entity: entity, Err: err}
}

// AuthFailure wraps err as a store-wide credential failure.
func AuthFailure(err error) error {
	return &RemoteError{Kind: KindAuth, Err: err}
}

// IsTransient reports whether err is a retryable remote failure.
func IsTransient(err error) bool { return kindOf(err) == KindTransient }

// IsRejected reports whether err is a remote business-rule rejection.
func IsRejected(err error) bool { return kindOf(err) == KindRejected }

// IsAuthFailure reports whether err is a store-wide credential failure.
func IsAuthFailure(err error) bool { return kindOf(err) == KindAuth }

func kindOf(err error) RemoteErrorKind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
