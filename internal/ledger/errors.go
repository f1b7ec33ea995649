package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies a ledger failure.
type Kind string

const (
	KindMalformedEntry         Kind = "MalformedEntry"
	KindImbalancedEntries      Kind = "ImbalancedEntries"
	KindAccountNotFound        Kind = "AccountNotFound"
	KindInvalidAccountCategory Kind = "InvalidAccountCategory"
	KindLockTimeout            Kind = "LockTimeout"
	KindIdempotencyKeyConflict Kind = "IdempotencyKeyConflict"
	KindCommitFailure          Kind = "CommitFailure"
	KindDeliveryFailure        Kind = "DeliveryFailure"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrMalformedEntry         = &Error{Kind: KindMalformedEntry}
	ErrImbalancedEntries      = &Error{Kind: KindImbalancedEntries}
	ErrAccountNotFound        = &Error{Kind: KindAccountNotFound}
	ErrInvalidAccountCategory = &Error{Kind: KindInvalidAccountCategory}
	ErrLockTimeout            = &Error{Kind: KindLockTimeout}
	ErrIdempotencyKeyConflict = &Error{Kind: KindIdempotencyKeyConflict}
	ErrCommitFailure          = &Error{Kind: KindCommitFailure}
	ErrDeliveryFailure        = &Error{Kind: KindDeliveryFailure}
)

// Error is a classified ledger failure. Message names the violated rule.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an *Error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind.
func WrapError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind carried by err, or "" when err is not a ledger error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether a caller may safely retry with the same idempotency key.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindLockTimeout, KindCommitFailure:
		return true
	}
	return false
}

// Deterministic reports whether err is a client-correctable rejection whose
// outcome never changes on retry. These are the outcomes worth remembering
// against an idempotency key.
func Deterministic(err error) bool {
	switch KindOf(err) {
	case KindMalformedEntry, KindImbalancedEntries, KindAccountNotFound:
		return true
	}
	return false
}
