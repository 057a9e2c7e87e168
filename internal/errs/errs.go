// Package errs defines the typed error conditions surfaced to callers.
//
// Every failure that crosses a component boundary is an *Error carrying a
// Kind. Callers match on kind with errors.Is against the sentinel values:
//
//	if errors.Is(err, errs.ErrStillLocked) {
//		// expected, not a fault
//	}
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind categorizes an error.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindAuthentication      Kind = "authentication"
	KindCorruptedPayload    Kind = "corrupted_payload"
	KindPayloadTooLarge     Kind = "payload_too_large"
	KindAuthConfig          Kind = "auth_config"
	KindNetwork             Kind = "network"
	KindTimeout             Kind = "timeout"
	KindStillLocked         Kind = "still_locked"
	KindNotFound            Kind = "not_found"
	KindContractNotFound    Kind = "contract_not_found"
	KindMissingNonce        Kind = "missing_nonce"
	KindUserCancelled       Kind = "user_cancelled"
	KindDeployment          Kind = "deployment"
	KindStorage             Kind = "storage"
	KindInternal            Kind = "internal"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds}
	ErrAuthentication      = &Error{Kind: KindAuthentication}
	ErrCorruptedPayload    = &Error{Kind: KindCorruptedPayload}
	ErrPayloadTooLarge     = &Error{Kind: KindPayloadTooLarge}
	ErrAuthConfig          = &Error{Kind: KindAuthConfig}
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrStillLocked         = &Error{Kind: KindStillLocked}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrContractNotFound    = &Error{Kind: KindContractNotFound}
	ErrMissingNonce        = &Error{Kind: KindMissingNonce}
	ErrUserCancelled       = &Error{Kind: KindUserCancelled}
	ErrDeployment          = &Error{Kind: KindDeployment}
	ErrStorage             = &Error{Kind: KindStorage}
)

// Error is a classified failure of an operation.
type Error struct {
	// Op is the operation that failed, e.g. "ipfs.Upload".
	Op string

	// Kind classifies the failure.
	Kind Kind

	// Err is the underlying cause, if any.
	Err error
}

// E builds an *Error.
func E(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, and by Op when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// KindOf returns the kind of the outermost *Error in err's chain.
// Unclassified errors are KindInternal; nil is "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the same input.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout:
		return true
	}
	return false
}

// Expected reports conditions that are not faults from the user's point of
// view: a memory that is still locked, or a signature the user declined.
func Expected(err error) bool {
	switch KindOf(err) {
	case KindStillLocked, KindUserCancelled:
		return true
	}
	return false
}

// Classify wraps a raw transport error as Timeout or Network.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return E(op, KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return E(op, KindTimeout, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return E(op, KindTimeout, err)
	}
	return E(op, KindNetwork, err)
}
