// Package fault defines the failure kinds shared by issuance and enrollment.
//
// Errors returned by the pki and enrollment packages match one of the
// sentinel kinds below with errors.Is. Cancellation is reported as the
// context error instead.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed input such as a bad registration id or IP address.
	ErrValidation = errors.New("validation error")

	// ErrCrypto is returned when key generation, signing or encoding fails.
	ErrCrypto = errors.New("crypto error")

	// ErrAuthorityState is returned when the issuing authority is unusable.
	ErrAuthorityState = errors.New("authority state error")

	// ErrProvisioning is returned when the provisioning service does not assign the device.
	ErrProvisioning = errors.New("provisioning error")

	// ErrUnsupportedAuth is returned for an authentication kind the client does not handle.
	ErrUnsupportedAuth = errors.New("unsupported authentication")
)

// Error attaches a failure kind and the failing operation to an underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Validation returns an ErrValidation failure for op.
func Validation(op, format string, args ...any) error {
	return newf(ErrValidation, op, format, args...)
}

// Crypto returns an ErrCrypto failure for op.
func Crypto(op, format string, args ...any) error {
	return newf(ErrCrypto, op, format, args...)
}

// AuthorityState returns an ErrAuthorityState failure for op.
func AuthorityState(op, format string, args ...any) error {
	return newf(ErrAuthorityState, op, format, args...)
}

// Unsupported returns an ErrUnsupportedAuth failure for op.
func Unsupported(op, format string, args ...any) error {
	return newf(ErrUnsupportedAuth, op, format, args...)
}

// KindOf reports which sentinel kind err carries, or nil when it carries none.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrCrypto, ErrAuthorityState, ErrProvisioning, ErrUnsupportedAuth} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
