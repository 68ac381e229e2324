package model

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can render a precise message.
// Kind implements error, so each kind doubles as a sentinel for errors.Is.
type Kind string

const (
	// ErrValidation covers malformed or missing fields, invalid URLs and
	// dangling group references. Import reports it as an invalid payload.
	ErrValidation Kind = "validation"
	// ErrIntegrityMismatch means a plain container's digest does not match
	// its content: the file is corrupted.
	ErrIntegrityMismatch Kind = "integrity_mismatch"
	// ErrWrongPasswordOrTampered means the envelope tag did not verify.
	ErrWrongPasswordOrTampered Kind = "wrong_password_or_tampered"
	// ErrDecryptionFailed means the tag verified but the cipher rejected the
	// ciphertext; the envelope fields are inconsistent with each other.
	ErrDecryptionFailed Kind = "decryption_failed"
	// ErrMalformedEnvelope means a required envelope field is missing or
	// cannot be decoded.
	ErrMalformedEnvelope Kind = "malformed_envelope"
	// ErrUnsupportedAlgorithm means the envelope names an algorithm or
	// version this build does not know.
	ErrUnsupportedAlgorithm Kind = "unsupported_algorithm"
)

func (k Kind) Error() string { return string(k) }

// Error is a classified failure. Field names the offending field path
// (e.g. "windows.window_2.tabs[0].url") or the processing stage.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrWrongPasswordOrTampered) and friends work.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain,
// or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// IsRetryable reports whether asking the user for a different password
// could make the same operation succeed.
func IsRetryable(err error) bool {
	return KindOf(err) == ErrWrongPasswordOrTampered
}
