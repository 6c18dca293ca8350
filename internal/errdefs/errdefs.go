// Package errdefs defines the error categories shared by the scoring
// packages. Callers match them with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks caller mistakes caught before any model call:
	// empty sequences, mismatched lengths, malformed priors.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPrecondition marks a backend or tokenizer that is configured in a way
	// the requested path cannot work with.
	ErrPrecondition = errors.New("precondition failed")
	// ErrPermanent marks backend failures that must not be retried.
	ErrPermanent = errors.New("permanent backend error")
	// ErrNaNLogits is returned when a backend produces NaN scores.
	ErrNaNLogits = fmt.Errorf("%w: backend produced NaN logits", ErrPermanent)
	// ErrUserCanceled is returned when the user declines a paid request.
	ErrUserCanceled = errors.New("user canceled")
)

type categorized struct {
	kind error
	msg  string
}

func (e *categorized) Error() string { return e.msg }

func (e *categorized) Unwrap() error { return e.kind }

// InvalidInput formats an error that matches ErrInvalidInput.
func InvalidInput(format string, args ...any) error {
	return &categorized{kind: ErrInvalidInput, msg: fmt.Sprintf(format, args...)}
}

// Precondition formats an error that matches ErrPrecondition.
func Precondition(format string, args ...any) error {
	return &categorized{kind: ErrPrecondition, msg: fmt.Sprintf(format, args...)}
}

// Permanent formats an error that matches ErrPermanent.
func Permanent(format string, args ...any) error {
	return &categorized{kind: ErrPermanent, msg: fmt.Sprintf(format, args...)}
}
