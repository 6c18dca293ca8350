package cappr

import (
	"fmt"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/inference"
	"github.com/samcharles93/cappr/internal/remote"
)

var (
	ErrInvalidInput = errdefs.ErrInvalidInput
	ErrPrecondition = errdefs.ErrPrecondition
	ErrPermanent    = errdefs.ErrPermanent
	ErrNaNLogits    = errdefs.ErrNaNLogits
	// ErrUserCanceled is returned when the cost confirmation is declined. It
	// is not a failure of the backend.
	ErrUserCanceled = errdefs.ErrUserCanceled
	ErrPaddingSide  = inference.ErrPaddingSide
	// ErrNotSequence is returned by ToTexts for a bare string.
	ErrNotSequence = fmt.Errorf("%w: expected a list of texts, got a single string", errdefs.ErrInvalidInput)
)

// StatusError is a non-2xx response from a remote completions API.
type StatusError = remote.StatusError
