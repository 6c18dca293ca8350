package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/cappr/internal/registry"
	"github.com/samcharles93/cappr/pkg/cappr"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps a scoring error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, cappr.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, cappr.ErrPrecondition):
		return http.StatusUnprocessableEntity, "precondition_error"
	case errors.Is(err, cappr.ErrUserCanceled):
		return http.StatusConflict, "user_canceled"
	case errors.Is(err, cappr.ErrPermanent):
		return http.StatusBadGateway, "backend_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
