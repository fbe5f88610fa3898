package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/qnet/internal/kernels"
	"github.com/samcharles93/qnet/internal/model"
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

// classifyStatus maps a pipeline error to an HTTP status and error type.
func classifyStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, kernels.ErrShapeMismatch),
		errors.Is(err, kernels.ErrInvalidConfig):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, model.ErrMissingScales):
		return http.StatusConflict, "unsupported_mode_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
