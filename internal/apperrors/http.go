package apperrors

import (
	"context"
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the status code the deployments API answers with.
// Remote failures become 502 unless the remote call ran out of time.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrRemoteOperation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
