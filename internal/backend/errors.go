package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ariefcatur/rockband-pos/internal/orders"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrNoActiveSession = errors.New("no active session")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
)

// APIError is a non-2xx answer of the backend. Message is taken from the
// response body when the backend provides one.
type APIError struct {
	Route   string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s", e.Route, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Route, e.Status, http.StatusText(e.Status))
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	}
	return nil
}

// ValidationError reports a missing or invalid field caught before any
// request is sent.
func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

const genericMessage = "Something went wrong talking to the server. Try again."

// UserMessage turns any error of this module into the single line shown
// to the operator.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	var trErr *orders.TransitionError
	switch {
	case errors.Is(err, ErrNoActiveSession):
		return "No active session for this table or wristband. Open a session before ordering."
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, ErrNotFound):
		return "Table, wristband or product not found."
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.As(err, &trErr):
		return trErr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "The server took too long to answer. Try again."
	}
	return genericMessage
}
