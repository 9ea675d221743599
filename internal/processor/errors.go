package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/adolago/agent-core-sub009/pkg/models"
)

// Error names recorded on AssistantMessage.Error. These are the only
// error states visible above the processor.
const (
	ErrorAborted = "aborted"
	ErrorAPI     = "api_error"
	ErrorUnknown = "unknown"
)

// ErrAborted indicates cancellation was observed. Never retried.
var ErrAborted = errors.New("aborted")

// APIError is a provider failure with an HTTP status code. Retryable
// controls whether the processor may schedule another attempt.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// NewAPIError builds an APIError, deriving retryability from the status
// code: request timeouts, rate limits, and server errors are retryable.
func NewAPIError(statusCode int, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Retryable:  statusCode == 408 || statusCode == 429 || statusCode >= 500,
	}
}

// classify maps a failure into the message error taxonomy.
func classify(err error) *models.MessageError {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &models.MessageError{Name: ErrorAborted, Message: "the operation was aborted"}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &models.MessageError{
			Name:    ErrorAPI,
			Message: apiErr.Message,
			Data: map[string]any{
				"status_code": apiErr.StatusCode,
				"retryable":   apiErr.Retryable,
			},
		}
	}
	return &models.MessageError{Name: ErrorUnknown, Message: err.Error()}
}

// retryable reports whether a failure may be retried at all. Aborts are
// never retried; unknown errors are terminal.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}
