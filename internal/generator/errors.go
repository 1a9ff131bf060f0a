package generator

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError represents a non-2xx response from a generation backend. The
// dispatcher's retry classifier decides on StatusCode alone.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "generator: api error <nil>"
	}
	status := strings.TrimSpace(e.Status)
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("generator: api error (%s)", status)
	}
	return fmt.Sprintf("generator: api error (%s): %s", status, body)
}

func newAPIError(statusCode int, body string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		Body:       body,
	}
}

// MalformedError marks a response body the backend returned with a 2xx
// status but that cannot be interpreted as a completion. It is always
// fatal: retrying a parse failure cannot help.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	if e == nil {
		return "generator: malformed response"
	}
	return "generator: malformed response: " + e.Reason
}
