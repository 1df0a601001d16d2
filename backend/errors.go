package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ValidationError is detected locally and never reaches the backend.
// Err, when set, is the sentinel the check failed on.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RemoteError means the backend answered with a non-2xx status.
// Detail is the backend's human-readable message, shown verbatim.
type RemoteError struct {
	Status int
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
}

// Unauthorized reports a 401/403 from the backend.
func (e *RemoteError) Unauthorized() bool { return e.Status == 401 || e.Status == 403 }

// NetworkError means the request was sent but no response came back.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: no response: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// UnexpectedError covers everything else, e.g. a malformed response body.
type UnexpectedError struct {
	Op  string
	Err error
}

func (e *UnexpectedError) Error() string { return fmt.Sprintf("%s: unexpected: %v", e.Op, e.Err) }
func (e *UnexpectedError) Unwrap() error { return e.Err }

// Classify reports which of the four kinds err belongs to.
func Classify(err error) string {
	var (
		ve *ValidationError
		re *RemoteError
		ne *NetworkError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &re):
		return "remote"
	case errors.As(err, &ne):
		return "network"
	default:
		return "unexpected"
	}
}

// UserMessage turns any error into text for the page that started the action.
// Validation and remote details are shown as-is; the rest fall back to a fixed notice.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var re *RemoteError
	if errors.As(err, &re) && re.Detail != "" {
		return re.Detail
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return fallback + " (the server could not be reached)"
	}
	return fallback
}

// parseDetail pulls FastAPI's "detail" out of an error body.
// detail is either a string or a list of {"msg": ...} objects.
func parseDetail(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(env.Detail) == 0 {
		return env.Error
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		return s
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &list); err == nil {
		msgs := make([]string, 0, len(list))
		for _, m := range list {
			if m.Msg != "" {
				msgs = append(msgs, m.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return string(env.Detail)
}
