package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// GroupBlockedMarker is the fragment of the backend's 403 detail that means the
// user's group has been blocked by an administrator.
const GroupBlockedMarker = "группа заблокирована"

var (
	// ErrUnauthorized matches 401 responses and calls made without a token.
	ErrUnauthorized = errors.New("not signed in or session expired")
	// ErrGroupBlocked matches 403 responses carrying GroupBlockedMarker.
	ErrGroupBlocked = errors.New("group is blocked")
	// ErrMalformedID is returned when the backend resolves a code to an id
	// that is not an integer.
	ErrMalformedID = errors.New("malformed spool id")
)

// Error is a non-2xx response from the backend.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// Is lets errors.Is match the classified sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrGroupBlocked:
		return e.groupBlocked()
	}
	return false
}

func (e *Error) groupBlocked() bool {
	return e.StatusCode == http.StatusForbidden && strings.Contains(e.Detail, GroupBlockedMarker)
}

// IsStatus reports whether err is an *Error with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

// Detail returns the backend's detail text for err, or err's own message.
func Detail(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}

// parseDetail extracts FastAPI's "detail" field, which is either a string or a
// list of validation problems.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}

	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		return text
	}

	var problems []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &problems); err == nil {
		msgs := make([]string, 0, len(problems))
		for _, p := range problems {
			if len(p.Loc) > 0 {
				msgs = append(msgs, fmt.Sprintf("%v: %s", p.Loc[len(p.Loc)-1], p.Msg))
				continue
			}
			msgs = append(msgs, p.Msg)
		}
		return strings.Join(msgs, "; ")
	}
	return string(envelope.Detail)
}
