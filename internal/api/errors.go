package api

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

var (
	// ErrNotFound marks a 404 from the backend. It is always wrapped in a
	// *StatusError so callers can still read the body.
	ErrNotFound = errors.New("api: resource not found")
	// ErrNoMoreMessages is returned by NextMessage when the script for a
	// conversation is exhausted (404 on next-message).
	ErrNoMoreMessages = errors.New("api: no further scripted message")
	// ErrMalformedMessage is returned by NextMessage when the backend answers
	// 2xx but the payload carries no message key.
	ErrMalformedMessage = errors.New("api: malformed next-message payload")
)

const maxErrorBody = 200

// StatusError is any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("api: %s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func newStatusError(method, path string, code int, body []byte) *StatusError {
	text := string(body)
	if len(text) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return &StatusError{Method: method, Path: path, StatusCode: code, Body: text}
}
