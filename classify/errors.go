// Package classify maps failures of the upload step onto a fixed set of
// error kinds carrying a retry hint and a user-facing suggestion.
package classify

import (
	"fmt"
)

// Kind ...
type Kind string

// Error kinds.
const (
	KindConfig  Kind = "config"
	KindAuth    Kind = "auth"
	KindPortal  Kind = "portal"
	KindUpload  Kind = "upload"
	KindNetwork Kind = "network"
	KindTimeout Kind = "timeout"
	KindUnknown Kind = "unknown"
)

// Error is the canonical failure passed up through every layer of the step.
// Values are never modified after construction.
type Error struct {
	Kind       Kind
	Message    string
	Retriable  bool
	Suggestion string
	// StatusCode is the HTTP status of the failed request, 0 when there was none.
	StatusCode int
}

// New ...
func New(kind Kind, message string, retriable bool, suggestion string) *Error {
	return &Error{
		Kind:       kind,
		Message:    message,
		Retriable:  retriable,
		Suggestion: suggestion,
	}
}

// NewWithStatus ...
func NewWithStatus(kind Kind, message string, retriable bool, suggestion string, statusCode int) *Error {
	e := New(kind, message, retriable, suggestion)
	e.StatusCode = statusCode
	return e
}

func (e *Error) Error() string {
	return e.Message
}

// HasStatusCode reports whether the error was produced from an HTTP response.
func (e *Error) HasStatusCode() bool {
	return e.StatusCode != 0
}

// Format renders err as the single line shown to the user when the step fails.
func Format(err error) string {
	classified := Classify(err, KindUnknown)
	return fmt.Sprintf("[%s] %s Hint: %s", classified.Kind, classified.Message, classified.Suggestion)
}
