package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

const (
	suggestionTimeout   = "Increase requestTimeoutMs or retry later."
	suggestionAuth      = "Verify cookie value. If this persists, run with authMode=browser."
	suggestionTransient = "Retry the upload. If it keeps failing, increase maxRetries."
	suggestionStatus    = "Check inputs and inspect debug logs for request context."
	suggestionChallenge = "Retry with authMode=browser."
	suggestionNetwork   = "Retry the operation and verify network connectivity."
	suggestionGeneric   = "Inspect debug logs for more details."

	challengeMessage = "Cloudflare challenge detected during authentication."
)

var challengeSignatures = []string{"cloudflare", "challenge", "attention required"}

// StatusCoder is implemented by errors created from an HTTP response.
type StatusCoder interface {
	StatusCode() int
}

type timeoutError interface {
	Timeout() bool
}

// HasChallengeSignature reports whether message looks like a Cloudflare
// challenge page or block notice.
func HasChallengeSignature(message string) bool {
	normalized := strings.ToLower(message)
	for _, signature := range challengeSignatures {
		if strings.Contains(normalized, signature) {
			return true
		}
	}
	return false
}

// Classify converts err into an *Error. An error that is already classified
// (anywhere in its chain) is returned unchanged. An empty fallback means KindUnknown.
func Classify(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	if fallback == "" {
		fallback = KindUnknown
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	message := err.Error()

	if status, timedOut, ok := transportMetadata(err); ok {
		return classifyTransport(message, status, timedOut, fallback)
	}

	if HasChallengeSignature(message) {
		return New(KindAuth, challengeMessage, true, suggestionChallenge)
	}

	return New(fallback, message, false, suggestionGeneric)
}

func classifyTransport(message string, status int, timedOut bool, fallback Kind) *Error {
	switch {
	case timedOut:
		return New(KindTimeout, "Request timed out while communicating with CFX portal.", true, suggestionTimeout)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewWithStatus(KindAuth, fmt.Sprintf("Authentication failed with status %d.", status), false, suggestionAuth, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return NewWithStatus(KindNetwork, fmt.Sprintf("Transient portal error with status %d.", status), true, suggestionTransient, status)
	case status >= 400:
		return NewWithStatus(fallback, fmt.Sprintf("Portal request failed with status %d.", status), false, suggestionStatus, status)
	case HasChallengeSignature(message):
		return NewWithStatus(KindAuth, challengeMessage, true, suggestionChallenge, status)
	default:
		return NewWithStatus(KindNetwork, message, true, suggestionNetwork, status)
	}
}

// transportMetadata extracts the HTTP status and timeout signal from err.
// ok is false when err did not come from the transport layer at all.
func transportMetadata(err error) (status int, timedOut bool, ok bool) {
	var statusErr StatusCoder
	if errors.As(err, &statusErr) {
		status = statusErr.StatusCode()
		ok = true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		timedOut = true
		ok = true
	}

	var timeoutErr timeoutError
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		timedOut = true
		ok = true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		ok = true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		ok = true
	}

	return status, timedOut, ok
}
