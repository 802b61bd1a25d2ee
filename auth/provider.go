// Package auth turns the forum `_t` cookie into a portal session, either by
// sending it to the portal directly or by running the forum SSO flow in a
// headless browser.
package auth

import (
	"context"
	"fmt"
	"strings"
)

// Source tells which provider produced a session.
type Source string

// Session sources.
const (
	SourceHTTP    Source = "http"
	SourceBrowser Source = "browser"
)

// Session is the credential attached to every portal request of a run.
type Session struct {
	CookieHeader string
	Source       Source
}

// Provider ...
type Provider interface {
	Session(ctx context.Context, cookie string) (Session, error)
}

// SessionVerifier checks a cookie header against the portal with a single request.
type SessionVerifier interface {
	VerifySession(ctx context.Context, cookieHeader string) error
}

// Mode selects the providers tried by NewProvider.
type Mode string

// Auth modes.
const (
	ModeAuto    Mode = "auto"
	ModeHTTP    Mode = "http"
	ModeBrowser Mode = "browser"
)

// Modes lists the accepted mode values.
var Modes = []Mode{ModeAuto, ModeHTTP, ModeBrowser}

// ParseMode accepts the modes case-insensitively. An empty value means ModeAuto.
func ParseMode(value string) (Mode, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ModeAuto, nil
	}

	for _, mode := range Modes {
		if string(mode) == normalized {
			return mode, nil
		}
	}

	return "", fmt.Errorf("invalid authMode \"%s\", allowed values are: auto, http, browser", value)
}
