package auth

import (
	"context"

	"github.com/bitrise-io/go-utils/v2/log"
)

// ForumCookieName is the name of the forum session cookie.
const ForumCookieName = "_t"

// HTTPProvider uses the forum cookie as the portal session as-is.
type HTTPProvider struct {
	verifier SessionVerifier
	logger   log.Logger
}

// NewHTTPProvider ...
func NewHTTPProvider(verifier SessionVerifier, logger log.Logger) *HTTPProvider {
	return &HTTPProvider{
		verifier: verifier,
		logger:   logger,
	}
}

// Session returns the verifier's error unclassified.
func (p *HTTPProvider) Session(ctx context.Context, cookie string) (Session, error) {
	cookieHeader := ForumCookieName + "=" + cookie

	if err := p.verifier.VerifySession(ctx, cookieHeader); err != nil {
		return Session{}, err
	}
	p.logger.Debugf("HTTP session established directly from forum cookie.")

	return Session{
		CookieHeader: cookieHeader,
		Source:       SourceHTTP,
	}, nil
}
