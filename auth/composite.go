package auth

import (
	"context"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
)

// CompositeProvider picks the provider by Mode. In ModeAuto it tries HTTP
// first and falls back to the browser when the failure looks recoverable
// by a real sign-in.
type CompositeProvider struct {
	mode    Mode
	http    Provider
	browser Provider
	logger  log.Logger
}

// NewCompositeProvider ...
func NewCompositeProvider(mode Mode, httpProvider, browserProvider Provider, logger log.Logger) *CompositeProvider {
	return &CompositeProvider{
		mode:    mode,
		http:    httpProvider,
		browser: browserProvider,
		logger:  logger,
	}
}

// Session ...
func (p *CompositeProvider) Session(ctx context.Context, cookie string) (Session, error) {
	switch p.mode {
	case ModeHTTP:
		return p.http.Session(ctx, cookie)
	case ModeBrowser:
		return p.browser.Session(ctx, cookie)
	}

	p.logger.Infof("Authenticating with HTTP-first strategy ...")
	session, err := p.http.Session(ctx, cookie)
	if err == nil {
		return session, nil
	}

	if !shouldFallbackToBrowser(err) {
		return Session{}, err
	}

	p.logger.Warnf("HTTP authentication failed, falling back to browser authentication.")
	p.logger.Debugf("HTTP authentication error: %s", err)

	return p.browser.Session(ctx, cookie)
}

func shouldFallbackToBrowser(err error) bool {
	classified := classify.Classify(err, classify.KindAuth)

	if classified.Kind == classify.KindTimeout || classified.Retriable {
		return true
	}

	if classified.Kind == classify.KindAuth &&
		(classified.StatusCode == http.StatusUnauthorized || classified.StatusCode == http.StatusForbidden) {
		return true
	}

	return classify.HasChallengeSignature(classified.Message) || classify.HasChallengeSignature(err.Error())
}
