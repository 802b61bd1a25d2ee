package auth

import (
	"github.com/bitrise-io/go-utils/v2/log"
)

// NewProvider wires the HTTP and browser providers behind a CompositeProvider for mode.
func NewProvider(mode Mode, verifier SessionVerifier, browser Browser, browserConfig BrowserConfig, logger log.Logger) Provider {
	httpProvider := NewHTTPProvider(verifier, logger)
	browserProvider := NewBrowserProvider(browser, browserConfig, logger)

	return NewCompositeProvider(mode, httpProvider, browserProvider, logger)
}
