package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
)

const navigationPause = time.Second

// Cookie is a browser cookie.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	HTTPOnly bool
	Secure   bool
}

// Browser starts isolated browser sessions.
type Browser interface {
	Launch(ctx context.Context) (Page, error)
}

// Page is a single tab of a launched browser. Close releases the whole browser session.
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	SetCookie(ctx context.Context, cookie Cookie) error
	Cookies(ctx context.Context) ([]Cookie, error)
	Close() error
}

// BrowserConfig ...
type BrowserConfig struct {
	SSOURL       string
	CookieDomain string
	PortalDomain string
	// NavigationAttempts bounds the SSO navigation loop, values below 1 mean a single attempt.
	NavigationAttempts int
	// NavigationTimeout limits every single navigation, 0 means no limit.
	NavigationTimeout time.Duration
}

// BrowserProvider signs in through the forum SSO flow in a headless browser.
type BrowserProvider struct {
	browser         Browser
	config          BrowserConfig
	logger          log.Logger
	navigationPause time.Duration
}

// NewBrowserProvider ...
func NewBrowserProvider(browser Browser, config BrowserConfig, logger log.Logger) *BrowserProvider {
	return &BrowserProvider{
		browser:         browser,
		config:          config,
		logger:          logger,
		navigationPause: navigationPause,
	}
}

type ssoResponse struct {
	URL string `json:"url"`
}

// Session ...
func (p *BrowserProvider) Session(ctx context.Context, cookie string) (Session, error) {
	page, err := p.browser.Launch(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			p.logger.Warnf("Failed to close browser: %s", closeErr)
		}
	}()

	redirectURL, err := p.redirectURL(ctx, page)
	if err != nil {
		return Session{}, err
	}

	p.logger.Infof("Setting forum cookie in browser context ...")
	if err := page.SetCookie(ctx, Cookie{
		Name:     ForumCookieName,
		Value:    cookie,
		Domain:   p.config.CookieDomain,
		Path:     "/",
		HTTPOnly: true,
		Secure:   true,
	}); err != nil {
		return Session{}, fmt.Errorf("set forum cookie: %w", err)
	}
	p.logger.Infof("Cookie set. Following portal redirect ...")

	if err := p.navigate(ctx, page, redirectURL); err != nil {
		return Session{}, fmt.Errorf("follow portal redirect: %w", err)
	}

	finalURL, err := page.URL(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("read page url: %w", err)
	}
	if !strings.Contains(finalURL, p.config.PortalDomain) {
		p.logger.Debugf("Redirect ended at %s", finalURL)
		return Session{}, classify.New(
			classify.KindAuth,
			"Redirect failed. Make sure the provided cookie is valid.",
			false,
			"Use a fresh _t cookie from forum.cfx.re.",
		)
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("read browser cookies: %w", err)
	}

	return Session{
		CookieHeader: joinCookies(cookies),
		Source:       SourceBrowser,
	}, nil
}

// redirectURL loads the SSO endpoint, reads the forum redirect from its JSON
// body and opens the forum origin so the cookie can be set on it.
func (p *BrowserProvider) redirectURL(ctx context.Context, page Page) (string, error) {
	attempts := p.config.NavigationAttempts
	if attempts < 1 {
		attempts = 1
	}

	var redirectURL string
	err := retry.Times(uint(attempts - 1)).Wait(p.navigationPause).TryWithAbort(func(attempt uint) (error, bool) {
		if ctx.Err() != nil {
			return ctx.Err(), true
		}

		target, err := p.followSSO(ctx, page)
		if err != nil {
			p.logger.Warnf("Failed to navigate to SSO URL (attempt %d/%d).", attempt+1, attempts)
			p.logger.Debugf("SSO navigation error: %s", err)
			return err, false
		}

		redirectURL = target
		return nil, true
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", classify.New(
			classify.KindAuth,
			fmt.Sprintf("Failed to navigate to SSO URL after %d attempts.", attempts),
			false,
			"Verify cfx endpoints are reachable and try again later.",
		)
	}

	return redirectURL, nil
}

func (p *BrowserProvider) followSSO(ctx context.Context, page Page) (string, error) {
	p.logger.Infof("Navigating to SSO URL ...")
	if err := p.navigate(ctx, page, p.config.SSOURL); err != nil {
		return "", err
	}

	p.logger.Infof("Navigated to SSO URL. Parsing response body ...")
	html, err := page.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}

	target, err := redirectFromPage(html)
	if err != nil {
		return "", err
	}
	p.logger.Debugf("Parsed response body.")

	origin, err := originOf(target)
	if err != nil {
		return "", err
	}

	p.logger.Infof("Redirected to Forum Origin ...")
	if err := p.navigate(ctx, page, origin); err != nil {
		return "", err
	}

	return target, nil
}

func (p *BrowserProvider) navigate(ctx context.Context, page Page, target string) error {
	if p.config.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.NavigationTimeout)
		defer cancel()
	}
	return page.Navigate(ctx, target)
}

// redirectFromPage extracts the url field of the JSON document the browser rendered as a page.
func redirectFromPage(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	body := strings.TrimSpace(doc.Find("body").Text())

	var response ssoResponse
	if err := json.Unmarshal([]byte(body), &response); err != nil {
		return "", fmt.Errorf("decode SSO response: %w", err)
	}
	if response.URL == "" {
		return "", errors.New("SSO response has no url")
	}

	return response.URL, nil
}

func originOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("redirect url is not absolute: %s", rawURL)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

func joinCookies(cookies []Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		pairs = append(pairs, cookie.Name+"="+cookie.Value)
	}
	return strings.Join(pairs, "; ")
}
