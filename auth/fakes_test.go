package auth

import (
	"context"
	"errors"
)

type fakeProvider struct {
	session Session
	err     error
	calls   int
}

func (p *fakeProvider) Session(context.Context, string) (Session, error) {
	p.calls++
	return p.session, p.err
}

type fakeVerifier struct {
	err     error
	headers []string
}

func (v *fakeVerifier) VerifySession(_ context.Context, cookieHeader string) error {
	v.headers = append(v.headers, cookieHeader)
	return v.err
}

type fakeBrowser struct {
	page      *fakePage
	launchErr error
	launches  int
}

func (b *fakeBrowser) Launch(context.Context) (Page, error) {
	b.launches++
	if b.launchErr != nil {
		return nil, b.launchErr
	}
	return b.page, nil
}

// fakePage serves the SSO payload from ssoHTML and lands on finalURL after
// the portal redirect.
type fakePage struct {
	ssoURL   string
	ssoHTML  string
	finalURL string
	cookies  []Cookie

	// failNavigations makes the first n SSO navigations fail.
	failNavigations int
	setCookieErr    error

	current    string
	visited    []string
	setCookies []Cookie
	closed     int
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.visited = append(p.visited, url)
	if url == p.ssoURL && p.failNavigations > 0 {
		p.failNavigations--
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	p.current = url
	return nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	if p.current == p.ssoURL {
		return p.ssoHTML, nil
	}
	return "<html><body></body></html>", nil
}

func (p *fakePage) URL(context.Context) (string, error) {
	if p.finalURL != "" && len(p.setCookies) > 0 {
		return p.finalURL, nil
	}
	return p.current, nil
}

func (p *fakePage) SetCookie(_ context.Context, cookie Cookie) error {
	if p.setCookieErr != nil {
		return p.setCookieErr
	}
	p.setCookies = append(p.setCookies, cookie)
	return nil
}

func (p *fakePage) Cookies(context.Context) ([]Cookie, error) {
	return p.cookies, nil
}

func (p *fakePage) Close() error {
	p.closed++
	return nil
}
