package auth

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// ChromeBrowser launches a headless Chrome per session through the DevTools protocol.
type ChromeBrowser struct {
	execPath string
	logger   log.Logger
}

// NewChromeBrowser returns a browser using the Chrome found on the PATH, or execPath when it is set.
func NewChromeBrowser(execPath string, logger log.Logger) *ChromeBrowser {
	return &ChromeBrowser{
		execPath: execPath,
		logger:   logger,
	}
}

// Launch starts a new Chrome process with a fresh profile.
func (b *ChromeBrowser) Launch(_ context.Context) (Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}

	// The browser lives until Close, not until ctx is done.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(b.logger.Debugf),
		chromedp.WithErrorf(b.logger.Debugf),
	)

	page := &chromePage{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}

	// The first Run starts the browser process and binds it to the context it gets.
	if err := chromedp.Run(tabCtx); err != nil {
		if closeErr := page.Close(); closeErr != nil {
			b.logger.Debugf("close browser: %s", closeErr)
		}
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	b.logger.Debugf("Chrome started")

	return page, nil
}

type chromePage struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var location string
	err := p.run(ctx, chromedp.Location(&location))
	return location, err
}

func (p *chromePage) SetCookie(ctx context.Context, cookie Cookie) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie(cookie.Name, cookie.Value).
			WithDomain(cookie.Domain).
			WithPath(cookie.Path).
			WithHTTPOnly(cookie.HTTPOnly).
			WithSecure(cookie.Secure).
			Do(ctx)
	}))
}

func (p *chromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		browserCookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range browserCookies {
			cookies = append(cookies, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			})
		}
		return nil
	}))
	return cookies, err
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancelTab()
	p.cancelAlloc()
	return err
}

// run executes actions on the tab, giving up when ctx is done.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
