package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Viewport is a desktop window size.
type Viewport struct{ Width, Height int }

// Viewports are common desktop sizes picked at random per tab.
var Viewports = []Viewport{
	{1280, 900}, {1366, 768}, {1440, 900}, {1536, 864}, {1920, 1080},
}

const (
	Locale   = "en-AU"
	Timezone = "Australia/Sydney"
)

// Tab wraps a stealth Rod page that has established a session with a store.
type Tab struct {
	Page    *rod.Page
	manager *Manager
	router  *rod.HijackRouter
}

// OpenTab creates a stealth tab, applies the AU locale, a random viewport
// and userAgent (when non-empty), then navigates to landingURL and waits for
// load plus the settle delay.
func OpenTab(ctx context.Context, mgr *Manager, landingURL, userAgent string) (*Tab, error) {
	b, err := mgr.Browser(ctx)
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	log := mgr.cfg.Logger

	if err := emulateShopper(page, userAgent); err != nil {
		log.Warn("browser: emulation failed", "error", err)
	}
	router := blockResources(page, mgr.cfg.ResourceBlocking)

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(landingURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", landingURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", landingURL, "error", err)
	}

	select {
	case <-ctx.Done():
		page.Close()
		return nil, ctx.Err()
	case <-time.After(mgr.cfg.Settle):
	}

	return &Tab{Page: page, manager: mgr, router: router}, nil
}

func emulateShopper(page *rod.Page, userAgent string) error {
	vp := Viewports[rand.IntN(len(Viewports))]
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: vp.Width, Height: vp.Height, DeviceScaleFactor: 1,
	}); err != nil {
		return err
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: Timezone}).Call(page); err != nil {
		return err
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: Locale}).Call(page); err != nil {
		return err
	}
	if userAgent != "" {
		return page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      userAgent,
			AcceptLanguage: "en-AU,en;q=0.9",
		})
	}
	return nil
}

// Title returns document.title.
func (t *Tab) Title(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.title || ''`)
	if err != nil {
		return "", fmt.Errorf("browser: title: %w", err)
	}
	return res.Value.Str(), nil
}

// BodyText returns the first n characters of the visible body text.
func (t *Tab) BodyText(ctx context.Context, n int) (string, error) {
	res, err := t.Page.Context(ctx).Eval(
		`(n) => (document.body && document.body.innerText || '').substring(0, n)`, n)
	if err != nil {
		return "", fmt.Errorf("browser: body text: %w", err)
	}
	return res.Value.Str(), nil
}

// FetchResult is the outcome of an in-page fetch.
type FetchResult struct {
	Status int
	Body   string
}

const fetchJS = `async (method, url, headers, body) => {
	const init = {method: method, credentials: "include", headers: headers};
	if (body !== "") { init.body = body; }
	const r = await fetch(url, init);
	const t = await r.text();
	return {status: r.status, body: t};
}`

// Fetch issues a request from inside the page so the session's cookies and
// anti-bot tokens apply. Network failures surface as errors; any HTTP status
// is returned as a result.
func (t *Tab) Fetch(ctx context.Context, method, url string, headers map[string]string, body string) (*FetchResult, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	res, err := t.Page.Context(ctx).Eval(fetchJS, strings.ToUpper(method), url, headers, body)
	if err != nil {
		return nil, fmt.Errorf("browser: fetch %s: %w", url, err)
	}
	return &FetchResult{
		Status: res.Value.Get("status").Int(),
		Body:   res.Value.Get("body").Str(),
	}, nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		_ = t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
