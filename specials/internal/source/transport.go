package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/hazyhaar/bravo/specials/internal/browser"
)

// Request is a transport-neutral HTTP request.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// Transport carries requests for an adapter. Do returns any HTTP status as
// a Response; only failures to obtain a response are errors, and those are
// transient FetchErrors.
type Transport interface {
	// Open establishes a session by visiting landingURL. It returns
	// ErrBlocked when the landing page is a challenge.
	Open(ctx context.Context, landingURL string) error
	Do(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// UserAgents are the desktop browsers a session can present as.
var UserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
}

// PickUserAgent returns a random entry of UserAgents.
func PickUserAgent() string { return UserAgents[rand.IntN(len(UserAgents))] }

// HTTPConfig configures HTTPTransport.
type HTTPConfig struct {
	Timeout   time.Duration // Default: 30s.
	MaxBytes  int64         // Max response body size. Default: 16MB.
	UserAgent string        // Default: a random entry of UserAgents.
	Referer   string
	Logger    *slog.Logger
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 16 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = PickUserAgent()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// HTTPTransport fetches directly with a persistent cookie jar and AU
// desktop headers.
type HTTPTransport struct {
	client *http.Client
	cfg    HTTPConfig
}

// NewHTTPTransport creates a transport with a fresh cookie jar.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	cfg.defaults()
	jar, _ := cookiejar.New(nil)
	return &HTTPTransport{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		cfg: cfg,
	}
}

// Open issues the warm-up request that seeds the cookie jar. Only a
// challenge aborts; other warm-up failures are logged and left to the page
// fetches.
func (t *HTTPTransport) Open(ctx context.Context, landingURL string) error {
	resp, err := t.Do(ctx, &Request{Method: http.MethodGet, URL: landingURL})
	if err != nil {
		t.cfg.Logger.Warn("source: warm-up failed", "url", landingURL, "error", err)
		return nil
	}
	if err := Check(resp); err != nil {
		if errors.Is(err, ErrBlocked) {
			return err
		}
		t.cfg.Logger.Warn("source: warm-up failed", "url", landingURL, "error", err)
	}
	return nil
}

// Do performs the request.
func (t *HTTPTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, Transient(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("User-Agent", t.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-AU,en;q=0.9")
	if t.cfg.Referer != "" {
		req.Header.Set("Referer", t.cfg.Referer)
	}
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("http %s: %w", strings.ToLower(method), err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxBytes))
	if err != nil {
		return nil, Transient(fmt.Errorf("read body: %w", err))
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// Close drops idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// SessionTransport issues requests from inside a stealth browser tab so
// cookies and anti-bot tokens set by the store's scripts apply.
type SessionTransport struct {
	mgr       *browser.Manager
	userAgent string
	log       *slog.Logger
	tab       *browser.Tab
}

// NewSessionTransport creates a transport over mgr. The tab is opened by
// Open.
func NewSessionTransport(mgr *browser.Manager, userAgent string, logger *slog.Logger) *SessionTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionTransport{mgr: mgr, userAgent: userAgent, log: logger}
}

// Open navigates a fresh tab to landingURL and checks for a challenge.
func (t *SessionTransport) Open(ctx context.Context, landingURL string) error {
	if t.tab != nil {
		t.tab.Close()
		t.tab = nil
	}
	tab, err := browser.OpenTab(ctx, t.mgr, landingURL, t.userAgent)
	if err != nil {
		return Transient(err)
	}
	title, _ := tab.Title(ctx)
	text, _ := tab.BodyText(ctx, 200)
	if TitleIsChallenge(title) || strings.Contains(strings.ToLower(text), BlockMarker) {
		tab.Close()
		return fmt.Errorf("%w: landing page %q", ErrBlocked, title)
	}
	t.log.Info("source: session established", "url", landingURL, "title", title)
	t.tab = tab
	return nil
}

// Do runs an in-page fetch.
func (t *SessionTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	if t.tab == nil {
		return nil, Transient(errors.New("session not open"))
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	res, err := t.tab.Fetch(ctx, method, r.URL, r.Header, string(r.Body))
	if err != nil {
		return nil, Transient(err)
	}
	return &Response{Status: res.Status, Body: []byte(res.Body)}, nil
}

// Close closes the tab. The browser itself belongs to the manager.
func (t *SessionTransport) Close() error {
	if t.tab == nil {
		return nil
	}
	err := t.tab.Close()
	t.tab = nil
	return err
}
