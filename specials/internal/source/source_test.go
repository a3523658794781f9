package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestCheck(t *testing.T) {
	// WHAT: Raw responses map onto blocked / transient / ok.
	// WHY: The collector's whole retry policy keys off this classification.
	tests := []struct {
		name    string
		resp    Response
		blocked bool
		failure bool
	}{
		{"ok html", Response{200, []byte("<html><title>On Special | Coles</title></html>")}, false, false},
		{"ok json", Response{200, []byte(`{"title":"access denied"}`)}, false, false},
		{"forbidden", Response{403, nil}, true, false},
		{"marker", Response{200, []byte("<html><body><h1>Pardon Our Interruption</h1></body></html>")}, true, false},
		{"title keyword", Response{200, []byte("<html><head><title>Access Denied</title></head></html>")}, true, false},
		{"rate limited", Response{429, []byte("slow down")}, false, true},
		{"server error", Response{503, nil}, false, true},
		{"not found", Response{404, []byte("<html><title>Not found</title></html>")}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.resp
			err := Check(&resp)
			if got := errors.Is(err, ErrBlocked); got != tt.blocked {
				t.Errorf("blocked = %v, want %v (err %v)", got, tt.blocked, err)
			}
			var fe *FetchError
			if got := errors.As(err, &fe); got != tt.failure {
				t.Errorf("failure = %v, want %v (err %v)", got, tt.failure, err)
			}
			if tt.failure && fe.Kind != KindTransient {
				t.Errorf("kind = %v, want transient", fe.Kind)
			}
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	// WHAT: Wrapped errors keep their outcome.
	// WHY: Adapters wrap with context; classification must see through it.
	if OutcomeOf(nil) != OutcomeOK {
		t.Error("nil should be OK")
	}
	if OutcomeOf(fmt.Errorf("page 3: %w", ErrBlocked)) != OutcomeBlocked {
		t.Error("wrapped ErrBlocked should be blocked")
	}
	err := fmt.Errorf("page 3: %w", Parse(errors.New("no __NEXT_DATA__")))
	if OutcomeOf(err) != OutcomeFailure || KindOf(err) != KindParse {
		t.Errorf("parse failure misclassified: %v", err)
	}
	if KindOf(errors.New("boom")) != KindTransient {
		t.Error("unknown errors default to transient")
	}
}

func TestDiscountPct(t *testing.T) {
	// WHAT: Discount is round(save/was*100), absent when inputs are not positive.
	// WHY: Stores report save and was separately; the percentage is derived.
	tests := []struct {
		was, save float64
		want      int // 0 = nil
	}{
		{10, 5, 50},
		{3, 1, 33},
		{4.5, 2.25, 50},
		{0, 1, 0},
		{10, 0, 0},
		{1000, 1, 0},
	}
	for _, tt := range tests {
		got := DiscountPct(tt.was, tt.save)
		if tt.want == 0 {
			if got != nil {
				t.Errorf("DiscountPct(%v, %v) = %d, want nil", tt.was, tt.save, *got)
			}
			continue
		}
		if got == nil || *got != tt.want {
			t.Errorf("DiscountPct(%v, %v) = %v, want %d", tt.was, tt.save, got, tt.want)
		}
	}
}

func TestCleanText(t *testing.T) {
	// WHAT: Markup and entities are stripped, whitespace collapsed.
	// WHY: Names arrive with <b> tags and &amp; from some listings.
	got := CleanText("  Arnott's <b>Tim Tam</b>\n  Original &amp; Dark  ")
	if got != "Arnott's Tim Tam Original & Dark" {
		t.Errorf("got %q", got)
	}
}

func TestHTTPTransportSession(t *testing.T) {
	// WHAT: The warm-up sets a cookie that later requests carry, with AU headers.
	// WHY: The stores gate listings on a session cookie from the landing page.
	var sawCookie, sawLang atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/landing":
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
			fmt.Fprint(w, "<html><title>Home</title></html>")
		case "/list":
			if c, err := r.Cookie("sid"); err == nil && c.Value == "abc" {
				sawCookie.Store(true)
			}
			sawLang.Store(r.Header.Get("Accept-Language") == "en-AU,en;q=0.9")
			fmt.Fprint(w, `{"ok":true}`)
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{UserAgent: "test-agent"})
	ctx := context.Background()
	if err := tr.Open(ctx, srv.URL+"/landing"); err != nil {
		t.Fatalf("open: %v", err)
	}
	resp, err := tr.Do(ctx, &Request{URL: srv.URL + "/list"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != `{"ok":true}` {
		t.Errorf("resp: %d %s", resp.Status, resp.Body)
	}
	if !sawCookie.Load() {
		t.Error("cookie from warm-up not sent")
	}
	if !sawLang.Load() {
		t.Error("Accept-Language not set")
	}
}

func TestHTTPTransportBlockedLanding(t *testing.T) {
	// WHAT: A challenge on the landing page is reported as ErrBlocked.
	// WHY: The collector must not start walking pages behind a challenge.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><title>Pardon Our Interruption</title></html>")
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{})
	if err := tr.Open(context.Background(), srv.URL); !errors.Is(err, ErrBlocked) {
		t.Errorf("want ErrBlocked, got %v", err)
	}
}

func TestHTTPTransportNetworkError(t *testing.T) {
	// WHAT: A refused connection is a transient FetchError.
	// WHY: Network faults are retried with backoff, not treated as blocks.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := NewHTTPTransport(HTTPConfig{})
	_, err := tr.Do(context.Background(), &Request{URL: url})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindTransient {
		t.Errorf("want transient FetchError, got %v", err)
	}
}
