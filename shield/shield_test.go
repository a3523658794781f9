package shield

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/bravo/idgen"
)

func TestAPIStackHeaders(t *testing.T) {
	// WHAT: Responses carry the API security headers and a request ID.
	// WHY: The API is public-facing JSON; a missing nosniff or CSP is a regression.
	NewRequestID = idgen.Sequence("req")
	t.Cleanup(func() { NewRequestID = idgen.Prefixed("req_", idgen.Default) })

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := chi.NewRouter()
	for _, mw := range APIStack(logger) {
		r.Use(mw)
	}
	var seenID string
	r.Get("/x", func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		GetLogger(r.Context()).Info("inside")
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	for h, want := range map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"X-Request-ID":            "req-1",
	} {
		if got := w.Header().Get(h); got != want {
			t.Errorf("%s: got %q, want %q", h, got, want)
		}
	}
	if seenID != "req-1" {
		t.Errorf("context id: %q", seenID)
	}
	out := buf.String()
	if !strings.Contains(out, `"status":418`) || !strings.Contains(out, `"request_id":"req-1"`) {
		t.Errorf("request log: %s", out)
	}
}

func TestHeadToGet(t *testing.T) {
	// WHAT: HEAD on a GET route answers 200, not 405.
	r := chi.NewRouter()
	r.Use(HeadToGet)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("HEAD status: %d", w.Code)
	}
}

func TestRecover(t *testing.T) {
	// WHAT: A panicking handler yields a 500 and the server keeps serving.
	var buf bytes.Buffer
	h := Recover(slog.New(slog.NewTextHandler(&buf, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: %d", w.Code)
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestSecurityHeadersSkipsEmpty(t *testing.T) {
	h := SecurityHeaders(HeaderConfig{XFrameOptions: "SAMEORIGIN"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Errorf("frame options: %q", w.Header().Get("X-Frame-Options"))
	}
	if _, ok := w.Header()["Content-Security-Policy"]; ok {
		t.Error("empty CSP was set")
	}
}
