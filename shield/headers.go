package shield

import "net/http"

// HeaderConfig defines the security headers applied to every response.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	CacheControl        string
}

// APIHeaders is the configuration for JSON responses: nothing may be
// framed, sniffed or executed.
func APIHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		CacheControl:        "no-store",
	}
}

// SecurityHeaders returns middleware that sets the non-empty headers of cfg.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	set := map[string]string{
		"Content-Security-Policy": cfg.CSP,
		"X-Frame-Options":         cfg.XFrameOptions,
		"X-Content-Type-Options":  cfg.XContentTypeOptions,
		"Referrer-Policy":         cfg.ReferrerPolicy,
		"Cache-Control":           cfg.CacheControl,
	}
	for k, v := range set {
		if v == "" {
			delete(set, k)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range set {
				w.Header().Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}
