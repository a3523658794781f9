// Package observability builds the process logger.
//
// Every component logs through log/slog. NewLogger picks the handler (JSON
// by default) and, under GitHub Actions, wraps it in an AnnotationHandler so
// warnings and errors also surface as workflow annotations.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Options configures NewLogger.
type Options struct {
	Level  string    // debug | info | warn | error. Default: info.
	Format string    // json | text. Default: json.
	Output io.Writer // Default: os.Stdout.
	// Annotations prints ::warning:: / ::error:: lines to AnnotationOutput.
	// Default: true when GITHUB_ACTIONS=true.
	Annotations      *bool
	AnnotationOutput io.Writer // Default: os.Stdout.
}

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InGitHubActions reports whether the process runs in a GitHub Actions job.
func InGitHubActions() bool { return os.Getenv("GITHUB_ACTIONS") == "true" }

// NewLogger builds the process logger.
func NewLogger(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		h = slog.NewTextHandler(out, hopts)
	} else {
		h = slog.NewJSONHandler(out, hopts)
	}

	annotate := InGitHubActions()
	if opts.Annotations != nil {
		annotate = *opts.Annotations
	}
	if annotate {
		aout := opts.AnnotationOutput
		if aout == nil {
			aout = os.Stdout
		}
		h = NewAnnotationHandler(h, aout)
	}
	return slog.New(h)
}

// AnnotationHandler forwards every record to the wrapped handler and prints
// Warn and Error records as GitHub Actions workflow commands.
type AnnotationHandler struct {
	next  slog.Handler
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
}

// NewAnnotationHandler wraps next.
func NewAnnotationHandler(next slog.Handler, out io.Writer) *AnnotationHandler {
	return &AnnotationHandler{next: next, out: out, mu: &sync.Mutex{}}
}

func (h *AnnotationHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= slog.LevelWarn || h.next.Enabled(ctx, l)
}

func (h *AnnotationHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		cmd := "warning"
		if r.Level >= slog.LevelError {
			cmd = "error"
		}
		h.mu.Lock()
		fmt.Fprintf(h.out, "::%s::%s\n", cmd, escapeData(annotationText(r, h.attrs)))
		h.mu.Unlock()
	}
	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *AnnotationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &AnnotationHandler{next: h.next.WithAttrs(attrs), out: h.out, mu: h.mu, attrs: merged}
}

// WithGroup is passed through. Annotation text stays flat.
func (h *AnnotationHandler) WithGroup(name string) slog.Handler {
	return &AnnotationHandler{next: h.next.WithGroup(name), out: h.out, mu: h.mu, attrs: h.attrs}
}

// annotationText renders "message key=value ..." with the handler's and the
// record's attributes.
func annotationText(r slog.Record, pre []slog.Attr) string {
	var b strings.Builder
	b.WriteString(r.Message)
	write := func(a slog.Attr) bool {
		if a.Equal(slog.Attr{}) {
			return true
		}
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.Resolve().String())
		return true
	}
	for _, a := range pre {
		write(a)
	}
	r.Attrs(write)
	return b.String()
}

// escapeData applies the workflow-command escaping of message data.
func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}
