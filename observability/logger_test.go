package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn,
		"warning": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "loud": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAnnotations(t *testing.T) {
	// WHAT: Warn and Error records become ::warning:: and ::error:: lines with their attributes.
	// WHY: Scheduled CI runs surface partial and fatal failures in the job summary.
	var logs, ann bytes.Buffer
	on := true
	log := NewLogger(Options{Level: "info", Output: &logs, Annotations: &on, AnnotationOutput: &ann})

	log.Info("collect: page fetched", "page", 1)
	log.With("store", "coles").Warn("collect: category aborted", "category", "Dairy")
	log.Error("collect: store blocked\nagain", "store", "woolworths")

	got := ann.String()
	if strings.Contains(got, "page fetched") {
		t.Errorf("info annotated: %q", got)
	}
	if !strings.Contains(got, "::warning::collect: category aborted store=coles category=Dairy\n") {
		t.Errorf("warning: %q", got)
	}
	if !strings.Contains(got, "::error::collect: store blocked%0Aagain store=woolworths\n") {
		t.Errorf("error: %q", got)
	}
	if n := strings.Count(logs.String(), "\n"); n != 3 {
		t.Errorf("wrapped handler got %d records, want 3", n)
	}
}

func TestAnnotationsBelowLevel(t *testing.T) {
	// WHAT: A warning still annotates when the JSON log level filters it out.
	var logs, ann bytes.Buffer
	on := true
	log := NewLogger(Options{Level: "error", Output: &logs, Annotations: &on, AnnotationOutput: &ann})
	log.Warn("collect: capped")
	if !strings.Contains(ann.String(), "::warning::collect: capped") {
		t.Errorf("annotation: %q", ann.String())
	}
	if logs.Len() != 0 {
		t.Errorf("filtered record logged: %s", logs.String())
	}
}

func TestNoAnnotationsByDefault(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "")
	var logs bytes.Buffer
	log := NewLogger(Options{Output: &logs, Format: "text"})
	if _, ok := log.Handler().(*AnnotationHandler); ok {
		t.Error("annotation handler outside GitHub Actions")
	}
	log.Warn("x")
	if !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("text output: %s", logs.String())
	}
}
