package specials

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/bravo/specials/internal/collect"
)

// Report is the outcome of one run. Warnings are recoverable partial
// failures; errors are unit failures the run could not recover from.
type Report struct {
	RunID      string         `json:"run_id"`
	Mode       string         `json:"mode"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Stores     []*StoreReport `json:"stores"`
	Errors     []string       `json:"errors,omitempty"`
}

// StoreReport is the outcome of one store within a run.
type StoreReport struct {
	Store      string           `json:"store"`
	Products   int              `json:"products"`
	Complete   bool             `json:"complete"`
	Expired    int              `json:"expired"`
	Intel      int              `json:"intel"`
	Categories []CategoryReport `json:"categories,omitempty"`
	Warnings   []string         `json:"warnings,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
}

// CategoryReport mirrors one category walk.
type CategoryReport struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Pages    int    `json:"pages"`
	Products int    `json:"products"`
	Total    int    `json:"total"`
	Error    string `json:"error,omitempty"`
}

func newReport(runID, mode string) *Report {
	return &Report{RunID: runID, Mode: mode, StartedAt: time.Now()}
}

// store returns the report of name, adding it when missing.
func (r *Report) store(name string) *StoreReport {
	for _, s := range r.Stores {
		if s.Store == name {
			return s
		}
	}
	s := &StoreReport{Store: name}
	r.Stores = append(r.Stores, s)
	return s
}

func (r *Report) addStore(res *collect.StoreResult) *StoreReport {
	sr := r.store(res.Store)
	sr.Products = len(res.Products)
	sr.Complete = res.Complete()

	for _, c := range res.Categories {
		cr := CategoryReport{
			Name:     c.Category.Name,
			Status:   string(c.Status),
			Pages:    c.Pages,
			Products: len(c.Products),
			Total:    c.Total,
		}
		if c.Err != nil {
			cr.Error = c.Err.Error()
		}
		sr.Categories = append(sr.Categories, cr)

		switch c.Status {
		case collect.StatusAborted:
			sr.warn(fmt.Sprintf("category %s aborted after %d pages: %v", c.Category.Name, c.Pages, c.Err))
		case collect.StatusCapped:
			sr.warn(fmt.Sprintf("category %s stopped at the page cap (%d pages)", c.Category.Name, c.Pages))
		case collect.StatusBlocked:
			sr.Errors = append(sr.Errors, fmt.Sprintf("category %s blocked: %v", c.Category.Name, c.Err))
		}
	}
	if res.Err != nil {
		sr.fail(res.Err)
	}
	return sr
}

func (r *Report) fail(err error) { r.Errors = append(r.Errors, err.Error()) }

func (s *StoreReport) fail(err error) { s.Errors = append(s.Errors, err.Error()) }

func (s *StoreReport) warn(msg string) { s.Warnings = append(s.Warnings, msg) }

// Failed reports whether any unit failed unrecoverably.
func (r *Report) Failed() bool {
	if len(r.Errors) > 0 {
		return true
	}
	for _, s := range r.Stores {
		if len(s.Errors) > 0 {
			return true
		}
	}
	return false
}

// Partial reports whether any recoverable failure occurred.
func (r *Report) Partial() bool {
	for _, s := range r.Stores {
		if len(s.Warnings) > 0 {
			return true
		}
	}
	return false
}

// Level is the severity of the run's summary diagnostic.
func (r *Report) Level() slog.Level {
	switch {
	case r.Failed():
		return slog.LevelError
	case r.Partial():
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// finish stamps the report and emits one diagnostic per failure and a
// summary at the run's severity.
func (r *Report) finish(log *slog.Logger) {
	r.FinishedAt = time.Now()
	for _, s := range r.Stores {
		for _, w := range s.Warnings {
			log.Warn("specials: partial failure", "store", s.Store, "detail", w)
		}
		for _, e := range s.Errors {
			log.Error("specials: store failure", "store", s.Store, "detail", e)
		}
	}
	for _, e := range r.Errors {
		log.Error("specials: run failure", "detail", e)
	}
	log.Log(context.Background(), r.Level(), "specials: run finished",
		"stores", len(r.Stores),
		"duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String())
}
