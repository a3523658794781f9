package intel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hazyhaar/bravo/specials/internal/store"
)

// Engine recomputes the intel records of a store from its persisted state.
type Engine struct {
	repo   store.Repository
	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewEngine creates an Engine over repo.
func NewEngine(repo store.Repository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:   repo,
		log:    logger,
		tracer: otel.Tracer("github.com/hazyhaar/bravo/specials/internal/intel"),
		now:    time.Now,
	}
}

// PassResult summarises one store pass.
type PassResult struct {
	Store   string
	Records int
	Deleted int64
}

// Run passes every store in order. A failing store is logged and does not
// stop the others; the joined errors are returned.
func (e *Engine) Run(ctx context.Context, stores []string) ([]*PassResult, error) {
	var (
		out  []*PassResult
		errs []error
	)
	for _, s := range stores {
		res, err := e.Pass(ctx, s)
		if err != nil {
			e.log.Error("intel: pass failed", "store", s, "error", err)
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// Pass recomputes every intel record of storeName. A key is known when it
// has an active special, any history window or a catalogue entry. Records of
// keys no longer known are removed.
func (e *Engine) Pass(ctx context.Context, storeName string) (res *PassResult, err error) {
	ctx, span := e.tracer.Start(ctx, "intel.pass", trace.WithAttributes(attribute.String("store", storeName)))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	now := e.now()
	res = &PassResult{Store: storeName}

	active, err := e.repo.ListSpecials(ctx, storeName)
	if err != nil {
		return res, fmt.Errorf("intel %s: list specials: %w", storeName, err)
	}
	history, err := e.repo.ListHistory(ctx, storeName)
	if err != nil {
		return res, fmt.Errorf("intel %s: list history: %w", storeName, err)
	}
	catalogue, err := e.repo.ListCatalogue(ctx, storeName)
	if err != nil {
		return res, fmt.Errorf("intel %s: list catalogue: %w", storeName, err)
	}

	keys := make(map[store.Key]*member)
	get := func(k store.Key) *member {
		m, ok := keys[k]
		if !ok {
			m = &member{}
			keys[k] = m
		}
		return m
	}
	for i := range active {
		get(active[i].Key()).active = &active[i]
	}
	for i := range catalogue {
		get(catalogue[i].Key()).catalogue = &catalogue[i]
	}
	for _, w := range history {
		m := get(w.Key())
		m.windows = append(m.windows, w)
	}

	records := make([]store.IntelRecord, 0, len(keys))
	for k, m := range keys {
		in := Input{Windows: m.past(), IsActive: m.active != nil, Today: now}
		if m.active != nil {
			in.CurrentDiscount = m.active.DiscountPct
		}
		st := Compute(in)
		rec := store.IntelRecord{
			Store:                 k.Store,
			ProductID:             k.ProductID,
			AvgFrequencyDays:      st.AvgFrequencyDays,
			FrequencyClass:        st.Class,
			DaysSinceLastSpecial:  st.DaysSinceLastSpecial,
			ExpectedDaysUntilNext: st.ExpectedDaysUntilNext,
			IsOnSpecialNow:        m.active != nil,
			LastSpecialDate:       st.LastSpecialDate,
			LastDiscountPct:       st.LastDiscountPct,
			TotalTimesOnSpecial:   st.TotalTimesOnSpecial,
			ComputedAt:            now.UnixMilli(),
		}
		m.describe(&rec)
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ProductID < records[j].ProductID })

	if err := e.repo.UpsertIntel(ctx, records); err != nil {
		return res, fmt.Errorf("intel %s: %w", storeName, err)
	}
	res.Records = len(records)

	keep := make([]string, len(records))
	for i, r := range records {
		keep[i] = r.ProductID
	}
	res.Deleted, err = e.repo.DeleteIntelAbsent(ctx, storeName, keep)
	if err != nil {
		return res, fmt.Errorf("intel %s: %w", storeName, err)
	}

	span.SetAttributes(attribute.Int("records", res.Records), attribute.Int64("deleted", res.Deleted))
	e.log.Info("intel: pass complete", "store", storeName, "records", res.Records, "deleted", res.Deleted)
	return res, nil
}

// member gathers what is known about one key.
type member struct {
	active    *store.ActiveSpecial
	catalogue *store.CatalogueEntry
	windows   []store.HistoryWindow
}

// past returns the windows that count as finished occurrences. For an
// active key the latest open window is the running occurrence and is left
// out. Every other open window is residue and counts as closed.
func (m *member) past() []store.HistoryWindow {
	if m.active == nil {
		return m.windows
	}
	current := -1
	for i, w := range m.windows {
		if w.Closed {
			continue
		}
		if current < 0 || w.LastSeen.After(m.windows[current].LastSeen) ||
			(w.LastSeen.Equal(m.windows[current].LastSeen) && w.ID > m.windows[current].ID) {
			current = i
		}
	}
	if current < 0 {
		return m.windows
	}
	out := make([]store.HistoryWindow, 0, len(m.windows)-1)
	out = append(out, m.windows[:current]...)
	return append(out, m.windows[current+1:]...)
}

// describe fills the descriptive fields from the freshest source: the
// active special, then the catalogue, then the latest window.
func (m *member) describe(rec *store.IntelRecord) {
	switch {
	case m.active != nil:
		rec.Name, rec.Category, rec.ImageURL = m.active.Name, m.active.Category, m.active.ImageURL
	case m.catalogue != nil:
		rec.Name, rec.Category, rec.ImageURL = m.catalogue.Name, m.catalogue.Category, m.catalogue.ImageURL
	default:
		var latest time.Time
		for _, w := range m.windows {
			if rec.Name == "" || !w.LastSeen.Before(latest) {
				rec.Name, latest = w.Name, w.LastSeen
			}
		}
	}
}
