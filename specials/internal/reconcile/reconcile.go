// Package reconcile maintains the lifecycle of specials across runs.
//
// The Reconciler keeps the active_specials table equal to today's set for a
// store and archives the specials that disappeared. The Recorder keeps one
// open history window per running occurrence and extends it every day the
// special is still seen.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/bravo/specials/internal/store"
)

// Reconciler upserts and archives the active specials of one store.
type Reconciler struct {
	repo store.Repository
	log  *slog.Logger
	now  func() time.Time
}

// NewReconciler creates a Reconciler over repo.
func NewReconciler(repo store.Repository, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, log: logger, now: time.Now}
}

// Result summarises one store reconciliation.
type Result struct {
	Store    string
	Upserted int
	Expired  int
	Closed   int // open windows closed (expired + orphans)
	Inserted int // closed windows created for expired specials without one
	Archived bool
}

// Reconcile writes today's products as the active specials of storeName.
// When complete is false the set is known to be partial, so nothing is
// expired. Products of other stores are ignored.
func (r *Reconciler) Reconcile(ctx context.Context, storeName string, products []store.Product, complete bool) (*Result, error) {
	today := store.Day(r.now())
	res := &Result{Store: storeName}
	log := r.log.With("store", storeName)

	existing, err := r.repo.ListSpecials(ctx, storeName)
	if err != nil {
		return res, fmt.Errorf("reconcile %s: list specials: %w", storeName, err)
	}
	active := make(map[store.Key]store.ActiveSpecial, len(existing))
	for _, a := range existing {
		active[a.Key()] = a
	}

	seen := make(map[store.Key]struct{}, len(products))
	rows := make([]store.ActiveSpecial, 0, len(products))
	for _, p := range products {
		if p.Store != storeName {
			continue
		}
		k := p.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rows = append(rows, store.ActiveSpecial{Product: p, ValidFrom: today})
	}
	if err := r.repo.UpsertSpecials(ctx, rows); err != nil {
		return res, fmt.Errorf("reconcile %s: %w", storeName, err)
	}
	res.Upserted = len(rows)

	if !complete {
		log.Warn("reconcile: collection incomplete, archive skipped", "upserted", res.Upserted)
		return res, nil
	}

	open, err := r.repo.OpenWindows(ctx, storeName)
	if err != nil {
		return res, fmt.Errorf("reconcile %s: open windows: %w", storeName, err)
	}

	var (
		expired []store.Key
		toClose []store.HistoryWindow
		toAdd   []store.HistoryWindow
	)
	for k, a := range active {
		if _, ok := seen[k]; ok {
			continue
		}
		expired = append(expired, k)
		if w, ok := open[k]; ok {
			if a.ValidFrom.Before(w.FirstSeen) {
				w.FirstSeen = a.ValidFrom
			}
			w.LastSeen = today
			toClose = append(toClose, w)
			continue
		}
		toAdd = append(toAdd, closedWindow(a, today))
	}
	// Open windows with neither an active row nor a sighting today are crash
	// residue; they end at their last sighting.
	for k, w := range open {
		if _, ok := seen[k]; ok {
			continue
		}
		if _, ok := active[k]; ok {
			continue
		}
		toClose = append(toClose, w)
	}

	// The active rows go first. If a later write fails, the open windows
	// left behind are orphans and the next complete run closes them at
	// their last sighting. Closing first would let a failed delete expire
	// the same occurrence twice.
	keep := make([]string, 0, len(seen))
	for k := range seen {
		keep = append(keep, k.ProductID)
	}
	deleted, err := r.repo.DeleteSpecialsAbsent(ctx, storeName, keep)
	if err != nil {
		return res, fmt.Errorf("reconcile %s: %w", storeName, err)
	}
	if deleted != int64(len(expired)) {
		log.Warn("reconcile: expired rows changed during reconcile", "expected", len(expired), "deleted", deleted)
	}
	res.Expired = len(expired)
	if err := r.repo.CloseWindows(ctx, toClose); err != nil {
		return res, fmt.Errorf("reconcile %s: %w", storeName, err)
	}
	if err := r.repo.InsertWindows(ctx, toAdd); err != nil {
		return res, fmt.Errorf("reconcile %s: %w", storeName, err)
	}

	res.Closed, res.Inserted, res.Archived = len(toClose), len(toAdd), true
	log.Info("reconcile: store reconciled", "upserted", res.Upserted, "expired", res.Expired,
		"closed", res.Closed, "inserted", res.Inserted)
	return res, nil
}

func closedWindow(a store.ActiveSpecial, today time.Time) store.HistoryWindow {
	price := a.CurrentPrice
	return store.HistoryWindow{
		Store:         a.Store,
		ProductID:     a.ProductID,
		Name:          a.Name,
		CurrentPrice:  &price,
		OriginalPrice: a.OriginalPrice,
		DiscountPct:   a.DiscountPct,
		FirstSeen:     store.Day(a.ValidFrom),
		LastSeen:      today,
		Closed:        true,
	}
}
