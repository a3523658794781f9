// Package catalogue keeps the price baseline of every product observed,
// discounted or not.
package catalogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/bravo/specials/internal/store"
)

// Syncer upserts catalogue entries.
type Syncer struct {
	repo store.Repository
	log  *slog.Logger
	now  func() time.Time
}

// NewSyncer creates a Syncer over repo.
func NewSyncer(repo store.Repository, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{repo: repo, log: logger, now: time.Now}
}

// Result is the outcome of one store's sync.
type Result struct {
	Store   string
	Entries int
	Err     error
}

// Entry converts a collected product to its baseline. A discounted product
// contributes its pre-discount price.
func Entry(p store.Product, seen time.Time) store.CatalogueEntry {
	regular := p.CurrentPrice
	if p.OriginalPrice != nil && *p.OriginalPrice > 0 {
		regular = *p.OriginalPrice
	}
	return store.CatalogueEntry{
		Store:        p.Store,
		ProductID:    p.ProductID,
		Name:         p.Name,
		Brand:        p.Brand,
		Category:     p.Category,
		RegularPrice: regular,
		ImageURL:     p.ImageURL,
		ProductURL:   p.ProductURL,
		Size:         p.Size,
		LastSeen:     store.Day(seen),
	}
}

// Sync upserts products grouped by store. A store whose write fails is
// reported and the others still proceed.
func (s *Syncer) Sync(ctx context.Context, products []store.Product) ([]*Result, error) {
	today := s.now()
	byStore := make(map[string][]store.CatalogueEntry)
	seen := make(map[store.Key]struct{}, len(products))
	for _, p := range products {
		if _, dup := seen[p.Key()]; dup {
			continue
		}
		seen[p.Key()] = struct{}{}
		byStore[p.Store] = append(byStore[p.Store], Entry(p, today))
	}

	names := make([]string, 0, len(byStore))
	for name := range byStore {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		out  []*Result
		errs []error
	)
	for _, name := range names {
		entries := byStore[name]
		res := &Result{Store: name, Entries: len(entries)}
		if err := s.repo.UpsertCatalogue(ctx, entries); err != nil {
			res.Err = fmt.Errorf("catalogue %s: %w", name, err)
			errs = append(errs, res.Err)
			s.log.Error("catalogue: sync failed", "store", name, "error", err)
		} else {
			s.log.Info("catalogue: synced", "store", name, "entries", len(entries))
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}
