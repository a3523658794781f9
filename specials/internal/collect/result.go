package collect

import (
	"time"

	"github.com/hazyhaar/bravo/specials/internal/source"
	"github.com/hazyhaar/bravo/specials/internal/store"
)

// Status is the outcome of one category walk.
type Status string

const (
	// StatusComplete: the walk reached the reported total or an exhausted page.
	StatusComplete Status = "complete"
	// StatusCapped: the page cap was hit before the listing was exhausted.
	StatusCapped Status = "capped"
	// StatusAborted: consecutive failures exhausted the retry budget.
	StatusAborted Status = "aborted"
	// StatusBlocked: a block persisted through the cooldown.
	StatusBlocked Status = "blocked"
	// StatusSkipped: the store was blocked before this category started.
	StatusSkipped Status = "skipped"
)

// CategoryResult is the outcome of one category. Products are kept in
// discovery order even when the walk did not complete.
type CategoryResult struct {
	Category   source.Category
	Status     Status
	Pages      int
	Total      int
	Products   []store.Product
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// StoreResult is the outcome of one store.
type StoreResult struct {
	Store      string
	Scope      source.Scope
	Categories []CategoryResult
	// Products is the union of the categories, deduplicated by product_id
	// in discovery order.
	Products []store.Product
	// Blocked is set when a block survived the cooldown. Remaining
	// categories were skipped.
	Blocked bool
	// Err is set when the session could not be opened or the run was
	// cancelled.
	Err error
}

// Complete reports whether every category finished its walk. Only a
// complete result may be used to expire specials.
func (r *StoreResult) Complete() bool {
	if r.Err != nil || r.Blocked {
		return false
	}
	for _, c := range r.Categories {
		if c.Status != StatusComplete {
			return false
		}
	}
	return true
}

func (r *StoreResult) merge(c CategoryResult, seen map[string]struct{}) {
	r.Categories = append(r.Categories, c)
	for _, p := range c.Products {
		if _, dup := seen[p.ProductID]; dup {
			continue
		}
		seen[p.ProductID] = struct{}{}
		r.Products = append(r.Products, p)
	}
}
