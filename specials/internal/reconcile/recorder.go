package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/bravo/specials/internal/store"
)

// Recorder extends or opens history windows for the specials seen today.
type Recorder struct {
	repo store.Repository
	log  *slog.Logger
	now  func() time.Time
}

// NewRecorder creates a Recorder over repo.
func NewRecorder(repo store.Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, log: logger, now: time.Now}
}

// RecordResult summarises one Record call.
type RecordResult struct {
	Extended int
	Opened   int
}

// Record takes today's products across all stores. A key with an open
// window has it extended to today; otherwise a window opening and closing
// today is inserted. Running it again the same day changes nothing.
func (r *Recorder) Record(ctx context.Context, products []store.Product) (*RecordResult, error) {
	today := store.Day(r.now())
	res := &RecordResult{}

	open, err := r.repo.OpenWindows(ctx, "")
	if err != nil {
		return res, fmt.Errorf("record: open windows: %w", err)
	}

	seen := make(map[store.Key]struct{}, len(products))
	var extend []int64
	var add []store.HistoryWindow
	for _, p := range products {
		k := p.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if w, ok := open[k]; ok {
			if w.LastSeen.Before(today) {
				extend = append(extend, w.ID)
			}
			continue
		}
		price := p.CurrentPrice
		add = append(add, store.HistoryWindow{
			Store:         p.Store,
			ProductID:     p.ProductID,
			Name:          p.Name,
			CurrentPrice:  &price,
			OriginalPrice: p.OriginalPrice,
			DiscountPct:   p.DiscountPct,
			FirstSeen:     today,
			LastSeen:      today,
		})
	}

	if err := r.repo.ExtendWindows(ctx, extend, today); err != nil {
		return res, fmt.Errorf("record: %w", err)
	}
	res.Extended = len(extend)
	if err := r.repo.InsertWindows(ctx, add); err != nil {
		return res, fmt.Errorf("record: %w", err)
	}
	res.Opened = len(add)

	r.log.Info("record: history updated", "extended", res.Extended, "opened", res.Opened)
	return res, nil
}
