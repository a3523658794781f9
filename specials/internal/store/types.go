package store

import "time"

// Key identifies a product within one store. Product IDs are only unique
// inside a store, so every persisted entity is addressed by the pair.
type Key struct {
	Store     string `json:"store"`
	ProductID string `json:"product_id"`
}

func (k Key) String() string { return k.Store + "/" + k.ProductID }

// Product is one normalised listing produced by a source adapter during a
// run. It is never persisted as such.
type Product struct {
	Store         string   `json:"store"`
	ProductID     string   `json:"product_id"`
	Name          string   `json:"name"`
	Brand         string   `json:"brand,omitempty"`
	Category      string   `json:"category,omitempty"`
	CurrentPrice  float64  `json:"current_price"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
	DiscountPct   *int     `json:"discount_pct,omitempty"`
	SpecialType   string   `json:"special_type,omitempty"` // "half-price" | "reduced" | ""
	ImageURL      string   `json:"image_url,omitempty"`
	ProductURL    string   `json:"product_url,omitempty"`
	Size          string   `json:"size,omitempty"`
}

// Key returns the product's store-scoped identity.
func (p Product) Key() Key { return Key{Store: p.Store, ProductID: p.ProductID} }

// ActiveSpecial is a product currently flagged as discounted. At most one
// row exists per key; ValidFrom is written on first insert only.
type ActiveSpecial struct {
	Product
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	UpdatedAt int64      `json:"updated_at"`
}

// HistoryWindow is one contiguous discount interval for a key. An open
// window belongs to the occurrence still running; Closed windows are past
// occurrences.
type HistoryWindow struct {
	ID            int64     `json:"id"`
	Store         string    `json:"store"`
	ProductID     string    `json:"product_id"`
	Name          string    `json:"name"`
	CurrentPrice  *float64  `json:"current_price,omitempty"`
	OriginalPrice *float64  `json:"original_price,omitempty"`
	DiscountPct   *int      `json:"discount_pct,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	Closed        bool      `json:"closed"`
}

// Key returns the window's store-scoped identity.
func (w HistoryWindow) Key() Key { return Key{Store: w.Store, ProductID: w.ProductID} }

// Frequency classes.
const (
	ClassFrequent  = "frequent"
	ClassSometimes = "sometimes"
	ClassRare      = "rare"
	ClassNever     = "never"
)

// IntelRecord holds the derived frequency analytics for a key. It is always
// recomputed from scratch. Nil pointers and an empty FrequencyClass mean
// "undefined".
type IntelRecord struct {
	Store                 string     `json:"store"`
	ProductID             string     `json:"product_id"`
	Name                  string     `json:"name"`
	Category              string     `json:"category,omitempty"`
	ImageURL              string     `json:"image_url,omitempty"`
	AvgFrequencyDays      *int       `json:"avg_frequency_days,omitempty"`
	FrequencyClass        string     `json:"frequency_class,omitempty"`
	DaysSinceLastSpecial  *int       `json:"days_since_last_special,omitempty"`
	ExpectedDaysUntilNext *int       `json:"expected_days_until_next,omitempty"`
	IsOnSpecialNow        bool       `json:"is_on_special_now"`
	LastSpecialDate       *time.Time `json:"last_special_date,omitempty"`
	LastDiscountPct       *int       `json:"last_discount_pct,omitempty"`
	TotalTimesOnSpecial   int        `json:"total_times_on_special"`
	ComputedAt            int64      `json:"computed_at"`
}

// Key returns the record's store-scoped identity.
func (r IntelRecord) Key() Key { return Key{Store: r.Store, ProductID: r.ProductID} }

// IntelFilter narrows ListIntel. Empty fields match everything.
type IntelFilter struct {
	Store          string
	FrequencyClass string
	OnSpecialOnly  bool
	Limit          int
}

// CatalogueEntry is the price baseline of a product regardless of whether
// it is discounted.
type CatalogueEntry struct {
	Store        string    `json:"store"`
	ProductID    string    `json:"product_id"`
	Name         string    `json:"name"`
	Brand        string    `json:"brand,omitempty"`
	Category     string    `json:"category,omitempty"`
	RegularPrice float64   `json:"regular_price"`
	ImageURL     string    `json:"image_url,omitempty"`
	ProductURL   string    `json:"product_url,omitempty"`
	Size         string    `json:"size,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
	UpdatedAt    int64     `json:"updated_at"`
}

// Key returns the entry's store-scoped identity.
func (c CatalogueEntry) Key() Key { return Key{Store: c.Store, ProductID: c.ProductID} }

// RunRecord is one category outcome of a collection run.
type RunRecord struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	Mode       string `json:"mode"`
	Store      string `json:"store"`
	Category   string `json:"category"`
	Status     string `json:"status"`
	Pages      int    `json:"pages"`
	Products   int    `json:"products"`
	Total      int    `json:"total"`
	Error      string `json:"error"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}
