// Package store provides the persistence layer for bravo: the four
// key-addressed collections (active specials, history windows, intel
// records, catalogue entries) plus the collect run log.
//
// Repository is the contract every backend satisfies. Store is the SQLite
// implementation; pgstore provides PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Repository is the persistence contract consumed by the reconciler,
// recorder, intelligence engine, catalogue sync and HTTP API.
type Repository interface {
	// UpsertSpecials writes rows keyed by (store, product_id). ValidFrom is
	// only stored when the key is new.
	UpsertSpecials(ctx context.Context, rows []ActiveSpecial) error
	// ListSpecials returns the active specials of one store, or of all
	// stores when storeName is empty.
	ListSpecials(ctx context.Context, storeName string) ([]ActiveSpecial, error)
	// DeleteSpecials removes the given keys.
	DeleteSpecials(ctx context.Context, keys []Key) error
	// DeleteSpecialsAbsent removes a store's active specials whose
	// product_id is not in keep. Returns the number of rows removed.
	DeleteSpecialsAbsent(ctx context.Context, storeName string, keep []string) (int64, error)

	// InsertWindows appends history windows.
	InsertWindows(ctx context.Context, windows []HistoryWindow) error
	// OpenWindows returns, per key, the most recent open window of a store
	// (all stores when storeName is empty).
	OpenWindows(ctx context.Context, storeName string) (map[Key]HistoryWindow, error)
	// ExtendWindows bumps last_seen on the given window IDs.
	ExtendWindows(ctx context.Context, ids []int64, lastSeen time.Time) error
	// CloseWindows marks each window closed with its LastSeen (and
	// FirstSeen) as given.
	CloseWindows(ctx context.Context, windows []HistoryWindow) error
	// ListHistory returns all windows of a store ordered by key then
	// first_seen.
	ListHistory(ctx context.Context, storeName string) ([]HistoryWindow, error)
	// KeyHistory returns the windows of one key ordered by first_seen.
	KeyHistory(ctx context.Context, key Key) ([]HistoryWindow, error)

	// UpsertIntel writes fully recomputed intel records.
	UpsertIntel(ctx context.Context, records []IntelRecord) error
	// DeleteIntelAbsent removes a store's intel rows whose product_id is
	// not in keep. Returns the number of rows removed.
	DeleteIntelAbsent(ctx context.Context, storeName string, keep []string) (int64, error)
	ListIntel(ctx context.Context, f IntelFilter) ([]IntelRecord, error)
	GetIntel(ctx context.Context, key Key) (*IntelRecord, error)

	UpsertCatalogue(ctx context.Context, entries []CatalogueEntry) error
	ListCatalogue(ctx context.Context, storeName string) ([]CatalogueEntry, error)

	RecordRun(ctx context.Context, r *RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// BatchSize bounds the number of rows written per statement batch.
const BatchSize = 200

// Store is the SQLite Repository.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

var _ Repository = (*Store)(nil)

// NewStore creates a Store from an already-opened database connection.
// The schema must have been applied (ApplySchema or dbopen.WithSchema).
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// chunks splits n items into [lo, hi) ranges of at most size.
func chunks(n, size int) [][2]int {
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		out = append(out, [2]int{lo, hi})
	}
	return out
}

// keepList encodes product IDs for json_each, SQLite's stand-in for an
// array parameter.
func keepList(keep []string) (string, error) {
	if keep == nil {
		keep = []string{}
	}
	b, err := json.Marshal(keep)
	return string(b), err
}

func nullDay(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatDay(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanNullDay(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseDay(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
