// Package pgstore is the PostgreSQL implementation of store.Repository,
// selected with db.driver: postgres. Writes go through pgx batches inside a
// single transaction per chunk.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hazyhaar/bravo/specials/internal/store"
)

// Store is the PostgreSQL Repository.
type Store struct {
	Pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Repository = (*Store)(nil)

// Open parses dsn, connects a pool and applies the schema. viaBouncer
// switches to the simple protocol for transaction-pooling proxies.
func Open(ctx context.Context, dsn string, maxConns int, viaBouncer bool) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)
	if viaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: apply schema: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool. The schema must already exist.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool, now: time.Now}
}

// Close releases the pool.
func (s *Store) Close() { s.Pool.Close() }

// sendBatch runs b inside one transaction. Any queued failure rolls the
// whole batch back.
func (s *Store) sendBatch(ctx context.Context, op string, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return &store.PersistenceError{Op: op, Err: err}
	}
	return nil
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for lo := 0; lo < len(items); lo += size {
		out = append(out, items[lo:min(lo+size, len(items))])
	}
	return out
}

func day(t time.Time) time.Time { return store.Day(t) }

func dayPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := store.Day(*t)
	return &d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := t.UTC()
	return &d
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// UpsertSpecials writes active specials, keeping valid_from on conflict.
func (s *Store) UpsertSpecials(ctx context.Context, rows []store.ActiveSpecial) error {
	now := s.now().UnixMilli()
	for _, batch := range chunks(rows, store.BatchSize) {
		b := &pgx.Batch{}
		for _, r := range batch {
			b.Queue(`INSERT INTO active_specials (store, product_id, name, brand, category,
				current_price, original_price, discount_pct, special_type, image_url,
				product_url, size, valid_from, valid_to, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULL,$14)
				ON CONFLICT (store, product_id) DO UPDATE SET
					name=EXCLUDED.name, brand=EXCLUDED.brand, category=EXCLUDED.category,
					current_price=EXCLUDED.current_price, original_price=EXCLUDED.original_price,
					discount_pct=EXCLUDED.discount_pct, special_type=EXCLUDED.special_type,
					image_url=EXCLUDED.image_url, product_url=EXCLUDED.product_url,
					size=EXCLUDED.size, valid_to=NULL, updated_at=EXCLUDED.updated_at`,
				r.Store, r.ProductID, r.Name, r.Brand, r.Category,
				r.CurrentPrice, r.OriginalPrice, r.DiscountPct, r.SpecialType, r.ImageURL,
				r.ProductURL, r.Size, day(r.ValidFrom), now)
		}
		if err := s.sendBatch(ctx, "upsert specials", b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListSpecials(ctx context.Context, storeName string) ([]store.ActiveSpecial, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT store, product_id, name, brand, category, current_price, original_price,
		discount_pct, special_type, image_url, product_url, size, valid_from, valid_to, updated_at
		FROM active_specials WHERE ($1 = '' OR store = $1) ORDER BY store, product_id`, storeName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ActiveSpecial
	for rows.Next() {
		var a store.ActiveSpecial
		if err := rows.Scan(&a.Store, &a.ProductID, &a.Name, &a.Brand, &a.Category,
			&a.CurrentPrice, &a.OriginalPrice, &a.DiscountPct, &a.SpecialType, &a.ImageURL,
			&a.ProductURL, &a.Size, &a.ValidFrom, &a.ValidTo, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan special: %w", err)
		}
		a.ValidFrom = a.ValidFrom.UTC()
		a.ValidTo = utcPtr(a.ValidTo)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSpecials(ctx context.Context, keys []store.Key) error {
	b := &pgx.Batch{}
	for _, k := range keys {
		b.Queue(`DELETE FROM active_specials WHERE store = $1 AND product_id = $2`, k.Store, k.ProductID)
	}
	return s.sendBatch(ctx, "delete specials", b)
}

func (s *Store) DeleteSpecialsAbsent(ctx context.Context, storeName string, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM active_specials WHERE store = $1 AND NOT (product_id = ANY($2::text[]))`,
		storeName, keep)
	if err != nil {
		return 0, &store.PersistenceError{Op: "delete absent specials", Err: err}
	}
	return tag.RowsAffected(), nil
}

const historyColumns = `id, store, product_id, name, current_price, original_price,
	discount_pct, first_seen, last_seen, closed`

// InsertWindows appends windows and writes the generated IDs back.
func (s *Store) InsertWindows(ctx context.Context, windows []store.HistoryWindow) error {
	for lo := 0; lo < len(windows); lo += store.BatchSize {
		hi := min(lo+store.BatchSize, len(windows))
		b := &pgx.Batch{}
		for i := lo; i < hi; i++ {
			w := &windows[i]
			b.Queue(`INSERT INTO special_history (store, product_id, name, current_price,
				original_price, discount_pct, first_seen, last_seen, closed)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
				w.Store, w.ProductID, w.Name, w.CurrentPrice, w.OriginalPrice,
				w.DiscountPct, day(w.FirstSeen), day(w.LastSeen), w.Closed,
			).QueryRow(func(row pgx.Row) error { return row.Scan(&w.ID) })
		}
		if err := s.sendBatch(ctx, "insert windows", b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) OpenWindows(ctx context.Context, storeName string) (map[store.Key]store.HistoryWindow, error) {
	windows, err := s.queryWindows(ctx,
		`SELECT DISTINCT ON (store, product_id) `+historyColumns+`
		FROM special_history WHERE NOT closed AND ($1 = '' OR store = $1)
		ORDER BY store, product_id, last_seen DESC, id DESC`, storeName)
	if err != nil {
		return nil, err
	}
	out := make(map[store.Key]store.HistoryWindow, len(windows))
	for _, w := range windows {
		out[w.Key()] = w
	}
	return out, nil
}

func (s *Store) ExtendWindows(ctx context.Context, ids []int64, lastSeen time.Time) error {
	for _, batch := range chunks(ids, store.BatchSize) {
		b := &pgx.Batch{}
		b.Queue(`UPDATE special_history SET last_seen = $1 WHERE id = ANY($2) AND last_seen < $1`,
			day(lastSeen), batch)
		if err := s.sendBatch(ctx, "extend windows", b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CloseWindows(ctx context.Context, windows []store.HistoryWindow) error {
	for _, batch := range chunks(windows, store.BatchSize) {
		b := &pgx.Batch{}
		for _, w := range batch {
			b.Queue(`UPDATE special_history SET first_seen = $1, last_seen = $2, closed = TRUE WHERE id = $3`,
				day(w.FirstSeen), day(w.LastSeen), w.ID)
		}
		if err := s.sendBatch(ctx, "close windows", b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, storeName string) ([]store.HistoryWindow, error) {
	return s.queryWindows(ctx,
		`SELECT `+historyColumns+` FROM special_history WHERE ($1 = '' OR store = $1)
		ORDER BY store, product_id, first_seen, id`, storeName)
}

func (s *Store) KeyHistory(ctx context.Context, key store.Key) ([]store.HistoryWindow, error) {
	return s.queryWindows(ctx,
		`SELECT `+historyColumns+` FROM special_history WHERE store = $1 AND product_id = $2
		ORDER BY first_seen, id`, key.Store, key.ProductID)
}

func (s *Store) queryWindows(ctx context.Context, q string, args ...any) ([]store.HistoryWindow, error) {
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.HistoryWindow
	for rows.Next() {
		var w store.HistoryWindow
		if err := rows.Scan(&w.ID, &w.Store, &w.ProductID, &w.Name, &w.CurrentPrice,
			&w.OriginalPrice, &w.DiscountPct, &w.FirstSeen, &w.LastSeen, &w.Closed); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		w.FirstSeen, w.LastSeen = w.FirstSeen.UTC(), w.LastSeen.UTC()
		out = append(out, w)
	}
	return out, rows.Err()
}

const intelColumns = `store, product_id, name, category, image_url, avg_frequency_days,
	frequency_class, days_since_last_special, expected_days_until_next, is_on_special_now,
	last_special_date, last_discount_pct, total_times_on_special, computed_at`

func (s *Store) UpsertIntel(ctx context.Context, records []store.IntelRecord) error {
	for _, batch := range chunks(records, store.BatchSize) {
		b := &pgx.Batch{}
		for _, r := range batch {
			b.Queue(`INSERT INTO special_intel (`+intelColumns+`)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
				ON CONFLICT (store, product_id) DO UPDATE SET
					name=EXCLUDED.name, category=EXCLUDED.category, image_url=EXCLUDED.image_url,
					avg_frequency_days=EXCLUDED.avg_frequency_days,
					frequency_class=EXCLUDED.frequency_class,
					days_since_last_special=EXCLUDED.days_since_last_special,
					expected_days_until_next=EXCLUDED.expected_days_until_next,
					is_on_special_now=EXCLUDED.is_on_special_now,
					last_special_date=EXCLUDED.last_special_date,
					last_discount_pct=EXCLUDED.last_discount_pct,
					total_times_on_special=EXCLUDED.total_times_on_special,
					computed_at=EXCLUDED.computed_at`,
				r.Store, r.ProductID, r.Name, r.Category, r.ImageURL, r.AvgFrequencyDays,
				nullString(r.FrequencyClass), r.DaysSinceLastSpecial, r.ExpectedDaysUntilNext,
				r.IsOnSpecialNow, dayPtr(r.LastSpecialDate), r.LastDiscountPct,
				r.TotalTimesOnSpecial, r.ComputedAt)
		}
		if err := s.sendBatch(ctx, "upsert intel", b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteIntelAbsent(ctx context.Context, storeName string, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM special_intel WHERE store = $1 AND NOT (product_id = ANY($2::text[]))`,
		storeName, keep)
	if err != nil {
		return 0, &store.PersistenceError{Op: "delete intel", Err: err}
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListIntel(ctx context.Context, f store.IntelFilter) ([]store.IntelRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT `+intelColumns+` FROM special_intel
		WHERE ($1 = '' OR store = $1) AND ($2 = '' OR frequency_class = $2)
		AND (NOT $3 OR is_on_special_now)
		ORDER BY store, product_id
		LIMIT CASE WHEN $4::int < 0 THEN NULL ELSE $4::int END`,
		f.Store, f.FrequencyClass, f.OnSpecialOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.IntelRecord
	for rows.Next() {
		r, err := scanIntel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) GetIntel(ctx context.Context, key store.Key) (*store.IntelRecord, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+intelColumns+` FROM special_intel WHERE store = $1 AND product_id = $2`,
		key.Store, key.ProductID)
	r, err := scanIntel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return r, err
}

func scanIntel(row pgx.Row) (*store.IntelRecord, error) {
	var r store.IntelRecord
	var class *string
	err := row.Scan(&r.Store, &r.ProductID, &r.Name, &r.Category, &r.ImageURL,
		&r.AvgFrequencyDays, &class, &r.DaysSinceLastSpecial, &r.ExpectedDaysUntilNext,
		&r.IsOnSpecialNow, &r.LastSpecialDate, &r.LastDiscountPct, &r.TotalTimesOnSpecial,
		&r.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan intel: %w", err)
	}
	if class != nil {
		r.FrequencyClass = *class
	}
	r.LastSpecialDate = utcPtr(r.LastSpecialDate)
	return &r, nil
}

func (s *Store) UpsertCatalogue(ctx context.Context, entries []store.CatalogueEntry) error {
	now := s.now().UnixMilli()
	for _, batch := range chunks(entries, store.BatchSize) {
		b := &pgx.Batch{}
		for _, e := range batch {
			b.Queue(`INSERT INTO products (store, product_id, name, brand, category, regular_price,
				image_url, product_url, size, last_seen, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
				ON CONFLICT (store, product_id) DO UPDATE SET
					name=EXCLUDED.name, brand=EXCLUDED.brand, category=EXCLUDED.category,
					regular_price=EXCLUDED.regular_price, image_url=EXCLUDED.image_url,
					product_url=EXCLUDED.product_url, size=EXCLUDED.size,
					last_seen=EXCLUDED.last_seen, updated_at=EXCLUDED.updated_at`,
				e.Store, e.ProductID, e.Name, e.Brand, e.Category, e.RegularPrice,
				e.ImageURL, e.ProductURL, e.Size, day(e.LastSeen), now)
		}
		if err := s.sendBatch(ctx, "upsert catalogue", b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListCatalogue(ctx context.Context, storeName string) ([]store.CatalogueEntry, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT store, product_id, name, brand, category, regular_price, image_url,
		product_url, size, last_seen, updated_at FROM products
		WHERE ($1 = '' OR store = $1) ORDER BY store, product_id`, storeName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.CatalogueEntry
	for rows.Next() {
		var e store.CatalogueEntry
		if err := rows.Scan(&e.Store, &e.ProductID, &e.Name, &e.Brand, &e.Category,
			&e.RegularPrice, &e.ImageURL, &e.ProductURL, &e.Size, &e.LastSeen, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan catalogue: %w", err)
		}
		e.LastSeen = e.LastSeen.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) RecordRun(ctx context.Context, r *store.RunRecord) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO collect_runs (id, run_id, mode, store, category, status, pages,
		products, total, error, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.RunID, r.Mode, r.Store, r.Category, r.Status, r.Pages,
		r.Products, r.Total, r.Error, r.StartedAt, r.FinishedAt)
	if err != nil {
		return &store.PersistenceError{Op: "record run", Err: err}
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT id, run_id, mode, store, category, status, pages, products, total,
		error, started_at, finished_at FROM collect_runs
		ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RunRecord
	for rows.Next() {
		var r store.RunRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.Mode, &r.Store, &r.Category, &r.Status,
			&r.Pages, &r.Products, &r.Total, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
