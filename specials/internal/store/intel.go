package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/bravo/dbopen"
)

const intelColumns = `store, product_id, name, category, image_url, avg_frequency_days,
	frequency_class, days_since_last_special, expected_days_until_next, is_on_special_now,
	last_special_date, last_discount_pct, total_times_on_special, computed_at`

// UpsertIntel overwrites intel records in batches. Every column is replaced
// since records are recomputed wholesale.
func (s *Store) UpsertIntel(ctx context.Context, records []IntelRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, c := range chunks(len(records), BatchSize) {
		batch := records[c[0]:c[1]]
		err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx,
				`INSERT INTO special_intel (`+intelColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(store, product_id) DO UPDATE SET
					name=excluded.name, category=excluded.category, image_url=excluded.image_url,
					avg_frequency_days=excluded.avg_frequency_days,
					frequency_class=excluded.frequency_class,
					days_since_last_special=excluded.days_since_last_special,
					expected_days_until_next=excluded.expected_days_until_next,
					is_on_special_now=excluded.is_on_special_now,
					last_special_date=excluded.last_special_date,
					last_discount_pct=excluded.last_discount_pct,
					total_times_on_special=excluded.total_times_on_special,
					computed_at=excluded.computed_at`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, r := range batch {
				if _, err := stmt.ExecContext(ctx,
					r.Store, r.ProductID, r.Name, r.Category, r.ImageURL, r.AvgFrequencyDays,
					nullString(r.FrequencyClass), r.DaysSinceLastSpecial, r.ExpectedDaysUntilNext,
					r.IsOnSpecialNow, nullDay(r.LastSpecialDate), r.LastDiscountPct,
					r.TotalTimesOnSpecial, r.ComputedAt,
				); err != nil {
					return fmt.Errorf("%s: %w", r.Key(), err)
				}
			}
			return nil
		})
		if err != nil {
			return persistErr("upsert intel", err)
		}
	}
	return nil
}

// DeleteIntelAbsent removes the store's intel rows whose product_id is not in
// keep. An empty keep clears the store.
func (s *Store) DeleteIntelAbsent(ctx context.Context, storeName string, keep []string) (int64, error) {
	ids, err := keepList(keep)
	if err != nil {
		return 0, persistErr("delete intel", err)
	}
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM special_intel WHERE store = ?
		AND product_id NOT IN (SELECT value FROM json_each(?))`,
		storeName, ids)
	if err != nil {
		return 0, persistErr("delete intel", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListIntel returns intel records matching f, ordered by store then
// product_id.
func (s *Store) ListIntel(ctx context.Context, f IntelFilter) ([]IntelRecord, error) {
	q := `SELECT ` + intelColumns + ` FROM special_intel WHERE 1=1`
	var args []any
	if f.Store != "" {
		q += ` AND store = ?`
		args = append(args, f.Store)
	}
	if f.FrequencyClass != "" {
		q += ` AND frequency_class = ?`
		args = append(args, f.FrequencyClass)
	}
	if f.OnSpecialOnly {
		q += ` AND is_on_special_now = 1`
	}
	q += ` ORDER BY store, product_id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IntelRecord
	for rows.Next() {
		r, err := scanIntel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetIntel returns one record or ErrNotFound.
func (s *Store) GetIntel(ctx context.Context, key Key) (*IntelRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+intelColumns+` FROM special_intel WHERE store = ? AND product_id = ?`,
		key.Store, key.ProductID)
	r, err := scanIntel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIntel(sc scanner) (*IntelRecord, error) {
	var r IntelRecord
	var class, lastDate sql.NullString
	var onSpecial int
	err := sc.Scan(&r.Store, &r.ProductID, &r.Name, &r.Category, &r.ImageURL,
		&r.AvgFrequencyDays, &class, &r.DaysSinceLastSpecial, &r.ExpectedDaysUntilNext,
		&onSpecial, &lastDate, &r.LastDiscountPct, &r.TotalTimesOnSpecial, &r.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan intel: %w", err)
	}
	r.FrequencyClass = class.String
	r.IsOnSpecialNow = onSpecial != 0
	if r.LastSpecialDate, err = scanNullDay(lastDate); err != nil {
		return nil, fmt.Errorf("scan intel %s last_special_date: %w", r.Key(), err)
	}
	return &r, nil
}
