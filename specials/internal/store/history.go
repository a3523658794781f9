package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/bravo/dbopen"
)

const historyColumns = `id, store, product_id, name, current_price, original_price,
	discount_pct, first_seen, last_seen, closed`

// InsertWindows appends history windows. IDs are assigned by the database
// and written back into the slice.
func (s *Store) InsertWindows(ctx context.Context, windows []HistoryWindow) error {
	if len(windows) == 0 {
		return nil
	}
	for _, c := range chunks(len(windows), BatchSize) {
		err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
			for i := c[0]; i < c[1]; i++ {
				w := &windows[i]
				res, err := tx.ExecContext(ctx,
					`INSERT INTO special_history (store, product_id, name, current_price,
					original_price, discount_pct, first_seen, last_seen, closed)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					w.Store, w.ProductID, w.Name, w.CurrentPrice, w.OriginalPrice,
					w.DiscountPct, FormatDay(w.FirstSeen), FormatDay(w.LastSeen), w.Closed)
				if err != nil {
					return fmt.Errorf("%s: %w", w.Key(), err)
				}
				if id, err := res.LastInsertId(); err == nil {
					w.ID = id
				}
			}
			return nil
		})
		if err != nil {
			return persistErr("insert windows", err)
		}
	}
	return nil
}

// OpenWindows returns the most recent open window per key.
func (s *Store) OpenWindows(ctx context.Context, storeName string) (map[Key]HistoryWindow, error) {
	q := `SELECT ` + historyColumns + ` FROM special_history WHERE closed = 0`
	var args []any
	if storeName != "" {
		q += ` AND store = ?`
		args = append(args, storeName)
	}
	q += ` ORDER BY last_seen DESC, id DESC`

	windows, err := s.queryWindows(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out := make(map[Key]HistoryWindow, len(windows))
	for _, w := range windows {
		if _, ok := out[w.Key()]; !ok {
			out[w.Key()] = w
		}
	}
	return out, nil
}

// ExtendWindows bumps last_seen on the given windows.
func (s *Store) ExtendWindows(ctx context.Context, ids []int64, lastSeen time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	day := FormatDay(lastSeen)
	for _, c := range chunks(len(ids), BatchSize) {
		err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
			for _, id := range ids[c[0]:c[1]] {
				if _, err := tx.ExecContext(ctx,
					`UPDATE special_history SET last_seen = ? WHERE id = ? AND last_seen < ?`,
					day, id, day); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return persistErr("extend windows", err)
		}
	}
	return nil
}

// CloseWindows marks windows closed, writing their FirstSeen and LastSeen.
func (s *Store) CloseWindows(ctx context.Context, windows []HistoryWindow) error {
	if len(windows) == 0 {
		return nil
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, w := range windows {
			if _, err := tx.ExecContext(ctx,
				`UPDATE special_history SET first_seen = ?, last_seen = ?, closed = 1 WHERE id = ?`,
				FormatDay(w.FirstSeen), FormatDay(w.LastSeen), w.ID); err != nil {
				return err
			}
		}
		return nil
	})
	return persistErr("close windows", err)
}

// ListHistory returns every window of a store (all stores when empty).
func (s *Store) ListHistory(ctx context.Context, storeName string) ([]HistoryWindow, error) {
	q := `SELECT ` + historyColumns + ` FROM special_history`
	var args []any
	if storeName != "" {
		q += ` WHERE store = ?`
		args = append(args, storeName)
	}
	q += ` ORDER BY store, product_id, first_seen, id`
	return s.queryWindows(ctx, q, args...)
}

// KeyHistory returns the windows of one key.
func (s *Store) KeyHistory(ctx context.Context, key Key) ([]HistoryWindow, error) {
	return s.queryWindows(ctx,
		`SELECT `+historyColumns+` FROM special_history
		WHERE store = ? AND product_id = ? ORDER BY first_seen, id`,
		key.Store, key.ProductID)
}

func (s *Store) queryWindows(ctx context.Context, q string, args ...any) ([]HistoryWindow, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryWindow
	for rows.Next() {
		var w HistoryWindow
		var first, last string
		var closed int
		if err := rows.Scan(&w.ID, &w.Store, &w.ProductID, &w.Name, &w.CurrentPrice,
			&w.OriginalPrice, &w.DiscountPct, &first, &last, &closed); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		if w.FirstSeen, err = ParseDay(first); err != nil {
			return nil, fmt.Errorf("scan window %d first_seen: %w", w.ID, err)
		}
		if w.LastSeen, err = ParseDay(last); err != nil {
			return nil, fmt.Errorf("scan window %d last_seen: %w", w.ID, err)
		}
		w.Closed = closed != 0
		out = append(out, w)
	}
	return out, rows.Err()
}
