package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/bravo/dbopen"
)

// UpsertSpecials writes active specials in batches. On conflict every
// descriptive column is refreshed but valid_from is left untouched and
// valid_to stays open.
func (s *Store) UpsertSpecials(ctx context.Context, rows []ActiveSpecial) error {
	if len(rows) == 0 {
		return nil
	}
	now := s.now().UnixMilli()
	for _, c := range chunks(len(rows), BatchSize) {
		batch := rows[c[0]:c[1]]
		err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx,
				`INSERT INTO active_specials (store, product_id, name, brand, category,
				current_price, original_price, discount_pct, special_type, image_url,
				product_url, size, valid_from, valid_to, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
				ON CONFLICT(store, product_id) DO UPDATE SET
					name=excluded.name, brand=excluded.brand, category=excluded.category,
					current_price=excluded.current_price, original_price=excluded.original_price,
					discount_pct=excluded.discount_pct, special_type=excluded.special_type,
					image_url=excluded.image_url, product_url=excluded.product_url,
					size=excluded.size, valid_to=NULL, updated_at=excluded.updated_at`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, r := range batch {
				if _, err := stmt.ExecContext(ctx,
					r.Store, r.ProductID, r.Name, r.Brand, r.Category,
					r.CurrentPrice, r.OriginalPrice, r.DiscountPct, r.SpecialType, r.ImageURL,
					r.ProductURL, r.Size, FormatDay(r.ValidFrom), now,
				); err != nil {
					return fmt.Errorf("%s: %w", r.Key(), err)
				}
			}
			return nil
		})
		if err != nil {
			return persistErr("upsert specials", err)
		}
	}
	return nil
}

// ListSpecials returns active specials ordered by store then product_id.
func (s *Store) ListSpecials(ctx context.Context, storeName string) ([]ActiveSpecial, error) {
	q := `SELECT store, product_id, name, brand, category, current_price, original_price,
		discount_pct, special_type, image_url, product_url, size, valid_from, valid_to, updated_at
		FROM active_specials`
	var args []any
	if storeName != "" {
		q += ` WHERE store = ?`
		args = append(args, storeName)
	}
	q += ` ORDER BY store, product_id`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveSpecial
	for rows.Next() {
		var a ActiveSpecial
		var validFrom string
		var validTo sql.NullString
		if err := rows.Scan(&a.Store, &a.ProductID, &a.Name, &a.Brand, &a.Category,
			&a.CurrentPrice, &a.OriginalPrice, &a.DiscountPct, &a.SpecialType, &a.ImageURL,
			&a.ProductURL, &a.Size, &validFrom, &validTo, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan special: %w", err)
		}
		if a.ValidFrom, err = ParseDay(validFrom); err != nil {
			return nil, fmt.Errorf("scan special %s valid_from: %w", a.Key(), err)
		}
		if a.ValidTo, err = scanNullDay(validTo); err != nil {
			return nil, fmt.Errorf("scan special %s valid_to: %w", a.Key(), err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteSpecials removes the given keys in one transaction.
func (s *Store) DeleteSpecials(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM active_specials WHERE store = ? AND product_id = ?`,
				k.Store, k.ProductID); err != nil {
				return err
			}
		}
		return nil
	})
	return persistErr("delete specials", err)
}

// DeleteSpecialsAbsent removes the store's active specials whose product_id
// is not in keep and returns how many were removed. An empty keep clears the
// store.
func (s *Store) DeleteSpecialsAbsent(ctx context.Context, storeName string, keep []string) (int64, error) {
	ids, err := keepList(keep)
	if err != nil {
		return 0, persistErr("delete absent specials", err)
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM active_specials WHERE store = ?
		AND product_id NOT IN (SELECT value FROM json_each(?))`,
		storeName, ids)
	if err != nil {
		return 0, persistErr("delete absent specials", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
