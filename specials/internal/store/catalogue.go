package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/bravo/dbopen"
)

// UpsertCatalogue writes catalogue entries keyed by (store, product_id).
func (s *Store) UpsertCatalogue(ctx context.Context, entries []CatalogueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := s.now().UnixMilli()
	for _, c := range chunks(len(entries), BatchSize) {
		batch := entries[c[0]:c[1]]
		err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx,
				`INSERT INTO products (store, product_id, name, brand, category, regular_price,
				image_url, product_url, size, last_seen, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(store, product_id) DO UPDATE SET
					name=excluded.name, brand=excluded.brand, category=excluded.category,
					regular_price=excluded.regular_price, image_url=excluded.image_url,
					product_url=excluded.product_url, size=excluded.size,
					last_seen=excluded.last_seen, updated_at=excluded.updated_at`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, e := range batch {
				if _, err := stmt.ExecContext(ctx,
					e.Store, e.ProductID, e.Name, e.Brand, e.Category, e.RegularPrice,
					e.ImageURL, e.ProductURL, e.Size, FormatDay(e.LastSeen), now,
				); err != nil {
					return fmt.Errorf("%s: %w", e.Key(), err)
				}
			}
			return nil
		})
		if err != nil {
			return persistErr("upsert catalogue", err)
		}
	}
	return nil
}

// ListCatalogue returns catalogue entries of a store (all stores when empty).
func (s *Store) ListCatalogue(ctx context.Context, storeName string) ([]CatalogueEntry, error) {
	q := `SELECT store, product_id, name, brand, category, regular_price, image_url,
		product_url, size, last_seen, updated_at FROM products`
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

	var out []CatalogueEntry
	for rows.Next() {
		var e CatalogueEntry
		var lastSeen string
		if err := rows.Scan(&e.Store, &e.ProductID, &e.Name, &e.Brand, &e.Category,
			&e.RegularPrice, &e.ImageURL, &e.ProductURL, &e.Size, &lastSeen, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan catalogue: %w", err)
		}
		if e.LastSeen, err = ParseDay(lastSeen); err != nil {
			return nil, fmt.Errorf("scan catalogue %s last_seen: %w", e.Key(), err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
