package store

import (
	"context"
	"fmt"

	"github.com/hazyhaar/bravo/dbopen"
)

// RecordRun logs one category outcome. Modelled on a fetch log: append-only,
// read newest first.
func (s *Store) RecordRun(ctx context.Context, r *RunRecord) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO collect_runs (id, run_id, mode, store, category, status, pages,
		products, total, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.Mode, r.Store, r.Category, r.Status, r.Pages,
		r.Products, r.Total, r.Error, r.StartedAt, r.FinishedAt)
	return persistErr("record run", err)
}

// ListRuns returns the most recent run records.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_id, mode, store, category, status, pages, products, total,
		error, started_at, finished_at FROM collect_runs
		ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.Mode, &r.Store, &r.Category, &r.Status,
			&r.Pages, &r.Products, &r.Total, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
