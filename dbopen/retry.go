package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// BusyAttempts bounds how often a write is tried while SQLite reports BUSY.
// The n-th retry waits n × BusyBackoff.
var (
	BusyAttempts = 3
	BusyBackoff  = 100 * time.Millisecond
)

var busyMarkers = []string{"SQLITE_BUSY", "database is locked", "database table is locked"}

// IsBusy reports whether err is a transient SQLite lock conflict.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range busyMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RunTx runs fn in a transaction and retries the whole transaction while
// SQLite reports BUSY. Other errors roll back and are returned unchanged.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return onBusy(ctx, "tx", func() error { return runOnce(ctx, db, fn) })
}

// Exec runs a single statement with the same BUSY retry as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := onBusy(ctx, "exec", func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func onBusy(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= max(1, BusyAttempts); attempt++ {
		if err = fn(); !IsBusy(err) {
			return err
		}
		if attempt == BusyAttempts {
			break
		}
		t := time.NewTimer(time.Duration(attempt) * BusyBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("dbopen: %s interrupted while busy: %w", op, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("dbopen: %s still busy after %d attempts: %w", op, BusyAttempts, err)
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}
