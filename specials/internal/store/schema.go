package store

import "database/sql"

// Schema is the complete bravo SQLite schema.
const Schema = `
-- Products currently on special, one row per store+product.
CREATE TABLE IF NOT EXISTS active_specials (
    store           TEXT NOT NULL,
    product_id      TEXT NOT NULL,
    name            TEXT NOT NULL,
    brand           TEXT NOT NULL DEFAULT '',
    category        TEXT NOT NULL DEFAULT '',
    current_price   REAL NOT NULL,
    original_price  REAL,
    discount_pct    INTEGER,
    special_type    TEXT NOT NULL DEFAULT '',
    image_url       TEXT NOT NULL DEFAULT '',
    product_url     TEXT NOT NULL DEFAULT '',
    size            TEXT NOT NULL DEFAULT '',
    valid_from      TEXT NOT NULL,
    valid_to        TEXT,
    updated_at      INTEGER NOT NULL,
    PRIMARY KEY (store, product_id)
);

-- Discount occurrences. closed = 0 marks the occurrence still running.
CREATE TABLE IF NOT EXISTS special_history (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    store           TEXT NOT NULL,
    product_id      TEXT NOT NULL,
    name            TEXT NOT NULL DEFAULT '',
    current_price   REAL,
    original_price  REAL,
    discount_pct    INTEGER,
    first_seen      TEXT NOT NULL,
    last_seen       TEXT NOT NULL,
    closed          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_special_history_key ON special_history(store, product_id, last_seen DESC);
CREATE INDEX IF NOT EXISTS idx_special_history_open ON special_history(store, closed);

-- Derived frequency analytics, recomputed wholesale.
CREATE TABLE IF NOT EXISTS special_intel (
    store                    TEXT NOT NULL,
    product_id               TEXT NOT NULL,
    name                     TEXT NOT NULL DEFAULT '',
    category                 TEXT NOT NULL DEFAULT '',
    image_url                TEXT NOT NULL DEFAULT '',
    avg_frequency_days       INTEGER,
    frequency_class          TEXT,
    days_since_last_special  INTEGER,
    expected_days_until_next INTEGER,
    is_on_special_now        INTEGER NOT NULL DEFAULT 0,
    last_special_date        TEXT,
    last_discount_pct        INTEGER,
    total_times_on_special   INTEGER NOT NULL DEFAULT 0,
    computed_at              INTEGER NOT NULL,
    PRIMARY KEY (store, product_id)
);
CREATE INDEX IF NOT EXISTS idx_special_intel_class ON special_intel(frequency_class);

-- Catalogue baseline, regardless of discount state.
CREATE TABLE IF NOT EXISTS products (
    store           TEXT NOT NULL,
    product_id      TEXT NOT NULL,
    name            TEXT NOT NULL,
    brand           TEXT NOT NULL DEFAULT '',
    category        TEXT NOT NULL DEFAULT '',
    regular_price   REAL NOT NULL,
    image_url       TEXT NOT NULL DEFAULT '',
    product_url     TEXT NOT NULL DEFAULT '',
    size            TEXT NOT NULL DEFAULT '',
    last_seen       TEXT NOT NULL,
    updated_at      INTEGER NOT NULL,
    PRIMARY KEY (store, product_id)
);

-- Per-category collection outcomes.
CREATE TABLE IF NOT EXISTS collect_runs (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL,
    mode        TEXT NOT NULL,
    store       TEXT NOT NULL,
    category    TEXT NOT NULL,
    status      TEXT NOT NULL,
    pages       INTEGER NOT NULL DEFAULT 0,
    products    INTEGER NOT NULL DEFAULT 0,
    total       INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collect_runs_time ON collect_runs(started_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
