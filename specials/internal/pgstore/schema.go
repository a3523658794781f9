package pgstore

// Schema mirrors the SQLite schema with native DATE and BOOLEAN columns.
const Schema = `
CREATE TABLE IF NOT EXISTS active_specials (
    store           TEXT NOT NULL,
    product_id      TEXT NOT NULL,
    name            TEXT NOT NULL,
    brand           TEXT NOT NULL DEFAULT '',
    category        TEXT NOT NULL DEFAULT '',
    current_price   DOUBLE PRECISION NOT NULL,
    original_price  DOUBLE PRECISION,
    discount_pct    INTEGER,
    special_type    TEXT NOT NULL DEFAULT '',
    image_url       TEXT NOT NULL DEFAULT '',
    product_url     TEXT NOT NULL DEFAULT '',
    size            TEXT NOT NULL DEFAULT '',
    valid_from      DATE NOT NULL,
    valid_to        DATE,
    updated_at      BIGINT NOT NULL,
    PRIMARY KEY (store, product_id)
);

CREATE TABLE IF NOT EXISTS special_history (
    id              BIGSERIAL PRIMARY KEY,
    store           TEXT NOT NULL,
    product_id      TEXT NOT NULL,
    name            TEXT NOT NULL DEFAULT '',
    current_price   DOUBLE PRECISION,
    original_price  DOUBLE PRECISION,
    discount_pct    INTEGER,
    first_seen      DATE NOT NULL,
    last_seen       DATE NOT NULL,
    closed          BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_special_history_key ON special_history(store, product_id, last_seen DESC);
CREATE INDEX IF NOT EXISTS idx_special_history_open ON special_history(store) WHERE NOT closed;

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
    is_on_special_now        BOOLEAN NOT NULL DEFAULT FALSE,
    last_special_date        DATE,
    last_discount_pct        INTEGER,
    total_times_on_special   INTEGER NOT NULL DEFAULT 0,
    computed_at              BIGINT NOT NULL,
    PRIMARY KEY (store, product_id)
);
CREATE INDEX IF NOT EXISTS idx_special_intel_class ON special_intel(frequency_class);

CREATE TABLE IF NOT EXISTS products (
    store           TEXT NOT NULL,
    product_id      TEXT NOT NULL,
    name            TEXT NOT NULL,
    brand           TEXT NOT NULL DEFAULT '',
    category        TEXT NOT NULL DEFAULT '',
    regular_price   DOUBLE PRECISION NOT NULL,
    image_url       TEXT NOT NULL DEFAULT '',
    product_url     TEXT NOT NULL DEFAULT '',
    size            TEXT NOT NULL DEFAULT '',
    last_seen       DATE NOT NULL,
    updated_at      BIGINT NOT NULL,
    PRIMARY KEY (store, product_id)
);

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
    started_at  BIGINT NOT NULL,
    finished_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collect_runs_time ON collect_runs(started_at DESC);
`
