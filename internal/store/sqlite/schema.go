package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	site                TEXT NOT NULL,
	external_id         TEXT NOT NULL,
	url                 TEXT,
	title               TEXT,
	price               REAL,
	currency            TEXT,
	area                REAL,
	rooms               REAL,
	location            TEXT,
	features            TEXT,
	description         TEXT,
	content_fingerprint TEXT,
	consecutive_unseen  INTEGER NOT NULL DEFAULT 0,
	first_seen_at       TIMESTAMP,
	last_seen_at        TIMESTAMP,
	PRIMARY KEY (site, external_id)
);

CREATE TABLE IF NOT EXISTS listing_images (
	site        TEXT NOT NULL,
	external_id TEXT NOT NULL,
	url         TEXT NOT NULL,
	position    INTEGER NOT NULL,
	FOREIGN KEY (site, external_id) REFERENCES listings(site, external_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_listing_images_listing ON listing_images(site, external_id);

CREATE TABLE IF NOT EXISTS price_history (
	site        TEXT NOT NULL,
	external_id TEXT NOT NULL,
	price       REAL NOT NULL,
	observed_at TIMESTAMP NOT NULL,
	FOREIGN KEY (site, external_id) REFERENCES listings(site, external_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(site, external_id, observed_at);

CREATE TABLE IF NOT EXISTS listing_changes (
	site        TEXT NOT NULL,
	external_id TEXT NOT NULL,
	field       TEXT NOT NULL,
	old_value   TEXT,
	new_value   TEXT,
	observed_at TIMESTAMP NOT NULL,
	FOREIGN KEY (site, external_id) REFERENCES listings(site, external_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_listing_changes_listing ON listing_changes(site, external_id, observed_at);

CREATE TABLE IF NOT EXISTS scrape_history (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id            TEXT,
	started_at        TIMESTAMP,
	ended_at          TIMESTAMP,
	total_requests    INTEGER,
	successes         INTEGER,
	rate_limit_events INTEGER,
	circuit_trips     INTEGER,
	pool_exhaustions  INTEGER,
	health            TEXT,
	failures_by_kind  TEXT,
	per_domain        TEXT
);
`
