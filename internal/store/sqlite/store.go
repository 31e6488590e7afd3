// Package sqlite implements the relational ListingStore over
// database/sql + mattn/go-sqlite3: a single-writer WAL-mode connection
// holding listings, their price history, field-level change log and
// per-run scrape history.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
)

// Store is the default ports.ListingStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dsn, applies
// pragmas and the schema, and returns a ready Store. SQLite is
// single-writer, so the pool is pinned to one connection (grounded on the
// same pattern go-mizu-mizu's sqlite driver uses).
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertListing inserts a new listing or updates the existing one keyed by
// (site, external_id), replacing its image set. inserted reports whether
// this was a first observation.
func (s *Store) UpsertListing(ctx context.Context, l *domain.Listing) (bool, error) {
	now := time.Now()
	if l.FirstSeenAt.IsZero() {
		l.FirstSeenAt = now
	}
	l.LastSeenAt = now

	features, err := json.Marshal(l.Features)
	if err != nil {
		return false, fmt.Errorf("marshal features: %w", err)
	}

	var inserted bool
	err = s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM listings WHERE site = ? AND external_id = ?)`,
			l.Site, l.ExternalID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check existing listing: %w", err)
		}
		inserted = !exists

		_, err = tx.ExecContext(ctx, `
			INSERT INTO listings (
				site, external_id, url, title, price, currency, area, rooms, location,
				features, description, content_fingerprint, consecutive_unseen,
				first_seen_at, last_seen_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(site, external_id) DO UPDATE SET
				url = excluded.url,
				title = excluded.title,
				price = excluded.price,
				currency = excluded.currency,
				area = excluded.area,
				rooms = excluded.rooms,
				location = excluded.location,
				features = excluded.features,
				description = excluded.description,
				content_fingerprint = excluded.content_fingerprint,
				consecutive_unseen = excluded.consecutive_unseen,
				last_seen_at = excluded.last_seen_at
		`,
			l.Site, l.ExternalID, l.URL, l.Title, l.Price, l.Currency, l.Area, l.Rooms, l.Location,
			string(features), l.Description, l.ContentFingerprint, l.ConsecutiveUnseen,
			l.FirstSeenAt, l.LastSeenAt,
		)
		if err != nil {
			return fmt.Errorf("upsert listing: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM listing_images WHERE site = ? AND external_id = ?`, l.Site, l.ExternalID,
		); err != nil {
			return fmt.Errorf("clear listing images: %w", err)
		}
		for _, img := range l.Images {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO listing_images (site, external_id, url, position) VALUES (?, ?, ?, ?)`,
				l.Site, l.ExternalID, img.URL, img.Position,
			); err != nil {
				return fmt.Errorf("insert listing image: %w", err)
			}
		}

		return tx.Commit()
	})

	return inserted, err
}

// GetListing returns the stored listing for (site, externalID), or nil if
// none exists yet.
func (s *Store) GetListing(ctx context.Context, site, externalID string) (*domain.Listing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url, title, price, currency, area, rooms, location, features, description,
		       content_fingerprint, consecutive_unseen, first_seen_at, last_seen_at
		FROM listings WHERE site = ? AND external_id = ?
	`, site, externalID)

	l := &domain.Listing{Site: site, ExternalID: externalID}
	var featuresJSON string
	err := row.Scan(
		&l.URL, &l.Title, &l.Price, &l.Currency, &l.Area, &l.Rooms, &l.Location,
		&featuresJSON, &l.Description, &l.ContentFingerprint, &l.ConsecutiveUnseen,
		&l.FirstSeenAt, &l.LastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %s/%s: %w", site, externalID, err)
	}

	if featuresJSON != "" {
		if err := json.Unmarshal([]byte(featuresJSON), &l.Features); err != nil {
			return nil, fmt.Errorf("unmarshal features: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT url, position FROM listing_images WHERE site = ? AND external_id = ? ORDER BY position`,
		site, externalID,
	)
	if err != nil {
		return nil, fmt.Errorf("list listing images %s/%s: %w", site, externalID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var img domain.ListingImage
		if err := rows.Scan(&img.URL, &img.Position); err != nil {
			return nil, fmt.Errorf("scan listing image: %w", err)
		}
		l.Images = append(l.Images, img)
	}

	return l, rows.Err()
}

// RecordPricePoint appends p to (site, externalID)'s price history, then
// prunes to the most recent PriceHistoryLimit entries.
func (s *Store) RecordPricePoint(ctx context.Context, site, externalID string, p domain.PricePoint) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO price_history (site, external_id, price, observed_at) VALUES (?, ?, ?, ?)`,
			site, externalID, p.Price, p.ObservedAt,
		); err != nil {
			return fmt.Errorf("insert price point: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM price_history
			WHERE site = ? AND external_id = ? AND rowid NOT IN (
				SELECT rowid FROM price_history
				WHERE site = ? AND external_id = ?
				ORDER BY observed_at DESC
				LIMIT ?
			)
		`, site, externalID, site, externalID, constants.PriceHistoryLimit); err != nil {
			return fmt.Errorf("prune price history: %w", err)
		}

		return tx.Commit()
	})
}

// RecordChange appends a field-level diff to the change log.
func (s *Store) RecordChange(ctx context.Context, c domain.ListingChange) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO listing_changes (site, external_id, field, old_value, new_value, observed_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.Site, c.ExternalID, c.Field, c.OldValue, c.NewValue, c.ObservedAt,
		)
		if err != nil {
			return fmt.Errorf("record change: %w", err)
		}
		return nil
	})
}

// RecordScrapeRun persists one run's session report.
func (s *Store) RecordScrapeRun(ctx context.Context, report *domain.SessionReport) error {
	failures, err := json.Marshal(report.FailuresByKind)
	if err != nil {
		return fmt.Errorf("marshal failures_by_kind: %w", err)
	}
	perDomain, err := json.Marshal(report.PerDomain)
	if err != nil {
		return fmt.Errorf("marshal per_domain: %w", err)
	}

	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scrape_history (
				run_id, started_at, ended_at, total_requests, successes, rate_limit_events,
				circuit_trips, pool_exhaustions, health, failures_by_kind, per_domain
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.RunID, report.StartedAt, report.EndedAt, report.TotalRequests, report.Successes,
			report.RateLimitEvents, report.CircuitTrips, report.PoolExhaustions,
			string(report.Health), string(failures), string(perDomain),
		)
		if err != nil {
			return fmt.Errorf("record scrape run: %w", err)
		}
		return nil
	})
}

// withRetry retries fn under sqlite busy/locked errors,
// with exponential backoff capped at DBBusyMaxDelay.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	delay := constants.DBBusyBaseDelay
	var lastErr error
	for attempt := 0; attempt < constants.DBBusyMaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyErr(lastErr) {
			return lastErr
		}

		jittered := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
		if delay > constants.DBBusyMaxDelay {
			delay = constants.DBBusyMaxDelay
		}
	}
	return lastErr
}

func isBusyErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(err.Error(), "database is locked")
}
