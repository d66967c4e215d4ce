package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/riskgate/riskgate/internal/common/database"
)

// trackerSchema creates the registry tables. Idempotent.
const trackerSchema = `
CREATE TABLE IF NOT EXISTS known_devices (
	identity     TEXT NOT NULL,
	hash         TEXT NOT NULL,
	device_id    TEXT NOT NULL,
	user_agent   TEXT NOT NULL DEFAULT '',
	platform     TEXT NOT NULL DEFAULT '',
	screen_res   TEXT NOT NULL DEFAULT '',
	timezone     TEXT NOT NULL DEFAULT '',
	language     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (identity, hash)
);

CREATE TABLE IF NOT EXISTS known_ips (
	identity   TEXT NOT NULL,
	ip_address TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (identity, ip_address)
);

CREATE TABLE IF NOT EXISTS location_history (
	id          BIGSERIAL PRIMARY KEY,
	identity    TEXT NOT NULL,
	label       TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_location_history_identity ON location_history (identity, observed_at DESC);

CREATE TABLE IF NOT EXISTS auth_failures (
	id          BIGSERIAL PRIMARY KEY,
	identity    TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_auth_failures_identity ON auth_failures (identity, occurred_at DESC);
`

// PostgresTracker is a durable DeviceTracker backed by PostgreSQL. It
// implements the same semantics as MemoryTracker: dedupe by content
// hash, idempotent IP registration, FIFO-capped location history, and
// last-seen refresh on device recognition. Linearizability per identity
// is delegated to the database's row-level guarantees.
type PostgresTracker struct {
	db           *database.PostgresDB
	historyLimit int
	logger       *zap.Logger
}

// NewPostgresTracker creates a Postgres-backed tracker.
func NewPostgresTracker(db *database.PostgresDB, historyLimit int, logger *zap.Logger) *PostgresTracker {
	if historyLimit <= 0 {
		historyLimit = DefaultLocationHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresTracker{
		db:           db,
		historyLimit: historyLimit,
		logger:       logger.With(zap.String("component", "postgres_tracker")),
	}
}

// EnsureSchema creates the registry tables if they do not exist.
func (t *PostgresTracker) EnsureSchema(ctx context.Context) error {
	if _, err := t.db.Pool.Exec(ctx, trackerSchema); err != nil {
		return fmt.Errorf("failed to create tracker schema: %w", err)
	}
	return nil
}

// IsKnownDevice checks by content hash, refreshing last_seen_at on a match.
func (t *PostgresTracker) IsKnownDevice(ctx context.Context, identity string, fp DeviceFingerprint) (bool, error) {
	tag, err := t.db.Pool.Exec(ctx,
		`UPDATE known_devices SET last_seen_at = NOW() WHERE identity = $1 AND hash = $2`,
		identity, fp.Hash())
	if err != nil {
		return false, fmt.Errorf("device lookup failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RegisterDevice inserts the device unless its hash is already present.
func (t *PostgresTracker) RegisterDevice(ctx context.Context, identity string, fp DeviceFingerprint) error {
	_, err := t.db.Pool.Exec(ctx,
		`INSERT INTO known_devices (identity, hash, device_id, user_agent, platform, screen_res, timezone, language)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (identity, hash) DO UPDATE SET last_seen_at = NOW()`,
		identity, fp.Hash(), fp.ID, fp.UserAgent, fp.Platform, fp.ScreenRes, fp.Timezone, fp.Language)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// IsKnownIP reports membership without side effects.
func (t *PostgresTracker) IsKnownIP(ctx context.Context, identity, ip string) (bool, error) {
	var exists bool
	err := t.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM known_ips WHERE identity = $1 AND ip_address = $2)`,
		identity, ip).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ip lookup failed: %w", err)
	}
	return exists, nil
}

// RegisterIP adds ip to the identity's set. Idempotent under races via
// ON CONFLICT DO NOTHING.
func (t *PostgresTracker) RegisterIP(ctx context.Context, identity, ip string) error {
	_, err := t.db.Pool.Exec(ctx,
		`INSERT INTO known_ips (identity, ip_address) VALUES ($1, $2)
		 ON CONFLICT (identity, ip_address) DO NOTHING`,
		identity, ip)
	if err != nil {
		return fmt.Errorf("failed to register ip: %w", err)
	}
	return nil
}

// AddLocation appends the observation and trims history beyond the cap.
func (t *PostgresTracker) AddLocation(ctx context.Context, identity, label string) error {
	if _, err := t.db.Pool.Exec(ctx,
		`INSERT INTO location_history (identity, label) VALUES ($1, $2)`,
		identity, label); err != nil {
		return fmt.Errorf("failed to add location: %w", err)
	}

	_, err := t.db.Pool.Exec(ctx,
		`DELETE FROM location_history
		 WHERE identity = $1 AND id NOT IN (
			SELECT id FROM location_history WHERE identity = $1
			ORDER BY observed_at DESC, id DESC LIMIT $2
		 )`,
		identity, t.historyLimit)
	if err != nil {
		return fmt.Errorf("failed to trim location history: %w", err)
	}
	return nil
}

// RecentLocation returns the newest entry within the window.
func (t *PostgresTracker) RecentLocation(ctx context.Context, identity string, within time.Duration) (LocationEntry, bool, error) {
	var entry LocationEntry
	err := t.db.Pool.QueryRow(ctx,
		`SELECT label, observed_at FROM location_history
		 WHERE identity = $1 AND observed_at > NOW() - make_interval(secs => $2)
		 ORDER BY observed_at DESC, id DESC LIMIT 1`,
		identity, within.Seconds()).Scan(&entry.Label, &entry.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return LocationEntry{}, false, nil
	}
	if err != nil {
		return LocationEntry{}, false, fmt.Errorf("location lookup failed: %w", err)
	}
	return entry, true, nil
}

// RecordFailure notes a failed authentication attempt.
func (t *PostgresTracker) RecordFailure(ctx context.Context, identity string) error {
	if _, err := t.db.Pool.Exec(ctx,
		`INSERT INTO auth_failures (identity) VALUES ($1)`, identity); err != nil {
		return fmt.Errorf("failed to record auth failure: %w", err)
	}
	return nil
}

// RecentFailures counts failures within the window.
func (t *PostgresTracker) RecentFailures(ctx context.Context, identity string, within time.Duration) (int, error) {
	var count int
	err := t.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM auth_failures
		 WHERE identity = $1 AND occurred_at > NOW() - make_interval(secs => $2)`,
		identity, within.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failure count failed: %w", err)
	}
	return count, nil
}

// ClearFailures drops the identity's failure history.
func (t *PostgresTracker) ClearFailures(ctx context.Context, identity string) error {
	if _, err := t.db.Pool.Exec(ctx,
		`DELETE FROM auth_failures WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("failed to clear auth failures: %w", err)
	}
	return nil
}

// Devices returns the identity's known devices in registration order.
func (t *PostgresTracker) Devices(ctx context.Context, identity string) ([]DeviceFingerprint, error) {
	rows, err := t.db.Pool.Query(ctx,
		`SELECT device_id, user_agent, platform, screen_res, timezone, language, created_at, last_seen_at
		 FROM known_devices WHERE identity = $1 ORDER BY created_at`,
		identity)
	if err != nil {
		return nil, fmt.Errorf("device list failed: %w", err)
	}
	defer rows.Close()

	var devices []DeviceFingerprint
	for rows.Next() {
		var d DeviceFingerprint
		if err := rows.Scan(&d.ID, &d.UserAgent, &d.Platform, &d.ScreenRes,
			&d.Timezone, &d.Language, &d.CreatedAt, &d.LastSeen); err != nil {
			continue
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
