// Package sqlite provides an embedded single-file store with the same
// method surface and error semantics as the PostgreSQL storage layer.
// It backs single-node and development deployments where running Postgres
// is not worth it; the facade picks the store by configured driver.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically
// in chronological order. RFC3339Nano would drop trailing zeros and break
// ORDER BY on the text column.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed implementation of the Attune storage surface.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) a SQLite database at the given path.
// If path is ":memory:", uses an in-memory database. Sets WAL mode,
// enables foreign keys, and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// The driver serializes writes; a single connection avoids
	// SQLITE_BUSY between pooled connections under concurrent use.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS parameters (
    id             TEXT PRIMARY KEY,
    display_name   TEXT NOT NULL,
    domain_group   TEXT NOT NULL DEFAULT '',
    parameter_type TEXT NOT NULL,
    directionality TEXT NOT NULL DEFAULT 'neutral',
    created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS calls (
    id          TEXT PRIMARY KEY,
    caller_id   TEXT NOT NULL,
    segment_id  TEXT,
    occurred_at TEXT NOT NULL,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS calls_caller_idx ON calls (caller_id, occurred_at);

CREATE TABLE IF NOT EXISTS observations (
    id           TEXT PRIMARY KEY,
    parameter_id TEXT NOT NULL REFERENCES parameters(id),
    entity_id    TEXT NOT NULL,
    value        REAL NOT NULL,
    confidence   REAL NOT NULL,
    observed_at  TEXT NOT NULL,
    source       TEXT NOT NULL,
    call_id      TEXT REFERENCES calls(id) ON DELETE CASCADE,
    created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS observations_entity_parameter_idx
    ON observations (entity_id, parameter_id, observed_at);

CREATE TABLE IF NOT EXISTS behavior_measurements (
    id           TEXT PRIMARY KEY,
    call_id      TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
    parameter_id TEXT NOT NULL REFERENCES parameters(id),
    value        REAL NOT NULL,
    confidence   REAL NOT NULL,
    created_at   TEXT NOT NULL,
    UNIQUE (call_id, parameter_id)
);

CREATE TABLE IF NOT EXISTS call_outcomes (
    call_id     TEXT PRIMARY KEY REFERENCES calls(id) ON DELETE CASCADE,
    good        INTEGER,
    score       REAL,
    recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS behavior_targets (
    id                TEXT PRIMARY KEY,
    parameter_id      TEXT NOT NULL REFERENCES parameters(id),
    scope_level       TEXT NOT NULL,
    scope_entity      TEXT,
    value             REAL NOT NULL,
    confidence        REAL NOT NULL,
    source            TEXT NOT NULL,
    effective_from    TEXT NOT NULL,
    effective_until   TEXT,
    observation_count INTEGER NOT NULL DEFAULT 0,
    last_learned_at   TEXT,
    created_at        TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS behavior_targets_one_active
    ON behavior_targets (parameter_id, scope_level, COALESCE(scope_entity, ''))
    WHERE effective_until IS NULL;

CREATE INDEX IF NOT EXISTS behavior_targets_tuple_idx
    ON behavior_targets (parameter_id, scope_level, scope_entity, effective_from);

CREATE TABLE IF NOT EXISTS reward_scores (
    id               TEXT PRIMARY KEY,
    call_id          TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
    parameter_id     TEXT NOT NULL REFERENCES parameters(id),
    target_value     REAL NOT NULL,
    measured_value   REAL NOT NULL,
    outcome_good     INTEGER,
    reward           REAL NOT NULL,
    action           TEXT NOT NULL,
    hit_target       INTEGER NOT NULL,
    baseline_assumed INTEGER NOT NULL DEFAULT 0,
    target_scope     TEXT,
    created_at       TEXT NOT NULL,
    UNIQUE (call_id, parameter_id)
);

CREATE TABLE IF NOT EXISTS caller_profiles (
    caller_id         TEXT NOT NULL,
    parameter_id      TEXT NOT NULL REFERENCES parameters(id),
    value             REAL NOT NULL,
    weight            REAL NOT NULL,
    observation_count INTEGER NOT NULL,
    computed_at       TEXT NOT NULL,
    PRIMARY KEY (caller_id, parameter_id)
);
`

// uniqueViolation reports whether err is a SQLite unique violation whose
// message mentions the given table or index name. The modernc driver only
// exposes constraint details through the error string.
func uniqueViolation(err error, name string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, name)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

// nullableTimeArg converts a *time.Time to a SQLite TEXT value or NULL.
func nullableTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseNullableTime parses a nullable TEXT timestamp.
func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullableBoolArg converts a *bool to a SQLite INTEGER value or NULL.
func nullableBoolArg(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

// parseNullableBool converts a nullable INTEGER column back to *bool.
func parseNullableBool(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}
