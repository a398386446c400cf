// Package sqlstore persists audit events in an append-only SQL table.
// SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/gzhole/eduguard/internal/audit"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS security_events (
	seq        BIGINT PRIMARY KEY,
	event_id   TEXT NOT NULL UNIQUE,
	ts         BIGINT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	severity   INTEGER NOT NULL,
	blocked    BOOLEAN NOT NULL,
	body       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_events_user ON security_events (user_id, ts);
CREATE INDEX IF NOT EXISTS idx_security_events_ts ON security_events (ts);
CREATE INDEX IF NOT EXISTS idx_security_events_severity ON security_events (severity, ts);
`

var sqliteGuards = []string{
	`CREATE TRIGGER IF NOT EXISTS security_events_no_update BEFORE UPDATE ON security_events
BEGIN SELECT RAISE(ABORT, 'security_events is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS security_events_no_delete BEFORE DELETE ON security_events
BEGIN SELECT RAISE(ABORT, 'security_events is append-only'); END`,
}

var postgresGuards = []string{
	`CREATE OR REPLACE RULE security_events_no_update AS ON UPDATE TO security_events DO INSTEAD NOTHING`,
	`CREATE OR REPLACE RULE security_events_no_delete AS ON DELETE TO security_events DO INSTEAD NOTHING`,
}

// Store is an audit.Store over database/sql.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn with the named driver and migrates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if driver == DriverSQLite {
		// One writer keeps SQLite appends serialized.
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and migrates the schema.
func New(ctx context.Context, db *sql.DB, driver string) (*Store, error) {
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	guards := sqliteGuards
	if s.driver == DriverPostgres {
		guards = postgresGuards
	}
	for _, stmt := range guards {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

// Append inserts events in one transaction. Re-appending an event ID that
// is already stored is a no-op.
func (s *Store) Append(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO security_events
		(seq, event_id, ts, user_id, event_type, severity, blocked, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			int64(ev.Seq), ev.ID, ev.Timestamp.UnixNano(), ev.UserID,
			string(ev.Type), int(ev.Severity), ev.Blocked, string(body),
		); err != nil {
			return fmt.Errorf("sqlstore: insert %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// Query selects matching events ordered by seq.
func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.To.UnixNano())
	}
	if f.MinSeverity > 0 {
		where = append(where, "severity >= ?")
		args = append(args, int(f.MinSeverity))
	}
	if f.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(f.Type))
	}

	q := "SELECT body FROM security_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		q += " ORDER BY seq DESC LIMIT " + strconv.Itoa(f.Limit)
	} else {
		q += " ORDER BY seq"
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var ev audit.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, fmt.Errorf("sqlstore: decoding event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Apply restores ascending seq order after a DESC LIMIT.
	return audit.Filter{}.Apply(out), nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) Close() error {
	return s.db.Close()
}
