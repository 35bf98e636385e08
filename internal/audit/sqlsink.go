package audit

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLSink appends Events to a shepherd_audit table, dual-dialect like
// the teacher's SQLSink: sqlite (modernc.org/sqlite, pure Go, no cgo)
// selected by a bare path or a sqlite:// DSN, postgres (jackc/pgx/v5
// stdlib driver) selected by a postgres:// DSN.
type SQLSink struct {
	db      *sql.DB
	dialect string
}

// NewSQLSinkFromDSN opens (creating the schema if needed) a sink for
// dsn. An empty dsn is an error — callers should use NopSink instead of
// constructing one.
func NewSQLSinkFromDSN(dsn string) (*SQLSink, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("audit: empty DSN")
	}
	ld := strings.ToLower(d)

	var drv, dialect, path string
	switch {
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		drv, dialect, path = "pgx", "postgres", d
	case strings.HasPrefix(ld, "sqlite://"):
		drv, dialect, path = "sqlite", "sqlite", strings.TrimPrefix(d, "sqlite://")
	default:
		drv, dialect, path = "sqlite", "sqlite", d
	}

	db, err := sql.Open(drv, path)
	if err != nil {
		return nil, err
	}
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	var stmt string
	if s.dialect == "sqlite" {
		stmt = `CREATE TABLE IF NOT EXISTS shepherd_audit(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TIMESTAMP NOT NULL,
			event_type TEXT NOT NULL,
			daemon TEXT NOT NULL,
			detail TEXT NOT NULL
		);`
	} else {
		stmt = `CREATE TABLE IF NOT EXISTS shepherd_audit(
			id BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			event_type TEXT NOT NULL,
			daemon TEXT NOT NULL,
			detail TEXT NOT NULL
		);`
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return err
	}
	idx := `CREATE INDEX IF NOT EXISTS idx_shepherd_audit_daemon ON shepherd_audit(daemon);`
	_, err := s.db.ExecContext(ctx, idx)
	return err
}

// Send is the only write path into the table; nothing in Shepherd ever
// queries it back.
func (s *SQLSink) Send(ctx context.Context, e Event) error {
	occurred := e.OccurredAt.UTC()
	var err error
	if s.dialect == "sqlite" {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO shepherd_audit(occurred_at, event_type, daemon, detail) VALUES(?, ?, ?, ?);`,
			occurred, string(e.Type), e.Daemon, e.Detail)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO shepherd_audit(occurred_at, event_type, daemon, detail) VALUES($1,$2,$3,$4);`,
			occurred, string(e.Type), e.Daemon, e.Detail)
	}
	return err
}

func (s *SQLSink) Close() error { return s.db.Close() }
