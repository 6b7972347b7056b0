package epack

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SQLSink stores record chains via database/sql. It works with both
// Postgres (lib/pq) and SQLite (modernc.org/sqlite) drivers; placeholders
// are rewritten for the sqlite dialect.
type SQLSink struct {
	db       *sql.DB
	postgres bool
}

// NewPostgresSink wraps a lib/pq connection.
func NewPostgresSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db, postgres: true}
}

// NewSQLiteSink wraps a modernc.org/sqlite connection.
func NewSQLiteSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db, postgres: false}
}

const sinkSchema = `
CREATE TABLE IF NOT EXISTS epack_records (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts DOUBLE PRECISION NOT NULL,
	prev_hash TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	hash TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

func (s *SQLSink) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sinkSchema)
	return err
}

var sqlitePlaceholders = strings.NewReplacer(
	"$1", "?1", "$2", "?2", "$3", "?3", "$4", "?4", "$5", "?5", "$6", "?6", "$7", "?7",
)

func (s *SQLSink) ph(query string) string {
	if s.postgres {
		return query
	}
	return sqlitePlaceholders.Replace(query)
}

func (s *SQLSink) Append(ctx context.Context, sessionID string, rec Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("epack: encode payload: %w", err)
	}
	query := s.ph(`
		INSERT INTO epack_records (session_id, seq, ts, prev_hash, payload_hash, hash, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	_, err = s.db.ExecContext(ctx, query,
		sessionID, rec.Seq, rec.Ts, rec.PrevHash, rec.PayloadHash, rec.Hash, string(payload),
	)
	return err
}

func (s *SQLSink) Records(ctx context.Context, sessionID string) ([]Record, error) {
	query := s.ph(`
		SELECT seq, ts, prev_hash, payload_hash, hash, payload
		FROM epack_records WHERE session_id = $1 ORDER BY seq ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.Seq, &rec.Ts, &rec.PrevHash, &rec.PayloadHash, &rec.Hash, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("epack: decode payload seq=%d: %w", rec.Seq, err)
		}
		rec.SessionID = sessionID
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *SQLSink) LastSeq(ctx context.Context, sessionID string) (int, error) {
	query := s.ph(`SELECT COALESCE(MAX(seq), 0) FROM epack_records WHERE session_id = $1`)
	var seq int
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
