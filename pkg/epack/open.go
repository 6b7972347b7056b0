package epack

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// StoreConfig selects the durable sink backend. Postgres wins over SQLite,
// SQLite over the JSONL file; with nothing configured records stay in memory.
type StoreConfig struct {
	PostgresDSN string
	SQLitePath  string
	FilePath    string
	Persist     bool
}

// OpenSink opens the configured evidence sink and reports the backend name
// ("postgres", "sqlite", "file", "memory"). SQL backends are pinged and
// migrated before use.
func OpenSink(ctx context.Context, cfg StoreConfig) (Sink, string, error) {
	if !cfg.Persist {
		return NewMemorySink(), "memory", nil
	}
	switch {
	case cfg.PostgresDSN != "":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, "", fmt.Errorf("epack: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, "", fmt.Errorf("epack: ping postgres: %w", err)
		}
		sink := NewPostgresSink(db)
		if err := sink.Init(ctx); err != nil {
			return nil, "", fmt.Errorf("epack: migrate postgres: %w", err)
		}
		return sink, "postgres", nil
	case cfg.SQLitePath != "":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, "", fmt.Errorf("epack: open sqlite: %w", err)
		}
		sink := NewSQLiteSink(db)
		if err := sink.Init(ctx); err != nil {
			return nil, "", fmt.Errorf("epack: migrate sqlite: %w", err)
		}
		return sink, "sqlite", nil
	case cfg.FilePath != "":
		return NewFileSink(cfg.FilePath), "file", nil
	default:
		return NewMemorySink(), "memory", nil
	}
}
