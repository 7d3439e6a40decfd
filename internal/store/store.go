// Package store persists run history to SQLite. It is opt-in; the
// append-only text run log remains the primary diagnostic artifact.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/HerbHall/pathvantage/internal/metric"
)

// HistoryStore records one row per (target, interface) run.
type HistoryStore struct {
	db *sql.DB
}

// Open opens (or creates) the history database and applies the
// schema.
func Open(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection. WAL
	// enables concurrent readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite takes pragmas as SQL statements, not DSN
	// parameters.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &HistoryStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *HistoryStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	recorded_at   TEXT NOT NULL,
	target        TEXT NOT NULL,
	target_addr   TEXT NOT NULL,
	iface         TEXT NOT NULL,
	best_ms       REAL,
	avg_ms        REAL,
	worst_ms      REAL,
	jitter_ms     REAL,
	loss_pct      REAL,
	hops          INTEGER,
	reached       INTEGER NOT NULL,
	upload_mbps   REAL,
	upload_port   INTEGER,
	download_mbps REAL,
	download_port INTEGER,
	up_delta_ms   REAL,
	down_delta_ms REAL
);
CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target_addr, recorded_at);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Record inserts one run. Unavailable samples become NULLs, never
// numeric placeholders.
func (s *HistoryStore) Record(ctx context.Context, r *metric.RunResult) error {
	const q = `
INSERT INTO runs (
	run_id, recorded_at, target, target_addr, iface,
	best_ms, avg_ms, worst_ms, jitter_ms, loss_pct, hops, reached,
	upload_mbps, upload_port, download_mbps, download_port,
	up_delta_ms, down_delta_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		r.RunID, time.Now().UTC().Format(time.RFC3339), r.TargetInput, r.TargetAddr, r.Iface,
		nullable(r.Baseline.Best), nullable(r.Baseline.Avg), nullable(r.Baseline.Worst),
		nullable(r.Baseline.Jitter), nullable(r.Baseline.Loss),
		r.Baseline.Hops, boolInt(r.Baseline.DestinationReached),
		nullable(r.Upload.Mbps), r.Upload.PortUsed,
		nullable(r.Download.Mbps), r.Download.PortUsed,
		nullable(r.UploadDeltaLatency), nullable(r.DownloadDeltaLatency),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}
	return nil
}

// Count returns the number of recorded runs.
func (s *HistoryStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *HistoryStore) Close() error { return s.db.Close() }

func nullable(v metric.Sample) any {
	if f, ok := v.Value(); ok {
		return f
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
