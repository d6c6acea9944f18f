// Package store optionally persists completed benchmark runs to
// ClickHouse for historical analysis. It is a collaborator wired only at
// cmd/benchmark: the core generator/recommender packages never depend on
// it, and a run proceeds identically whether or not a Store is present.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/nulpointcorp/llm-bench/internal/model"
)

// Store persists BenchmarkResult rows to ClickHouse.
type Store struct {
	conn driver.Conn
}

// Open connects to ClickHouse at dsn (host:port form, e.g.
// "localhost:9000") and ensures the run_history table exists.
func Open(ctx context.Context, addr, database, username, password string) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	return s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS run_history (
			run_id          String,
			started_at      DateTime64(3),
			finished_at     DateTime64(3),
			server_url      String,
			model           String,
			adapter_kind    String,
			result_json     String
		) ENGINE = MergeTree()
		ORDER BY (started_at, run_id)
	`)
}

// SaveResult persists one completed benchmark run as a single row, with
// the full result serialized as JSON for flexible downstream querying.
func (s *Store) SaveResult(ctx context.Context, result *model.BenchmarkResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO run_history")
	if err != nil {
		return fmt.Errorf("store: prepare batch: %w", err)
	}

	if err := batch.Append(
		result.RunID.String(),
		result.StartedAt,
		result.FinishedAt,
		result.Config.ServerURL,
		result.Config.Model,
		result.Config.AdapterKind,
		string(body),
	); err != nil {
		return fmt.Errorf("store: append row: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("store: send batch: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
