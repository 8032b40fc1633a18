package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pagewise/pagewise/engine/infra/postgres"
)

// PostgresSink stores chunk records in a text_chunks style table keyed by
// (file_hash, chunk_number). Re-reporting a chunk overwrites its row.
type PostgresSink struct {
	db      postgres.DB
	closeFn func()
	table   string
}

func NewPostgresSink(ctx context.Context, cfg *Config) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sink: postgres dsn is required")
	}
	pool, err := postgres.NewPool(ctx, &postgres.Config{DSN: cfg.DSN, Label: "metadata_sink"})
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	s, err := newPostgresSinkWithDB(ctx, pool, pool.Close, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresSinkWithDB(ctx context.Context, db postgres.DB, closeFn func(), table string) (*PostgresSink, error) {
	if table == "" {
		table = DefaultTable
	}
	s := &PostgresSink{db: db, closeFn: closeFn, table: pgx.Identifier{table}.Sanitize()}
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		file_hash TEXT NOT NULL,
		chunk_text TEXT NOT NULL,
		chunk_number INTEGER NOT NULL,
		vector_id TEXT,
		model_used TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE (file_hash, chunk_number)
	)`, s.table)
	if _, err := db.Exec(ctx, createTable); err != nil {
		return nil, fmt.Errorf("sink: create table: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (file_hash, chunk_text, chunk_number, vector_id, model_used)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (file_hash, chunk_number) DO UPDATE SET
    chunk_text = excluded.chunk_text,
    vector_id = excluded.vector_id,
    model_used = excluded.model_used`, s.table)
	if _, err := s.db.Exec(ctx, stmt, rec.FileHash, rec.ChunkText, rec.ChunkNumber, rec.VectorID, rec.ModelUsed); err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close(context.Context) error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
