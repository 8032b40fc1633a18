package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pagewise/pagewise/engine/infra/postgres"
	pgvector "github.com/pgvector/pgvector-go"
)

const defaultPGTable = "pagewise_vectors"

type pgStore struct {
	db         postgres.DB
	closeFn    func()
	namespace  string
	tableIdent string
	indexIdent string
	dimension  int
	distance   pgDistance
	ensureIdx  bool
	maxTopK    int
}

// pgDistance pairs a pgvector operator with the expression turning its
// distance into a similarity score where larger is closer.
type pgDistance struct {
	operator string
	opsClass string
	score    string
}

func newPGStore(ctx context.Context, cfg *Config) (Store, error) {
	pool, err := postgres.NewPool(ctx, &postgres.Config{DSN: cfg.DSN, Label: "vector_db"})
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	store, err := newPGStoreWithDB(ctx, pool, pool.Close, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func newPGStoreWithDB(ctx context.Context, db postgres.DB, closeFn func(), cfg *Config) (*pgStore, error) {
	table := cfg.Table
	if table == "" {
		table = cfg.Index
	}
	if table == "" {
		table = defaultPGTable
	}
	store := &pgStore{
		db:         db,
		closeFn:    closeFn,
		namespace:  cfg.Namespace,
		tableIdent: pgx.Identifier{table}.Sanitize(),
		indexIdent: pgx.Identifier{table + "_embedding_idx"}.Sanitize(),
		dimension:  cfg.Dimension,
		distance:   choosePGDistance(cfg.Metric),
		ensureIdx:  cfg.EnsureIndex,
		maxTopK:    cfg.MaxTopK,
	}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func choosePGDistance(metric string) pgDistance {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "dot", "dotproduct", "ip", "inner_product":
		return pgDistance{operator: "<#>", opsClass: "vector_ip_ops", score: "(embedding <#> $1) * -1"}
	default:
		return pgDistance{operator: "<=>", opsClass: "vector_cosine_ops", score: "1 - (embedding <=> $1)"}
	}
}

func (p *pgStore) ensureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: enable extension: %w", err)
	}
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		namespace TEXT NOT NULL DEFAULT '',
		id TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		document TEXT,
		metadata JSONB,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (namespace, id)
	)`, p.tableIdent, p.dimension)
	if _, err := p.db.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	if !p.ensureIdx {
		return nil
	}
	createIndex := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s)",
		p.indexIdent,
		p.tableIdent,
		p.distance.opsClass,
	)
	if _, err := p.db.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("pgvector: create index: %w", err)
	}
	return nil
}

func (p *pgStore) Upsert(ctx context.Context, records []Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if dimErr := checkDimension(ProviderPGVector, records[i].ID, len(records[i].Embedding), p.dimension); dimErr != nil {
			return dimErr
		}
	}
	tx, txErr := p.db.Begin(ctx)
	if txErr != nil {
		return fmt.Errorf("pgvector: begin tx: %w", txErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("pgvector: rollback failed: %w; original error: %v", rbErr, err)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("pgvector: commit: %w", commitErr)
		}
	}()
	stmt := fmt.Sprintf(`INSERT INTO %s (namespace, id, embedding, document, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (namespace, id) DO UPDATE SET
    embedding = excluded.embedding,
    document = excluded.document,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`, p.tableIdent)
	now := time.Now().UTC()
	for i := range records {
		rec := records[i]
		metadata, marshalErr := json.Marshal(cloneMetadata(rec.Metadata))
		if marshalErr != nil {
			return fmt.Errorf("pgvector: marshal metadata for %q: %w", rec.ID, marshalErr)
		}
		vector := pgvector.NewVector(rec.Embedding)
		if _, execErr := tx.Exec(ctx, stmt, p.namespace, rec.ID, vector, rec.Text, metadata, now); execErr != nil {
			return fmt.Errorf("pgvector: upsert %q: %w", rec.ID, execErr)
		}
	}
	return nil
}

func (p *pgStore) Fetch(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	query := fmt.Sprintf("SELECT id FROM %s WHERE namespace = $1 AND id = ANY($2)", p.tableIdent)
	rows, err := p.db.Query(ctx, query, p.namespace, ids)
	if err != nil {
		return nil, fmt.Errorf("pgvector: fetch: %w", err)
	}
	defer rows.Close()
	found := make([]string, 0, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgvector: scan id: %w", err)
		}
		found = append(found, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: fetch rows: %w", err)
	}
	return found, nil
}

func (p *pgStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension(ProviderPGVector, "", len(query), p.dimension); err != nil {
		return nil, err
	}
	topK := resolveTopK(opts.TopK)
	if p.maxTopK > 0 && topK > p.maxTopK {
		topK = p.maxTopK
	}
	namespace := p.namespace
	if opts.Namespace != "" {
		namespace = opts.Namespace
	}
	builder := strings.Builder{}
	builder.WriteString("SELECT id, COALESCE(document, ''), metadata, ")
	builder.WriteString(p.distance.score)
	builder.WriteString(" AS score FROM ")
	builder.WriteString(p.tableIdent)
	builder.WriteString(" WHERE namespace = $2")
	args := []any{pgvector.NewVector(query), namespace}
	argPos := 3
	for _, key := range sortedKeys(opts.Filters) {
		builder.WriteString(fmt.Sprintf(" AND metadata ->> $%d = $%d", argPos, argPos+1))
		args = append(args, key, opts.Filters[key])
		argPos += 2
	}
	if opts.MinScore > 0 {
		builder.WriteString(fmt.Sprintf(" AND %s >= $%d", p.distance.score, argPos))
		args = append(args, opts.MinScore)
		argPos++
	}
	builder.WriteString(fmt.Sprintf(" ORDER BY embedding %s $1 ASC LIMIT $%d", p.distance.operator, argPos))
	args = append(args, topK)
	rows, err := p.db.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()
	results := make([]Match, 0, topK)
	for rows.Next() {
		var (
			id          string
			document    string
			metadataRaw []byte
			score       float64
		)
		if err := rows.Scan(&id, &document, &metadataRaw, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		meta := make(map[string]any)
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &meta); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata for %q: %w", id, err)
			}
		}
		results = append(results, Match{ID: id, Score: score, Text: matchText(document, meta), Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return results, nil
}

func (p *pgStore) Delete(ctx context.Context, filter Filter) error {
	if len(filter.IDs) == 0 && len(filter.Metadata) == 0 {
		return nil
	}
	builder := strings.Builder{}
	builder.WriteString("DELETE FROM ")
	builder.WriteString(p.tableIdent)
	builder.WriteString(" WHERE namespace = $1")
	args := []any{p.namespace}
	argPos := 2
	if len(filter.IDs) > 0 {
		builder.WriteString(fmt.Sprintf(" AND id = ANY($%d)", argPos))
		args = append(args, filter.IDs)
		argPos++
	}
	for _, key := range sortedKeys(filter.Metadata) {
		builder.WriteString(fmt.Sprintf(" AND metadata ->> $%d = $%d", argPos, argPos+1))
		args = append(args, key, filter.Metadata[key])
		argPos += 2
	}
	if _, err := p.db.Exec(ctx, builder.String(), args...); err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

func (p *pgStore) Close(context.Context) error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}
