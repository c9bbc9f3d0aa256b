// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sweep-progress/internal/records"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "sweep_configs"

// RecordStoreConfig controls the Postgres connection pool used for sweep configs.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RecordStore keeps sweep configs in one table. Recency is read from
// created_at, so the recent index is simply the newest rows.
type RecordStore struct {
	pool  pool
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: p, table: table}, nil
}

// EnsureSchema creates the table and its recency index when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id uuid PRIMARY KEY,
	name text NOT NULL,
	description text NOT NULL DEFAULT '',
	parameters jsonb NOT NULL,
	created_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Save inserts one row.
func (s *RecordStore) Save(ctx context.Context, rec records.StoredSweep) error {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, description, parameters, created_at)
VALUES ($1,$2,$3,$4,$5)`, s.table)
	if _, err := s.pool.Exec(ctx, query, rec.ID, rec.Name, rec.Description, params, rec.CreatedAt); err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	return nil
}

// Get fetches a row by id.
func (s *RecordStore) Get(ctx context.Context, id uuid.UUID) (records.StoredSweep, error) {
	query := fmt.Sprintf(`
SELECT name, description, parameters, created_at
FROM %s
WHERE id = $1`, s.table)

	rec := records.StoredSweep{ID: id}
	var params []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&rec.Name, &rec.Description, &params, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return records.StoredSweep{}, records.ErrNotFound
	}
	if err != nil {
		return records.StoredSweep{}, fmt.Errorf("select config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	if err := dec.Decode(&rec.Parameters); err != nil {
		return records.StoredSweep{}, fmt.Errorf("decode parameters: %w", err)
	}
	return rec, nil
}

// ListRecentIDs returns up to limit ids ordered by created_at, newest first.
// The limit is bounded by records.RecentCap.
func (s *RecordStore) ListRecentIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 || limit > records.RecentCap {
		limit = records.RecentCap
	}
	query := fmt.Sprintf(`
SELECT id::text
FROM %s
ORDER BY created_at DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select recent ids: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0, limit)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan recent id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse recent id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent ids: %w", err)
	}
	return ids, nil
}

var _ records.Store = (*RecordStore)(nil)
