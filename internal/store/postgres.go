package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/training-stats/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Rows are copied after the ingest header is written, so readers only see
// ingests marked complete.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS ingests (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source     TEXT NOT NULL,
	header     JSONB NOT NULL,
	row_count  INTEGER NOT NULL DEFAULT 0,
	complete   BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingest_rows (
	ingest_id TEXT NOT NULL REFERENCES ingests(id) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	data      JSONB NOT NULL,
	PRIMARY KEY (ingest_id, row_index)
);

CREATE TABLE IF NOT EXISTS stats_cache (
	key        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingests_complete_created ON ingests(complete, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_stats_cache_expires_at ON stats_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CreateIngest writes the ingest header, bulk-copies the rows and then marks
// the ingest complete. A failed copy removes the header again.
func (s *PostgresStore) CreateIngest(ctx context.Context, source string, header []string, rows []map[string]string) (*Ingest, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal header")
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO ingests (id, source, header, row_count, complete, created_at) VALUES ($1, $2, $3, $4, false, $5)`,
		id, source, headerJSON, len(rows), now,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert ingest")
	}

	copyRows := make([][]any, len(rows))
	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: marshal row %d", i)
		}
		copyRows[i] = []any{id, i, data}
	}
	if _, err := db.CopyFrom(ctx, s.pool, "ingest_rows", []string{"ingest_id", "row_index", "data"}, copyRows); err != nil {
		if _, delErr := s.pool.Exec(ctx, `DELETE FROM ingests WHERE id = $1`, id); delErr != nil {
			return nil, eris.Wrapf(delErr, "postgres: remove failed ingest %s", id)
		}
		return nil, eris.Wrap(err, "postgres: copy ingest rows")
	}

	tag, err := s.pool.Exec(ctx, `UPDATE ingests SET complete = true WHERE id = $1`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: complete ingest %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Errorf("ingest not found: %s", id)
	}

	return &Ingest{ID: id, Source: source, Header: header, RowCount: len(rows), CreatedAt: now}, nil
}

func (s *PostgresStore) LatestIngest(ctx context.Context) (*Ingest, error) {
	var in Ingest
	var headerJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, source, header, row_count, created_at FROM ingests WHERE complete ORDER BY created_at DESC LIMIT 1`,
	).Scan(&in.ID, &in.Source, &headerJSON, &in.RowCount, &in.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest ingest")
	}
	if err := json.Unmarshal(headerJSON, &in.Header); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal header")
	}
	return &in, nil
}

func (s *PostgresStore) ListIngests(ctx context.Context, limit int) ([]Ingest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, header, row_count, created_at FROM ingests WHERE complete ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingests")
	}
	defer rows.Close()

	var out []Ingest
	for rows.Next() {
		var in Ingest
		var headerJSON []byte
		if err := rows.Scan(&in.ID, &in.Source, &headerJSON, &in.RowCount, &in.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingest")
		}
		if err := json.Unmarshal(headerJSON, &in.Header); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal header")
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list ingests iterate")
}

func (s *PostgresStore) LoadRows(ctx context.Context, ingestID string) ([]map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM ingest_rows WHERE ingest_id = $1 ORDER BY row_index`,
		ingestID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load rows for %s", ingestID)
	}
	defer rows.Close()

	var out []map[string]string
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal row")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load rows iterate")
}

func (s *PostgresStore) GetCachedStats(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM stats_cache WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached stats")
	}
	return data, nil
}

func (s *PostgresStore) SetCachedStats(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stats_cache (key, data, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET data = $2, cached_at = $3, expires_at = $4`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached stats")
}

func (s *PostgresStore) DeleteCachedStats(ctx context.Context, prefix string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM stats_cache WHERE key LIKE $1 ESCAPE '\'`,
		likePrefix(prefix),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete cached stats")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteExpiredStats(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stats_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired stats")
	}
	return int(tag.RowsAffected()), nil
}
