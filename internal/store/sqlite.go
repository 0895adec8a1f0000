package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// expires_at is stored as unix nanoseconds so comparisons are numeric.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ingests (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	header     TEXT NOT NULL,
	row_count  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ingest_rows (
	ingest_id TEXT NOT NULL REFERENCES ingests(id) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	data      TEXT NOT NULL,
	PRIMARY KEY (ingest_id, row_index)
);

CREATE TABLE IF NOT EXISTS stats_cache (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	cached_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingests_created_at ON ingests(created_at);
CREATE INDEX IF NOT EXISTS idx_stats_cache_expires_at ON stats_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateIngest(ctx context.Context, source string, header []string, rows []map[string]string) (*Ingest, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal header")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin ingest")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingests (id, source, header, row_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, source, string(headerJSON), len(rows), now,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert ingest")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ingest_rows (ingest_id, row_index, data) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare row insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: marshal row %d", i)
		}
		if _, err := stmt.ExecContext(ctx, id, i, string(data)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert row %d", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit ingest")
	}
	return &Ingest{ID: id, Source: source, Header: header, RowCount: len(rows), CreatedAt: now}, nil
}

// LatestIngest returns the most recent ingest, or nil when nothing has been ingested.
func (s *SQLiteStore) LatestIngest(ctx context.Context) (*Ingest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, header, row_count, created_at FROM ingests ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	)
	in, err := scanIngest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return in, err
}

func (s *SQLiteStore) ListIngests(ctx context.Context, limit int) ([]Ingest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, header, row_count, created_at FROM ingests ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingests")
	}
	defer rows.Close() //nolint:errcheck

	var out []Ingest
	for rows.Next() {
		in, err := scanIngest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list ingests iterate")
}

func (s *SQLiteStore) LoadRows(ctx context.Context, ingestID string) ([]map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM ingest_rows WHERE ingest_id = ? ORDER BY row_index`,
		ingestID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load rows for %s", ingestID)
	}
	defer rows.Close() //nolint:errcheck

	var out []map[string]string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		var m map[string]string
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal row")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load rows iterate")
}

func (s *SQLiteStore) GetCachedStats(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM stats_cache WHERE key = ? AND expires_at > ?`,
		key, time.Now().UnixNano(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached stats")
	}
	return data, nil
}

// SetCachedStats replaces any existing entry for key in a single statement.
func (s *SQLiteStore) SetCachedStats(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stats_cache (key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, data, now.UnixNano(), now.Add(ttl).UnixNano(),
	)
	return eris.Wrap(err, "sqlite: set cached stats")
}

func (s *SQLiteStore) DeleteCachedStats(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM stats_cache WHERE key LIKE ? ESCAPE '\'`,
		likePrefix(prefix),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete cached stats")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) DeleteExpiredStats(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM stats_cache WHERE expires_at <= ?`,
		time.Now().UnixNano(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired stats")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanIngest(row scannable) (*Ingest, error) {
	var in Ingest
	var headerJSON string
	err := row.Scan(&in.ID, &in.Source, &headerJSON, &in.RowCount, &in.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan ingest")
	}
	if err := json.Unmarshal([]byte(headerJSON), &in.Header); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal header")
	}
	return &in, nil
}
