package store

import (
	"context"
	"strings"
	"time"
)

// Ingest describes one uploaded source file.
type Ingest struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Header    []string  `json:"header"`
	RowCount  int       `json:"row_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the persistence interface for ingested source rows and the
// aggregation result cache.
type Store interface {
	// Ingests
	CreateIngest(ctx context.Context, source string, header []string, rows []map[string]string) (*Ingest, error)
	LatestIngest(ctx context.Context) (*Ingest, error)
	ListIngests(ctx context.Context, limit int) ([]Ingest, error)
	LoadRows(ctx context.Context, ingestID string) ([]map[string]string, error)

	// Stats cache
	GetCachedStats(ctx context.Context, key string) ([]byte, error)
	SetCachedStats(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteCachedStats(ctx context.Context, prefix string) (int, error)
	DeleteExpiredStats(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 20

// likePrefix escapes LIKE wildcards in prefix and appends "%".
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
