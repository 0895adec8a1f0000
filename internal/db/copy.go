package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyBatchSize bounds the rows sent by one COPY statement.
const CopyBatchSize = 5000

// CopyFrom bulk-inserts rows into table over the COPY protocol, CopyBatchSize
// rows at a time. It returns the number of rows copied before any failure.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += CopyBatchSize {
		end := min(start+CopyBatchSize, len(rows))
		batch := rows[start:end]

		n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			return batch[i], nil
		}))
		if err != nil {
			return total, eris.Wrapf(err, "db: copy into %s rows %d-%d", table, start, end-1)
		}
		total += n
	}
	return total, nil
}
