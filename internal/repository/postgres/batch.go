package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BatchQuery — один параметризованный запрос пакета
type BatchQuery struct {
	SQL  string
	Args []interface{}
}

// RunBatch исполняет пакет запросов и возвращает строки каждого.
// transactional=true оборачивает пакет в одну транзакцию: либо все
// изменения коммитятся, либо откатываются целиком (bulk-операции).
func RunBatch(ctx context.Context, pool *pgxpool.Pool, queries []BatchQuery, transactional bool) ([][]map[string]interface{}, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	if !transactional {
		results := make([][]map[string]interface{}, 0, len(queries))
		for i, q := range queries {
			rows, err := collect(ctx, pool, q)
			if err != nil {
				return nil, fmt.Errorf("batch query %d: %w", i, err)
			}
			results = append(results, rows)
		}
		return results, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op после успешного Commit

	results := make([][]map[string]interface{}, 0, len(queries))
	for i, q := range queries {
		rows, err := collect(ctx, tx, q)
		if err != nil {
			return nil, fmt.Errorf("batch query %d: %w", i, err)
		}
		results = append(results, rows)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit batch tx: %w", err)
	}
	return results, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func collect(ctx context.Context, q querier, bq BatchQuery) ([]map[string]interface{}, error) {
	rows, err := q.Query(ctx, bq.SQL, bq.Args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}
