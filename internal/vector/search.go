package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

type Filters struct {
	Categories []string
}

// Match is one nearest neighbour; Distance is pgvector cosine distance.
type Match struct {
	ID       string
	Distance float64
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Searcher runs k-nearest-neighbour queries against a chunk table with an
// embedding vector column.
type Searcher struct {
	q     Queryer
	table string
}

func NewSearcher(q Queryer, table string) *Searcher {
	return &Searcher{q: q, table: pgx.Identifier{table}.Sanitize()}
}

func (s *Searcher) Nearest(ctx context.Context, query []float32, k int, filters Filters) ([]Match, error) {
	if len(query) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 100
	}
	args := []any{pgvector.NewVector(query), k}
	filterSQL := ""
	if len(filters.Categories) > 0 {
		filterSQL = " AND categories && $3"
		args = append(args, filters.Categories)
	}

	rows, err := s.q.Query(ctx, `
SELECT id::text, embedding <=> $1 AS distance
FROM `+s.table+`
WHERE embedding IS NOT NULL`+filterSQL+`
ORDER BY embedding <=> $1
LIMIT $2`, args...)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	out := make([]Match, 0, k)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector matches: %w", err)
	}
	return out, nil
}
