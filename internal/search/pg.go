package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher against the projects table as a fallback,
// unnesting the tasks JSONB column and matching with ILIKE.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

func (p *PgSearch) Search(q Query) ([]TaskRecord, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT
			t->>'_id',
			t->>'taskKey',
			t->>'title',
			COALESCE(t->>'description', ''),
			t->>'type',
			t->>'status'
		FROM projects p,
			jsonb_array_elements(p.tasks) AS t
		WHERE p.id = $1
			AND (
				t->>'title' ILIKE '%' || $2 || '%'
				OR t->>'description' ILIKE '%' || $2 || '%'
				OR t->>'taskKey' ILIKE '%' || $2 || '%'
			)
		LIMIT $3
	`
	rows, err := p.db.QueryContext(context.Background(), query, q.ProjectID, q.Text, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("pg task search: %w", err)
	}
	defer rows.Close()

	results := make([]TaskRecord, 0)
	for rows.Next() {
		record := TaskRecord{ProjectID: q.ProjectID}
		if err := rows.Scan(&record.ID, &record.TaskKey, &record.Title, &record.Description, &record.Type, &record.Status); err != nil {
			return nil, 0, fmt.Errorf("scan task search row: %w", err)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate task search rows: %w", err)
	}
	return results, len(results), nil
}
