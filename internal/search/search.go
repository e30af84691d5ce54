// Package search provides full-text search over project tasks, backed by
// Meilisearch with a PostgreSQL fallback.
package search

// TaskRecord is the data indexed for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	TaskKey     string `json:"taskKey"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Status      string `json:"status"`
}

// Query describes a task search request scoped to one project.
type Query struct {
	ProjectID string
	Text      string
	Limit     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []TaskRecord `json:"results"`
	Total   int          `json:"total"`
	Query   string       `json:"query"`
}

// Searcher can execute a task search.
type Searcher interface {
	Search(q Query) ([]TaskRecord, int, error)
	Healthy() bool
}
