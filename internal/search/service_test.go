package search

import "testing"

func TestSearchFallsBackWhenMeilisearchUnconfigured(t *testing.T) {
	svc := NewService(nil, NewPgSearch(nil))

	// Blank queries short-circuit in the fallback before touching the
	// database, so this exercises the nil-meili path end to end.
	resp := svc.Search(Query{ProjectID: "prj_1", Text: "   "})
	if resp.Results == nil {
		t.Fatal("results must be non-nil for JSON encoding")
	}
	if len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("blank query returned %d/%d results", len(resp.Results), resp.Total)
	}
}

func TestIndexAndDeleteAreNoOpsWithoutMeilisearch(t *testing.T) {
	svc := NewService(nil, NewPgSearch(nil))

	svc.IndexTasks([]TaskRecord{{ID: "tsk_1", Title: "example"}})
	svc.DeleteTask("tsk_1")
}

func TestNonNil(t *testing.T) {
	if got := nonNil(nil); got == nil || len(got) != 0 {
		t.Fatalf("nonNil(nil) = %v", got)
	}
	records := []TaskRecord{{ID: "tsk_1"}}
	if got := nonNil(records); len(got) != 1 {
		t.Fatalf("nonNil kept %d records", len(got))
	}
}
