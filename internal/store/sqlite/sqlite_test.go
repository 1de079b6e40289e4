package sqlite_test

import (
	"context"
	"testing"
	"time"

	"salesline/internal/fault"
	"salesline/internal/store"
	"salesline/internal/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	st.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return st
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	rec, err := st.Create(ctx, store.Pipelines, store.Record{"Deal_Name": "Acme", "Amount": "1000"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID() == "" {
		t.Fatal("no id assigned")
	}
	if rec["Created_Time"] != "2026-03-01T12:00:00Z" || rec["Modified_Time"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("timestamps = %v / %v", rec["Created_Time"], rec["Modified_Time"])
	}

	got, err := st.Get(ctx, store.Pipelines, rec.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["Deal_Name"] != "Acme" {
		t.Fatalf("round trip name = %v", got["Deal_Name"])
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	st := openStore(t)
	if _, err := st.Get(context.Background(), store.Pipelines, "nope"); !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("got %v, want not_found", err)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	rec, err := st.Create(ctx, store.Pipelines, store.Record{"Deal_Name": "Acme", "Stage": "Qualification"})
	if err != nil {
		t.Fatal(err)
	}
	st.Now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }

	updated, err := st.Update(ctx, store.Pipelines, rec.ID(), store.Record{"Stage": "Needs Analysis"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["Stage"] != "Needs Analysis" || updated["Deal_Name"] != "Acme" {
		t.Fatalf("merged record = %v", updated)
	}
	if updated["Modified_Time"] != "2026-03-02T12:00:00Z" {
		t.Fatalf("modified = %v", updated["Modified_Time"])
	}
	if updated["Created_Time"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("created changed: %v", updated["Created_Time"])
	}
}

func TestSearchFiltersAndWord(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	seed := []store.Record{
		{"Deal_Name": "Acme renewal", "Stage": "Qualification", "Probability": 25, "Owner": "alice@example.com"},
		{"Deal_Name": "Globex expansion", "Stage": "Negotiation/Review", "Probability": 85},
		{"Deal_Name": "Initech pilot", "Stage": "Qualification", "Probability": 30, "Owner": "bob@example.com"},
	}
	for _, r := range seed {
		if _, err := st.Create(ctx, store.Pipelines, r); err != nil {
			t.Fatal(err)
		}
	}

	byStage, err := st.Search(ctx, store.Pipelines, store.Query{Filters: []store.Filter{
		{Field: "Stage", Op: store.Equals, Value: "Qualification"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(byStage) != 2 {
		t.Fatalf("stage filter matched %d", len(byStage))
	}

	hot, err := st.Search(ctx, store.Pipelines, store.Query{Filters: []store.Filter{
		{Field: "Probability", Op: store.GreaterThan, Value: 80},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(hot) != 1 || hot[0]["Deal_Name"] != "Globex expansion" {
		t.Fatalf("probability filter = %v", hot)
	}

	unowned, err := st.Search(ctx, store.Pipelines, store.Query{Filters: []store.Filter{
		{Field: "Owner", Op: store.IsEmpty},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(unowned) != 1 || unowned[0]["Deal_Name"] != "Globex expansion" {
		t.Fatalf("is_empty filter = %v", unowned)
	}

	word, err := st.Search(ctx, store.Pipelines, store.Query{Word: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if len(word) != 1 || word[0]["Deal_Name"] != "Acme renewal" {
		t.Fatalf("word search = %v", word)
	}

	limited, err := st.Search(ctx, store.Pipelines, store.Query{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit returned %d", len(limited))
	}
}

func TestCollectionsAreIsolated(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	if _, err := st.Create(ctx, store.Contacts, store.Record{"Last_Name": "Doe"}); err != nil {
		t.Fatal(err)
	}
	pipelines, err := st.Search(ctx, store.Pipelines, store.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pipelines) != 0 {
		t.Fatalf("contact leaked into pipelines: %v", pipelines)
	}
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	rec, err := st.Create(ctx, store.Tasks, store.Record{"Subject": "call back"})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(ctx, store.Tasks, rec.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Delete(ctx, store.Tasks, rec.ID()); !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("second delete: got %v, want not_found", err)
	}
}
