package records

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/lexiqai/interview-assistant/internal/interview"
)

func openTestStore(t *testing.T, key string) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "records.db"), key)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_PrependAndList(t *testing.T) {
	store := openTestStore(t, "interview-assistant.records.v1")
	ctx := context.Background()

	first := interview.NewRecord("SRE", []string{"技術能力"}, nil, []interview.Turn{{Question: "q1", Answer: "a1"}}, nil, time.Now())
	second := interview.NewRecord("", nil, nil, []interview.Turn{{Question: "q2", Answer: "a2"}}, &interview.Analysis{NextQuestions: []string{"n"}}, time.Now())

	if err := store.Prepend(ctx, first); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := store.Prepend(ctx, second); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Error("Expected newest record first")
	}
	if list[0].JobTitle != interview.DefaultJobTitle {
		t.Errorf("Expected default job title, got %q", list[0].JobTitle)
	}
	if list[0].AISummary == nil || list[0].AISummary.NextQuestions[0] != "n" {
		t.Error("Expected summary to round-trip")
	}
	if list[1].AISummary != nil {
		t.Error("Expected nil summary to stay nil")
	}
}

func TestSQLiteStore_EmptyList(t *testing.T) {
	store := openTestStore(t, "records")

	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected no records, got %d", len(list))
	}
}

func TestSQLiteStore_NonListValueReadsEmpty(t *testing.T) {
	store := openTestStore(t, "records")
	ctx := context.Background()

	if _, err := store.db.Exec(`INSERT INTO kv(key, value) VALUES(?, ?)`, "records", `{"not":"a list"}`); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(ctx)
	if err != nil || len(list) != 0 {
		t.Errorf("Expected empty list, got %v, %v", list, err)
	}

	record := interview.NewRecord("SRE", nil, nil, []interview.Turn{{Question: "q", Answer: "a"}}, nil, time.Now())
	if err := store.Prepend(ctx, record); err != nil {
		t.Fatalf("Expected prepend to replace the bad value, got %v", err)
	}
	list, _ = store.List(ctx)
	if len(list) != 1 {
		t.Errorf("Expected 1 record, got %d", len(list))
	}
}

func TestSQLiteStore_KeysAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	a, err := OpenSQLite(path, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := OpenSQLite(path, "b")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	record := interview.NewRecord("SRE", nil, nil, nil, nil, time.Now())
	if err := a.Prepend(context.Background(), record); err != nil {
		t.Fatal(err)
	}
	list, _ := b.List(context.Background())
	if len(list) != 0 {
		t.Errorf("Expected key b to be empty, got %d", len(list))
	}
}

func TestSQLiteStore_Get(t *testing.T) {
	store := openTestStore(t, "records")
	ctx := context.Background()
	record := interview.NewRecord("SRE", nil, nil, nil, nil, time.Now())
	if err := store.Prepend(ctx, record); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.JobTitle != "SRE" {
		t.Errorf("Expected SRE, got %q", got.JobTitle)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_Ping(t *testing.T) {
	store := openTestStore(t, "interview-assistant.records.v1")
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	store.Close()
	if err := store.Ping(context.Background()); err == nil {
		t.Error("Expected error after close")
	}
}
