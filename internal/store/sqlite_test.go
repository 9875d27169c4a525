package store

import (
	"context"
	"path/filepath"
	"testing"

	"msgwatch/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "messages.db"), "a_dis")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_IdempotentWrite(t *testing.T) {
	s := newTestSQLite(t)
	w := NewWriter(WriterConfig{Adapter: s, Table: "a_dis", Logger: testLogger()})
	ctx := context.Background()

	rec := domain.MessageRecord{
		ID:       "M1_0",
		TypeName: "news",
		Username: domain.StringPtr("bot"),
		Content:  domain.StringPtr("hello"),
		URL:      "https://a",
	}

	if got := w.Persist(ctx, rec); got != Written {
		t.Fatalf("first write: got %v, want Written", got)
	}
	if got := w.Persist(ctx, rec); got != SkippedDuplicate {
		t.Fatalf("second write: got %v, want SkippedDuplicate", got)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one stored row, got %d", n)
	}
}

func TestSQLite_PreservesNulls(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if err := s.Insert(ctx, domain.MessageRecord{ID: "M2", Content: domain.StringPtr("x")}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.Get(ctx, "M2")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Username != nil || got.CreateTime != nil {
		t.Fatalf("expected null username and createtime, got %+v", got)
	}
	if domain.Deref(got.Content) != "x" {
		t.Fatalf("unexpected content %q", domain.Deref(got.Content))
	}

	missing, err := s.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing id, got %+v %v", missing, err)
	}
}

func TestSQLite_Upsert(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, domain.MessageRecord{ID: "M3", Content: domain.StringPtr("v1")}); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if err := s.Upsert(ctx, domain.MessageRecord{ID: "M3", Content: domain.StringPtr("v2")}); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	got, err := s.Get(ctx, "M3")
	if err != nil {
		t.Fatal(err)
	}
	if domain.Deref(got.Content) != "v2" {
		t.Fatalf("expected updated content, got %q", domain.Deref(got.Content))
	}
}

func TestSQLite_MissingTable(t *testing.T) {
	s := newTestSQLite(t)
	if _, err := s.db.Exec(`DROP TABLE "a_dis"`); err != nil {
		t.Fatal(err)
	}
	err := s.Insert(context.Background(), domain.MessageRecord{ID: "M4"})
	if KindOf(err) != KindMissingResource {
		t.Fatalf("expected missing resource, got %v (%v)", KindOf(err), err)
	}
}
