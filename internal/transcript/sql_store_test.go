package transcript

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testStoreRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Put(ctx, Record{CallID: "CA1", Text: "test", Source: SourceLive, CreatedAt: created}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, Record{CallID: "CA1", Text: "test hello", Source: SourceRecording, CreatedAt: created}); err != nil {
		t.Fatalf("Put overwrite failed: %v", err)
	}

	rec, err := s.Get(ctx, "CA1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Text != "test hello" {
		t.Errorf("Expected 'test hello', got %q", rec.Text)
	}
	if rec.Source != SourceRecording {
		t.Errorf("Expected source recording, got %q", rec.Source)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Errorf("Expected created_at %v, got %v", created, rec.CreatedAt)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, Record{Text: "orphan"}); err == nil {
		t.Error("Expected error for empty call id")
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "transcripts.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	testStoreRoundTrip(t, s)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	s.Put(ctx, Record{CallID: "CA9", Text: "persisted"})
	s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	rec, err := s.Get(ctx, "CA9")
	if err != nil || rec.Text != "persisted" {
		t.Errorf("Expected persisted record, got %+v, %v", rec, err)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	s, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres failed: %v", err)
	}
	defer s.Close()

	s.db.ExecContext(context.Background(), "DELETE FROM transcripts WHERE call_id = 'CA1'")
	testStoreRoundTrip(t, s)
}
