package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='documents'",
	).Scan(&name)
	if err != nil {
		t.Errorf("documents table not found after idempotent opens: %v", err)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := openTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

func TestSQLite_SetGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := json.RawMessage(`{"id":"prog-1","name":"5/3/1","weeks":4}`)
	if err := s.Set(ctx, "training_program", doc); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, err := s.Get(ctx, "training_program")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Get() = %s, want %s", got, doc)
	}
}

func TestSQLite_GetAbsentKey(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Errorf("Get() on absent key = %s, want nil", got)
	}
}

func TestSQLite_SetReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "periodization_state", json.RawMessage(`{"week":1}`)); err != nil {
		t.Fatalf("first Set() failed: %v", err)
	}
	if err := s.Set(ctx, "periodization_state", json.RawMessage(`{"week":2}`)); err != nil {
		t.Fatalf("second Set() failed: %v", err)
	}

	got, err := s.Get(ctx, "periodization_state")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(got) != `{"week":2}` {
		t.Errorf("Get() = %s, want replaced value", got)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("document count = %d, want 1 (upsert, not insert)", count)
	}
}

func TestSQLite_SetRejectsInvalidJSON(t *testing.T) {
	s := openTestStore(t)

	err := s.Set(context.Background(), "training_program", json.RawMessage(`{"broken":`))
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Set() error = %v, want ErrInvalidJSON", err)
	}
}

func TestSQLite_Remove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "workout_logs", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Remove(ctx, "workout_logs"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	got, err := s.Get(ctx, "workout_logs")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Errorf("Get() after Remove() = %s, want nil", got)
	}

	// Removing an absent key is a no-op, not an error.
	if err := s.Remove(ctx, "workout_logs"); err != nil {
		t.Errorf("Remove() on absent key failed: %v", err)
	}
}

func TestSQLite_KeysSorted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"workout_logs", "training_program", "periodization_state"} {
		if err := s.Set(ctx, k, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Set(%q) failed: %v", k, err)
		}
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	want := []string{"periodization_state", "training_program", "workout_logs"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if err := s1.Set(ctx, "training_program", json.RawMessage(`{"name":"GZCLP"}`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, "training_program")
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if string(got) != `{"name":"GZCLP"}` {
		t.Errorf("Get() after reopen = %s", got)
	}
}

func TestSQLite_NFCKeyAliasing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// "café" precomposed vs. "cafe" + combining acute accent.
	nfc := "log/café"
	nfd := "log/café"

	if err := s.Set(ctx, nfd, json.RawMessage(`{"sets":3}`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, err := s.Get(ctx, nfc)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(got) != `{"sets":3}` {
		t.Errorf("NFC and NFD spellings should address the same document, got %s", got)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("document count = %d, want 1", count)
	}
}

func TestSQLite_CloseNilDB(t *testing.T) {
	s := &SQLite{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}
