package tracked

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "streamers.json")

	s, err := New(ctx, NewFileBackend(path))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Snapshot().Len() != 0 {
		t.Fatal("missing file should load as empty set")
	}
	_, _ = s.Add(ctx, "alice", "hi alice")
	_, _ = s.Add(ctx, "bob", "hi bob")
	_ = s.Remove(ctx, "alice")

	s2, err := New(ctx, NewFileBackend(path))
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	list, _ := s2.List(ctx)
	if len(list) != 1 || list[0].Identity != "bob" || list[0].Template != "hi bob" {
		t.Errorf("reloaded = %+v", list)
	}
	if _, err := s2.Add(ctx, "BOB", ""); !errors.Is(err, ErrAlreadyTracked) {
		t.Errorf("duplicate after reload: %v", err)
	}
}

func TestFileBackendReadsLegacyShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamers.json")
	legacy := `[
  {"username": "Alice", "message": "@everyone alice live"},
  {"username": "alice", "message": "dupe"},
  {"username": "bob", "message": "bob live"}
]`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := New(context.Background(), NewFileBackend(path))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Snapshot().Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Snapshot().Len())
	}
	if e, _ := s.Snapshot().Lookup("alice"); e.Template != "@everyone alice live" {
		t.Errorf("alice template = %q", e.Template)
	}
}

func TestFileBackendEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamers.json")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := New(context.Background(), NewFileBackend(path))
	if err != nil || s.Snapshot().Len() != 0 {
		t.Fatalf("empty file: len=%d err=%v", s.Snapshot().Len(), err)
	}
}

func TestFileBackendCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamers.json")
	if err := os.WriteFile(path, []byte("{oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(context.Background(), NewFileBackend(path)); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}
