package backend

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"photowatch/pkg/config"
	"photowatch/pkg/logger"
)

func newLocalBackend(t *testing.T) *Local {
	t.Helper()

	l, err := NewLocal(config.LocalStorageConfig{
		Enabled:   true,
		Directory: t.TempDir(),
	}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return l
}

func TestLocalCommitWritesFile(t *testing.T) {
	l := newLocalBackend(t)
	data := []byte("photo bytes")

	if err := l.Commit(context.Background(), "photo.jpg", data); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(l.Dir(), "photo.jpg"))
	if err != nil {
		t.Fatalf("reading committed file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("committed bytes do not match")
	}
}

func TestLocalCommitLeavesNoTempFile(t *testing.T) {
	l := newLocalBackend(t)

	if err := l.Commit(context.Background(), "photo.jpg", []byte("data")); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	entries, err := os.ReadDir(l.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestLocalCommitOverwrites(t *testing.T) {
	l := newLocalBackend(t)
	ctx := context.Background()

	if err := l.Commit(ctx, "photo.jpg", []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(ctx, "photo.jpg", []byte("second")); err != nil {
		t.Fatal(err)
	}

	got, _ := os.ReadFile(filepath.Join(l.Dir(), "photo.jpg"))
	if string(got) != "second" {
		t.Errorf("expected overwrite, got %q", got)
	}
}

func TestLocalCommitHonorsCancellation(t *testing.T) {
	l := newLocalBackend(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Commit(ctx, "photo.jpg", []byte("data")); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestLocalCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "photos")

	l, err := NewLocal(config.LocalStorageConfig{Directory: dir}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	if _, err := os.Stat(l.Dir()); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

func TestLocalPurgeRemovesFilesKeepsDirs(t *testing.T) {
	l := newLocalBackend(t)
	ctx := context.Background()

	if err := l.Commit(ctx, "a.jpg", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(ctx, "b.jpg", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(l.Dir(), "keepme"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := l.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	entries, err := os.ReadDir(l.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		t.Errorf("expected only the subdirectory to survive, got %d entries", len(entries))
	}
}
