package kv

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "blobs", "test.db")
	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	if _, found, err := store.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("absent key: found=%v err=%v", found, err)
	}

	if err := store.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	v, found, err := store.Get(ctx, "k")
	if err != nil || !found || v != "v2" {
		t.Fatalf("Get = (%q, %v, %v), want (v2, true, nil)", v, found, err)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := store.Get(ctx, "k"); found {
		t.Fatal("key survived deletion")
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("deleting absent key must not error: %v", err)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := store.Set(ctx, "durable", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	v, found, err := reopened.Get(ctx, "durable")
	if err != nil || !found || v != "value" {
		t.Fatalf("value did not survive reopen: (%q, %v, %v)", v, found, err)
	}
}
