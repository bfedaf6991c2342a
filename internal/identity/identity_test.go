package identity

import (
	"context"
	"strings"
	"testing"

	"github.com/cloverlabs/sessionpool/internal/kv"
)

func TestEnsureIdentifierGeneratesAndPersists(t *testing.T) {
	t.Parallel()

	store := kv.NewMemStore()
	b := New(store, nil)

	id, err := b.EnsureIdentifier(context.Background(), AccountIDKey)
	if err != nil {
		t.Fatalf("EnsureIdentifier failed: %v", err)
	}
	if !strings.HasPrefix(id, "acct_") {
		t.Fatalf("unexpected identifier shape: %q", id)
	}

	b.Flush()

	stored, found, err := store.Get(context.Background(), AccountIDKey)
	if err != nil || !found {
		t.Fatalf("identifier not persisted: found=%v err=%v", found, err)
	}
	if stored != id {
		t.Fatalf("persisted value %q differs from returned %q", stored, id)
	}
}

func TestEnsureIdentifierReturnsStoredValue(t *testing.T) {
	t.Parallel()

	store := kv.NewMemStore()
	if err := store.Set(context.Background(), UserIDKey, "usr_existing"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	b := New(store, nil)
	id, err := b.EnsureIdentifier(context.Background(), UserIDKey)
	if err != nil {
		t.Fatalf("EnsureIdentifier failed: %v", err)
	}
	if id != "usr_existing" {
		t.Fatalf("expected stored identifier, got %q", id)
	}
}

func TestBootstrapIdentityDistinctIdentifiers(t *testing.T) {
	t.Parallel()

	b := New(kv.NewMemStore(), nil)
	id, err := b.BootstrapIdentity(context.Background())
	if err != nil {
		t.Fatalf("BootstrapIdentity failed: %v", err)
	}
	if id.AccountID == "" || id.UserID == "" || id.AccountID == id.UserID {
		t.Fatalf("expected two distinct identifiers, got %+v", id)
	}
	b.Flush()
}
