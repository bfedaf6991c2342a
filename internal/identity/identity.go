// Package identity provides stable device-local identifiers used to tag
// remote session-pool requests.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloverlabs/sessionpool/internal/kv"
)

// Persisted blob-store keys for the two bootstrapped identifiers.
const (
	AccountIDKey = "clover.accountId"
	UserIDKey    = "clover.userId"
)

// Identity bundles the two request-tagging identifiers.
type Identity struct {
	AccountID string
	UserID    string
}

// Bootstrap reads or synthesizes device-local identifiers. Newly generated
// values are returned immediately and persisted in the background; a write
// failure is logged, never surfaced, and never retried. Two near-simultaneous
// first-time calls may each generate different identifiers and race on the
// persisted value; the field only tags requests and is never relied on for
// uniqueness enforcement.
type Bootstrap struct {
	store  kv.Store
	logger *slog.Logger
	writes sync.WaitGroup
}

// New creates a Bootstrap over store. A nil logger falls back to the default.
func New(store kv.Store, logger *slog.Logger) *Bootstrap {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrap{store: store, logger: logger}
}

func generateIdentifier(prefix string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate identifier: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

func prefixForKey(key string) string {
	switch key {
	case AccountIDKey:
		return "acct_"
	case UserIDKey:
		return "usr_"
	}
	return "id_"
}

// EnsureIdentifier returns the stored identifier for key, synthesizing and
// background-persisting a fresh one when absent.
func (b *Bootstrap) EnsureIdentifier(ctx context.Context, key string) (string, error) {
	value, found, err := b.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read identifier %q: %w", key, err)
	}
	if found && value != "" {
		return value, nil
	}

	id, err := generateIdentifier(prefixForKey(key))
	if err != nil {
		return "", err
	}

	b.writes.Add(1)
	go func() {
		defer b.writes.Done()
		// Detached from the caller's context: the write should outlive the
		// request that triggered it.
		if err := b.store.Set(context.Background(), key, id); err != nil {
			b.logger.Warn("failed to persist identifier", "key", key, "error", err)
		}
	}()

	return id, nil
}

// BootstrapIdentity resolves both identifiers through EnsureIdentifier.
func (b *Bootstrap) BootstrapIdentity(ctx context.Context) (Identity, error) {
	accountID, err := b.EnsureIdentifier(ctx, AccountIDKey)
	if err != nil {
		return Identity{}, err
	}
	userID, err := b.EnsureIdentifier(ctx, UserIDKey)
	if err != nil {
		return Identity{}, err
	}
	return Identity{AccountID: accountID, UserID: userID}, nil
}

// Flush blocks until all in-flight background identifier writes finish.
// Durability is best-effort; tests use this to observe the final state.
func (b *Bootstrap) Flush() {
	b.writes.Wait()
}
