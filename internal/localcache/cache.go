// Package localcache mirrors concierge sessions in memory and persists them
// to the device blob store. It is the sole backend once the store has
// switched to local mode, and a metadata mirror while a remote connection is
// still live.
package localcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloverlabs/sessionpool/internal/codec"
	"github.com/cloverlabs/sessionpool/internal/domain"
	"github.com/cloverlabs/sessionpool/internal/kv"
)

// Persisted blob-store keys.
const (
	SnapshotKey      = "clover.sessionSnapshot"
	ActiveSessionKey = "clover.activeSessionId"
)

// Cache is the in-memory session mirror. Loading from the snapshot happens
// lazily exactly once; every mutation rewrites the full snapshot.
type Cache struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	activeID string
	loaded   bool
	store    kv.Store
	logger   *slog.Logger
}

// New creates a cache over store. A nil logger falls back to the default.
func New(store kv.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		sessions: make(map[string]*domain.Session),
		store:    store,
		logger:   logger,
	}
}

// Load hydrates the cache from the persisted snapshot. It is idempotent;
// only the first call reads storage. A missing or malformed snapshot starts
// the cache empty rather than failing.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx)
}

func (c *Cache) loadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}

	// loaded flips only after the snapshot read succeeds. A transient read
	// failure here must leave hydration pending: marking the cache loaded
	// while empty would let the next mutation overwrite the intact on-disk
	// snapshot.
	raw, found, err := c.store.Get(ctx, SnapshotKey)
	if err != nil {
		return fmt.Errorf("read session snapshot: %w", err)
	}
	c.loaded = true
	if !found || raw == "" {
		return nil
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.logger.Warn("discarding unreadable session snapshot", "error", err)
		return nil
	}

	c.activeID = snap.ActiveSessionID
	for i := range snap.Sessions {
		sess := snap.Sessions[i]
		sess.Messages = codec.NormalizeMessages(sess.Messages)
		c.sessions[sess.ID] = &sess
	}
	return nil
}

// Persist writes the whole snapshot to the blob store.
func (c *Cache) Persist(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked(ctx)
}

func (c *Cache) persistLocked(ctx context.Context) error {
	snap := domain.Snapshot{
		ActiveSessionID: c.activeID,
		Sessions:        make([]domain.Session, 0, len(c.sessions)),
	}
	for _, sess := range c.sessions {
		snap.Sessions = append(snap.Sessions, *sess)
	}
	sortByUpdatedDesc(snap.Sessions)

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}
	if err := c.store.Set(ctx, SnapshotKey, string(data)); err != nil {
		return fmt.Errorf("write session snapshot: %w", err)
	}
	if err := c.store.Set(ctx, ActiveSessionKey, c.activeID); err != nil {
		return fmt.Errorf("write active session id: %w", err)
	}
	return nil
}

// Create generates a fresh local session, stores it, marks it active and
// persists the snapshot.
func (c *Cache) Create(ctx context.Context, companyID, companyName string, initial []domain.Message) (*domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	sess := &domain.Session{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Messages:    codec.NormalizeMessages(initial),
		CompanyID:   companyID,
		CompanyName: companyName,
	}
	sess.FirstUserMessage = firstUserText(sess.Messages)

	c.sessions[sess.ID] = sess
	c.activeID = sess.ID

	if err := c.persistLocked(ctx); err != nil {
		return nil, err
	}
	return cloneSession(sess), nil
}

// Append adds messages to a session. An unknown session id silently gets an
// empty shell created for it, so messages born against a remote id keep
// accumulating after fallback.
func (c *Cache) Append(ctx context.Context, sessionID string, msgs []domain.Message, sctx *domain.SessionContext) (*domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}

	sess, ok := c.sessions[sessionID]
	if !ok {
		now := time.Now().UTC().Format(time.RFC3339)
		sess = &domain.Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}
		c.sessions[sessionID] = sess
	}

	normalized := codec.NormalizeMessages(msgs)
	sess.Messages = append(sess.Messages, normalized...)
	sess.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if sess.FirstUserMessage == "" {
		sess.FirstUserMessage = firstUserText(sess.Messages)
	}
	if sctx != nil {
		if sctx.CompanyID != "" {
			sess.CompanyID = sctx.CompanyID
		}
		if sctx.CompanyName != "" {
			sess.CompanyName = sctx.CompanyName
		}
	}

	if err := c.persistLocked(ctx); err != nil {
		return nil, err
	}
	return cloneSession(sess), nil
}

// List returns the limit most recently updated sessions. Local mode has no
// real pagination: every page is a fresh top-N slice and hasMore only
// signals that more sessions exist than were returned. A non-positive limit
// returns every session with hasMore false.
func (c *Cache) List(ctx context.Context, limit int) ([]domain.Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return nil, false, err
	}

	all := make([]domain.Session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		all = append(all, *cloneSession(sess))
	}
	sortByUpdatedDesc(all)

	hasMore := false
	if limit > 0 && len(all) > limit {
		all = all[:limit]
		hasMore = true
	}
	return all, hasMore, nil
}

// Get returns a copy of the cached session with the given id.
func (c *Cache) Get(ctx context.Context, sessionID string) (*domain.Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return nil, false, err
	}

	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	return cloneSession(sess), true, nil
}

// Put upserts a full session copy (used to mirror remote sessions) and
// persists the snapshot.
func (c *Cache) Put(ctx context.Context, sess domain.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return err
	}

	stored := sess
	stored.Messages = codec.NormalizeMessages(sess.Messages)
	c.sessions[stored.ID] = &stored
	return c.persistLocked(ctx)
}

// SummaryMeta is the summary-level metadata merged from remote listings.
type SummaryMeta struct {
	CreatedAt        string
	UpdatedAt        string
	CompanyID        string
	CompanyName      string
	FirstUserMessage string
}

// MergeSummary folds freshly listed remote metadata into an already cached
// full copy of the session, if one exists, so a session opened later
// reflects the latest summary without a full refetch.
func (c *Cache) MergeSummary(ctx context.Context, sessionID string, meta SummaryMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return err
	}

	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil
	}

	if meta.CreatedAt != "" {
		sess.CreatedAt = codec.NormalizeTimestamp(meta.CreatedAt)
	}
	if meta.UpdatedAt != "" {
		sess.UpdatedAt = codec.NormalizeTimestamp(meta.UpdatedAt)
	}
	if meta.CompanyID != "" {
		sess.CompanyID = meta.CompanyID
	}
	if meta.CompanyName != "" {
		sess.CompanyName = meta.CompanyName
	}
	if sess.FirstUserMessage == "" && meta.FirstUserMessage != "" {
		sess.FirstUserMessage = meta.FirstUserMessage
	}
	return c.persistLocked(ctx)
}

// SetActive records the active session id and persists.
func (c *Cache) SetActive(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return err
	}
	c.activeID = sessionID
	return c.persistLocked(ctx)
}

// ActiveID returns the active session id, if any.
func (c *Cache) ActiveID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return "", err
	}
	return c.activeID, nil
}

func firstUserText(msgs []domain.Message) string {
	for _, m := range msgs {
		if m.Speaker == domain.SpeakerUser && m.Text != "" {
			return m.Text
		}
	}
	return ""
}

func cloneSession(sess *domain.Session) *domain.Session {
	out := *sess
	out.Messages = make([]domain.Message, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		out.Messages = append(out.Messages, codec.CloneMessage(m))
	}
	return &out
}

// sortByUpdatedDesc orders newest first, tie-breaking on id so listings are
// stable across calls.
func sortByUpdatedDesc(sessions []domain.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt != sessions[j].UpdatedAt {
			ti, errI := time.Parse(time.RFC3339, sessions[i].UpdatedAt)
			tj, errJ := time.Parse(time.RFC3339, sessions[j].UpdatedAt)
			if errI == nil && errJ == nil {
				return ti.After(tj)
			}
			return sessions[i].UpdatedAt > sessions[j].UpdatedAt
		}
		return sessions[i].ID < sessions[j].ID
	})
}
