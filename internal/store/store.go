// Package store is the public surface of the session-pool client. It fronts
// the remote session client with an automatic, one-way degrade to the local
// session cache when the remote service proves unreachable.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloverlabs/sessionpool/internal/codec"
	"github.com/cloverlabs/sessionpool/internal/domain"
	"github.com/cloverlabs/sessionpool/internal/fallback"
	"github.com/cloverlabs/sessionpool/internal/localcache"
	"github.com/cloverlabs/sessionpool/internal/remote"
)

// ErrSessionNotFound is returned when a requested session exists neither
// remotely nor in the local cache.
var ErrSessionNotFound = errors.New("session not found")

// Mode is the store's operating mode. The Remote→Local transition is
// one-way for the lifetime of the process; the store never probes the remote
// service again once fallback has triggered.
type Mode int

const (
	ModeRemote Mode = iota
	ModeLocal
)

func (m Mode) String() string {
	if m == ModeLocal {
		return "local"
	}
	return "remote"
}

// Company is the workspace context a session is labeled with.
type Company struct {
	ID   string
	Name string
}

// CompanyLookup resolves the currently active workspace. Implemented by the
// host; may be absent.
type CompanyLookup interface {
	ActiveCompany(ctx context.Context) (Company, bool)
}

// SessionList is one page of session summaries.
type SessionList struct {
	Sessions   []domain.SessionSummary
	HasMore    bool
	NextCursor string
}

// Store combines the remote client, the local cache and the failover policy
// behind the operations the concierge UI calls.
type Store struct {
	remote *remote.Client
	cache  *localcache.Cache
	lookup CompanyLookup
	logger *slog.Logger

	modeMu sync.Mutex
	mode   Mode
}

// New creates a session store starting in remote mode. lookup may be nil;
// a nil logger falls back to the default.
func New(client *remote.Client, cache *localcache.Cache, lookup CompanyLookup, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		remote: client,
		cache:  cache,
		lookup: lookup,
		logger: logger,
	}
}

// Mode reports the current operating mode.
func (s *Store) Mode() Mode {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	return s.mode
}

// enterLocalMode flips the store into local mode. Idempotent: concurrent
// failing calls may both arrive here, and only the first transition does any
// work. The cache is hydrated and immediately re-persisted so any stale
// on-disk shape is normalized up front.
func (s *Store) enterLocalMode(ctx context.Context, reason error) {
	s.modeMu.Lock()
	if s.mode == ModeLocal {
		s.modeMu.Unlock()
		return
	}
	s.mode = ModeLocal
	s.modeMu.Unlock()

	s.logger.Info("session pool unreachable, switching to local sessions", "reason", reason)

	if err := s.cache.Load(ctx); err != nil {
		s.logger.Warn("failed to hydrate local session cache", "error", err)
		return
	}
	if err := s.cache.Persist(ctx); err != nil {
		s.logger.Warn("failed to re-persist local session cache", "error", err)
	}
}

// CreateSession starts a new conversation thread seeded with the initial
// messages and marks it active.
func (s *Store) CreateSession(ctx context.Context, companyID, companyName string, initial []domain.Message) (*domain.Session, error) {
	if s.Mode() == ModeLocal {
		return s.cache.Create(ctx, companyID, companyName, initial)
	}

	normalized := codec.NormalizeMessages(initial)
	envelope, err := s.remote.CreateSession(ctx, companyID, companyName, codec.ToWireMessages(normalized))
	if err != nil {
		if fallback.ShouldFallback(err) {
			s.enterLocalMode(ctx, err)
			return s.cache.Create(ctx, companyID, companyName, initial)
		}
		return nil, err
	}

	sess := sessionFromEnvelope(envelope)
	if err := s.cache.Put(ctx, *sess); err != nil {
		s.logger.Warn("failed to mirror created session", "session_id", sess.ID, "error", err)
	}
	if err := s.cache.SetActive(ctx, sess.ID); err != nil {
		s.logger.Warn("failed to record active session", "session_id", sess.ID, "error", err)
	}
	return sess, nil
}

// AppendMessages appends messages to a session and returns the updated
// session. In remote mode only the server-normalized copies of the newly
// appended messages are merged into the cached mirror.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []domain.Message, sctx *domain.SessionContext) (*domain.Session, error) {
	if s.Mode() == ModeLocal {
		return s.cache.Append(ctx, sessionID, msgs, sctx)
	}

	normalized := codec.NormalizeMessages(msgs)
	envelope, err := s.remote.AppendMessages(ctx, sessionID, codec.ToWireMessages(normalized), sctx)
	if err != nil {
		if fallback.ShouldFallback(err) {
			s.enterLocalMode(ctx, err)
			return s.cache.Append(ctx, sessionID, msgs, sctx)
		}
		return nil, err
	}

	sess := sessionFromEnvelope(envelope)
	if appended := newlyAppended(sess.Messages, len(msgs)); len(appended) > 0 {
		if _, err := s.cache.Append(ctx, sessionID, appended, sctx); err != nil {
			s.logger.Warn("failed to merge appended messages into cache", "session_id", sessionID, "error", err)
		}
	}
	return sess, nil
}

// newlyAppended returns the trailing n messages of the full history: the
// server echoes the whole session, the mirror only needs the new tail.
func newlyAppended(all []domain.Message, n int) []domain.Message {
	if n <= 0 || len(all) == 0 {
		return nil
	}
	if n > len(all) {
		n = len(all)
	}
	return all[len(all)-n:]
}

// ListSessions returns a page of session summaries for the picker. In remote
// mode the freshly listed metadata is also merged into any cached full copy
// of the same session.
func (s *Store) ListSessions(ctx context.Context, cursor string, limit int) (*SessionList, error) {
	if s.Mode() == ModeLocal {
		return s.listLocal(ctx, limit)
	}

	page, err := s.remote.ListSessions(ctx, cursor, limit)
	if err != nil {
		if fallback.ShouldFallback(err) {
			s.enterLocalMode(ctx, err)
			return s.listLocal(ctx, limit)
		}
		return nil, err
	}

	list := &SessionList{
		Sessions:   make([]domain.SessionSummary, 0, len(page.Sessions)),
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
	}
	for _, payload := range page.Sessions {
		if err := s.cache.MergeSummary(ctx, payload.ID, localcache.SummaryMeta{
			CreatedAt:        payload.CreatedAt,
			UpdatedAt:        payload.UpdatedAt,
			CompanyID:        payload.CompanyID,
			CompanyName:      payload.CompanyName,
			FirstUserMessage: payload.FirstUserMessage,
		}); err != nil {
			s.logger.Warn("failed to merge summary metadata", "session_id", payload.ID, "error", err)
		}
		list.Sessions = append(list.Sessions, SummaryFromRemote(payload))
	}
	return list, nil
}

func (s *Store) listLocal(ctx context.Context, limit int) (*SessionList, error) {
	sessions, hasMore, err := s.cache.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list local sessions: %w", err)
	}

	list := &SessionList{
		Sessions: make([]domain.SessionSummary, 0, len(sessions)),
		HasMore:  hasMore,
	}
	for i := range sessions {
		list.Sessions = append(list.Sessions, s.SummaryFromSession(ctx, &sessions[i]))
	}
	return list, nil
}

// FetchSessionMessages returns a session with its full message history.
func (s *Store) FetchSessionMessages(ctx context.Context, sessionID string) (*domain.Session, error) {
	if s.Mode() == ModeLocal {
		return s.fetchLocal(ctx, sessionID)
	}

	envelope, err := s.remote.FetchSessionMessages(ctx, sessionID)
	if err != nil {
		if fallback.ShouldFallback(err) {
			s.enterLocalMode(ctx, err)
			return s.fetchLocal(ctx, sessionID)
		}
		return nil, err
	}

	sess := sessionFromEnvelope(envelope)
	if err := s.cache.Put(ctx, *sess); err != nil {
		s.logger.Warn("failed to mirror fetched session", "session_id", sess.ID, "error", err)
	}
	return sess, nil
}

func (s *Store) fetchLocal(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, ok, err := s.cache.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetch local session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// FetchAnalysisItems returns the passion-map analysis. There is no local
// content for this surface: when the remote path degrades, the result is an
// empty, well-formed response.
func (s *Store) FetchAnalysisItems(ctx context.Context, filters remote.AnalysisFilters) (*remote.AnalysisResult, error) {
	if s.Mode() == ModeLocal {
		return emptyAnalysisResult(), nil
	}

	result, err := s.remote.FetchAnalysisItems(ctx, filters)
	if err != nil {
		if fallback.ShouldFallback(err) {
			s.enterLocalMode(ctx, err)
			return emptyAnalysisResult(), nil
		}
		return nil, err
	}
	return result, nil
}

func emptyAnalysisResult() *remote.AnalysisResult {
	return &remote.AnalysisResult{
		Items:       []remote.AnalysisItem{},
		TotalItems:  0,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// ActiveSessionID returns the id of the most recently created or selected
// session, if any.
func (s *Store) ActiveSessionID(ctx context.Context) (string, error) {
	return s.cache.ActiveID(ctx)
}

// sessionFromEnvelope assembles the internal session model from a remote
// envelope, decoding wire messages through the codec.
func sessionFromEnvelope(envelope *remote.SessionEnvelope) *domain.Session {
	payload := envelope.Session
	sess := &domain.Session{
		ID:               payload.ID,
		CreatedAt:        codec.NormalizeTimestamp(payload.CreatedAt),
		UpdatedAt:        codec.NormalizeTimestamp(payload.UpdatedAt),
		Messages:         codec.FromWireMessages(envelope.Messages),
		CompanyID:        payload.CompanyID,
		CompanyName:      payload.CompanyName,
		FirstUserMessage: payload.FirstUserMessage,
	}
	if sess.FirstUserMessage == "" {
		for _, m := range sess.Messages {
			if m.Speaker == domain.SpeakerUser && m.Text != "" {
				sess.FirstUserMessage = m.Text
				break
			}
		}
	}
	return sess
}
