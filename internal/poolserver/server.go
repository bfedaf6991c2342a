// Package poolserver is an in-memory reference implementation of the
// session-pool HTTP contract. It exists so the client can be exercised
// end-to-end in tests and local development without the hosted service.
package poolserver

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/cloverlabs/sessionpool/internal/codec"
	"github.com/cloverlabs/sessionpool/internal/domain"
	"github.com/cloverlabs/sessionpool/internal/middleware"
	"github.com/cloverlabs/sessionpool/internal/remote"
)

const defaultPageLimit = 20

type poolSession struct {
	ID               string
	CreatedAt        string
	UpdatedAt        string
	CompanyID        string
	CompanyName      string
	FirstUserMessage string
	Messages         []domain.WireMessage
}

// Server holds the in-memory session state behind the HTTP handlers.
type Server struct {
	mu       sync.Mutex
	sessions map[string]*poolSession
	logger   *slog.Logger
}

// New creates an empty reference server. A nil logger falls back to the
// default.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions: make(map[string]*poolSession),
		logger:   logger,
	}
}

// Router builds the chi router implementing the session-pool contract.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Post("/sessions", s.handleCreateSession)
	r.Get("/sessions", s.handleListSessions)
	r.Post("/sessions/{id}/messages", s.handleAppendMessages)
	r.Get("/sessions/{id}/messages", s.handleFetchSession)
	r.Get("/analysis/passions", s.handleAnalysis)

	return r
}

type createSessionRequest struct {
	Session struct {
		CompanyID       string               `json:"companyId"`
		CompanyName     string               `json:"companyName"`
		InitialMessages []domain.WireMessage `json:"initialMessages"`
	} `json:"session"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed session payload")
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	sess := &poolSession{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
		CompanyID:   req.Session.CompanyID,
		CompanyName: req.Session.CompanyName,
		Messages:    normalizeWire(req.Session.InitialMessages),
	}
	sess.FirstUserMessage = firstUserText(sess.Messages)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	envelope := s.envelopeLocked(sess)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusCreated, envelope)
}

type appendMessagesRequest struct {
	Messages []domain.WireMessage   `json:"messages"`
	Context  *domain.SessionContext `json:"context"`
}

func (s *Server) handleAppendMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req appendMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed messages payload")
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	sess.Messages = append(sess.Messages, normalizeWire(req.Messages)...)
	sess.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if sess.FirstUserMessage == "" {
		sess.FirstUserMessage = firstUserText(sess.Messages)
	}
	if req.Context != nil {
		if req.Context.CompanyID != "" {
			sess.CompanyID = req.Context.CompanyID
		}
		if req.Context.CompanyName != "" {
			sess.CompanyName = req.Context.CompanyName
		}
	}
	envelope := s.envelopeLocked(sess)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, envelope)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := decodeCursor(r.URL.Query().Get("cursor"))

	s.mu.Lock()
	all := make([]*poolSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	// Tie-break on id so cursors stay stable across requests.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].UpdatedAt != all[j].UpdatedAt {
			return all[i].UpdatedAt > all[j].UpdatedAt
		}
		return all[i].ID < all[j].ID
	})

	page := remote.SessionPage{Sessions: []remote.SessionSummaryPayload{}}
	if offset < len(all) {
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		for _, sess := range all[offset:end] {
			page.Sessions = append(page.Sessions, summaryLocked(sess))
		}
		if end < len(all) {
			page.HasMore = true
			page.NextCursor = encodeCursor(end)
		}
	}
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleFetchSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	envelope := s.envelopeLocked(sess)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, envelope)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	// The reference server derives a trivial passion map from session
	// openers; the hosted service runs real analysis here.
	s.mu.Lock()
	items := []remote.AnalysisItem{}
	for _, sess := range s.sessions {
		if sess.FirstUserMessage == "" {
			continue
		}
		items = append(items, remote.AnalysisItem{
			ID:       sess.ID,
			Label:    sess.FirstUserMessage,
			Status:   "observed",
			Strength: 1,
		})
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	total := len(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	s.writeJSON(w, http.StatusOK, remote.AnalysisResult{
		Items:       items,
		TotalItems:  total,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) envelopeLocked(sess *poolSession) remote.SessionEnvelope {
	return remote.SessionEnvelope{
		Session:  summaryLocked(sess),
		Messages: append([]domain.WireMessage(nil), sess.Messages...),
	}
}

func summaryLocked(sess *poolSession) remote.SessionSummaryPayload {
	payload := remote.SessionSummaryPayload{
		ID:               sess.ID,
		CreatedAt:        sess.CreatedAt,
		UpdatedAt:        sess.UpdatedAt,
		CompanyID:        sess.CompanyID,
		CompanyName:      sess.CompanyName,
		Title:            sess.FirstUserMessage,
		FirstUserMessage: sess.FirstUserMessage,
		MessageCount:     len(sess.Messages),
	}
	if n := len(sess.Messages); n > 0 {
		last := sess.Messages[n-1]
		payload.Preview = last.Text
		payload.LastMessage = &last
	}
	return payload
}

func normalizeWire(msgs []domain.WireMessage) []domain.WireMessage {
	out := make([]domain.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.Timestamp = codec.NormalizeTimestamp(m.Timestamp)
		m.References = append([]string(nil), m.References...)
		out = append(out, m)
	}
	return out
}

func firstUserText(msgs []domain.WireMessage) string {
	for _, m := range msgs {
		if m.Role == "user" && m.Text != "" {
			return m.Text
		}
	}
	return ""
}

func encodeCursor(offset int) string {
	return base64.URLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		s.logger.Warn("failed to encode error response", "error", err)
	}
}
