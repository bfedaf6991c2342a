// Package remote implements the HTTP client for the session-pool service.
// The client performs no retries; retry and fallback policy lives with the
// session store facade.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cloverlabs/sessionpool/internal/domain"
	"github.com/cloverlabs/sessionpool/internal/identity"
)

// DefaultBaseURL is used when no endpoint is configured.
const DefaultBaseURL = "http://localhost:3005"

// DefaultRequestTimeout bounds every remote call.
const DefaultRequestTimeout = 15 * time.Second

// Request metadata headers carrying the bootstrapped identifiers.
const (
	HeaderAccountID = "x-account-id"
	HeaderUserID    = "x-user-id"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("session pool returned status %d: %s", e.Code, e.Body)
}

// SessionSummaryPayload is the remote summary shape. The service precomputes
// Title, Preview and FirstUserMessage so list views never need full fetches.
type SessionSummaryPayload struct {
	ID               string              `json:"id"`
	CreatedAt        string              `json:"createdAt"`
	UpdatedAt        string              `json:"updatedAt"`
	CompanyID        string              `json:"companyId,omitempty"`
	CompanyName      string              `json:"companyName,omitempty"`
	Title            string              `json:"title,omitempty"`
	Preview          string              `json:"preview,omitempty"`
	FirstUserMessage string              `json:"firstUserMessage,omitempty"`
	MessageCount     int                 `json:"messageCount"`
	LastMessage      *domain.WireMessage `json:"lastMessage,omitempty"`
}

// SessionEnvelope is the full response for create/append/fetch operations.
type SessionEnvelope struct {
	Session  SessionSummaryPayload `json:"session"`
	Messages []domain.WireMessage  `json:"messages"`
}

// SessionPage is one page of session summaries.
type SessionPage struct {
	Sessions   []SessionSummaryPayload `json:"sessions"`
	HasMore    bool                    `json:"hasMore"`
	NextCursor string                  `json:"nextCursor,omitempty"`
}

// AnalysisFilters narrows a passion-map analysis request.
type AnalysisFilters struct {
	Limit           int
	Status          string
	Since           string
	IncludeFiles    bool
	IncludeMessages bool
}

// AnalysisItem is one entry on the passion map.
type AnalysisItem struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Status   string   `json:"status"`
	Strength float64  `json:"strength"`
	Evidence []string `json:"evidence,omitempty"`
}

// AnalysisResult is the passion-map analysis response.
type AnalysisResult struct {
	Items              []AnalysisItem `json:"items"`
	TotalItems         int            `json:"totalItems"`
	EmbeddingDimension int            `json:"embeddingDimension,omitempty"`
	GeneratedAt        string         `json:"generatedAt"`
}

// Client talks to the session-pool service. All calls carry the bootstrapped
// identifiers as request metadata and share a fixed per-call timeout.
type Client struct {
	baseURL string
	id      identity.Identity
	http    *http.Client
	logger  *slog.Logger
}

// Config holds client construction parameters.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// NewClient creates a session-pool client. Zero config fields fall back to
// the package defaults; a nil logger falls back to slog.Default.
func NewClient(cfg Config, id identity.Identity, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		id:      id,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
	}
}

type createSessionRequest struct {
	Session createSessionBody `json:"session"`
}

type createSessionBody struct {
	CompanyID       string               `json:"companyId,omitempty"`
	CompanyName     string               `json:"companyName,omitempty"`
	InitialMessages []domain.WireMessage `json:"initialMessages"`
}

type appendMessagesRequest struct {
	Messages []domain.WireMessage   `json:"messages"`
	Context  *domain.SessionContext `json:"context,omitempty"`
}

// CreateSession creates a new remote session seeded with initial messages.
func (c *Client) CreateSession(ctx context.Context, companyID, companyName string, initial []domain.WireMessage) (*SessionEnvelope, error) {
	if initial == nil {
		initial = []domain.WireMessage{}
	}
	body := createSessionRequest{Session: createSessionBody{
		CompanyID:       companyID,
		CompanyName:     companyName,
		InitialMessages: initial,
	}}

	var envelope SessionEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/sessions", body, &envelope); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &envelope, nil
}

// AppendMessages appends messages to an existing remote session and returns
// the full updated session envelope.
func (c *Client) AppendMessages(ctx context.Context, sessionID string, msgs []domain.WireMessage, sctx *domain.SessionContext) (*SessionEnvelope, error) {
	body := appendMessagesRequest{Messages: msgs, Context: sctx}

	var envelope SessionEnvelope
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &envelope); err != nil {
		return nil, fmt.Errorf("append messages to %s: %w", sessionID, err)
	}
	return &envelope, nil
}

// ListSessions fetches a page of session summaries.
func (c *Client) ListSessions(ctx context.Context, cursor string, limit int) (*SessionPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var page SessionPage
	if err := c.doJSON(ctx, http.MethodGet, "/sessions?"+q.Encode(), nil, &page); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return &page, nil
}

// FetchSessionMessages fetches a session with its full message history.
func (c *Client) FetchSessionMessages(ctx context.Context, sessionID string) (*SessionEnvelope, error) {
	var envelope SessionEnvelope
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, fmt.Errorf("fetch session %s: %w", sessionID, err)
	}
	return &envelope, nil
}

// FetchAnalysisItems fetches the passion-map analysis for this account.
func (c *Client) FetchAnalysisItems(ctx context.Context, filters AnalysisFilters) (*AnalysisResult, error) {
	q := url.Values{}
	if filters.Limit > 0 {
		q.Set("limit", strconv.Itoa(filters.Limit))
	}
	if filters.Status != "" {
		q.Set("status", filters.Status)
	}
	if filters.Since != "" {
		q.Set("since", filters.Since)
	}
	q.Set("includeFiles", strconv.FormatBool(filters.IncludeFiles))
	q.Set("includeMessages", strconv.FormatBool(filters.IncludeMessages))

	var result AnalysisResult
	if err := c.doJSON(ctx, http.MethodGet, "/analysis/passions?"+q.Encode(), nil, &result); err != nil {
		return nil, fmt.Errorf("fetch analysis items: %w", err)
	}
	return &result, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAccountID, c.id.AccountID)
	req.Header.Set(HeaderUserID, c.id.UserID)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}
