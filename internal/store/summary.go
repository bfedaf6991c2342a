package store

import (
	"context"
	"strings"

	"github.com/cloverlabs/sessionpool/internal/codec"
	"github.com/cloverlabs/sessionpool/internal/domain"
	"github.com/cloverlabs/sessionpool/internal/remote"
)

// Placeholders used when a session has no usable title or preview text.
const (
	PlaceholderTitle   = "New conversation"
	PlaceholderPreview = "No messages yet"
)

// SummaryFromSession projects a full cached session into its list-view
// summary. Title falls back first-user-message → placeholder; preview falls
// back last-message → first-user-message → placeholder. The company name is
// re-resolved through the injected lookup when one is present.
func (s *Store) SummaryFromSession(ctx context.Context, sess *domain.Session) domain.SessionSummary {
	summary := domain.SessionSummary{
		ID:           sess.ID,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		CompanyID:    sess.CompanyID,
		CompanyName:  sess.CompanyName,
		MessageCount: len(sess.Messages),
	}

	if s.lookup != nil {
		if company, ok := s.lookup.ActiveCompany(ctx); ok && company.Name != "" {
			summary.CompanyName = company.Name
		}
	}

	summary.Title = fallbackText(strings.TrimSpace(sess.FirstUserMessage), PlaceholderTitle)

	preview := ""
	if n := len(sess.Messages); n > 0 {
		last := sess.Messages[n-1]
		preview = last.Text
		summary.LastMessage = &last
	}
	if preview == "" {
		preview = sess.FirstUserMessage
	}
	summary.Preview = fallbackText(preview, PlaceholderPreview)

	return summary
}

// SummaryFromRemote projects a remote summary payload. The service
// precomputes title/preview/first-user-message, so the fallback chain starts
// from the payload's own fields instead of scanning messages. A last message,
// if present, passes through the codec.
func SummaryFromRemote(payload remote.SessionSummaryPayload) domain.SessionSummary {
	summary := domain.SessionSummary{
		ID:           payload.ID,
		CreatedAt:    codec.NormalizeTimestamp(payload.CreatedAt),
		UpdatedAt:    codec.NormalizeTimestamp(payload.UpdatedAt),
		CompanyID:    payload.CompanyID,
		CompanyName:  payload.CompanyName,
		MessageCount: payload.MessageCount,
	}

	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = strings.TrimSpace(payload.FirstUserMessage)
	}
	summary.Title = fallbackText(title, PlaceholderTitle)

	preview := payload.Preview
	if preview == "" {
		preview = payload.FirstUserMessage
	}
	summary.Preview = fallbackText(preview, PlaceholderPreview)

	if payload.LastMessage != nil {
		last := codec.FromWire(*payload.LastMessage)
		summary.LastMessage = &last
	}

	return summary
}

func fallbackText(value, placeholder string) string {
	if value == "" {
		return placeholder
	}
	return value
}
