// Package domain holds the shared types for concierge chat sessions.
package domain

// Speaker identifies who authored a message.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Message is one turn in a session. Timestamps are normalized RFC3339 UTC
// strings; References carries opaque strings from the wire, with any embedded
// insight event already extracted into InsightEvent.
type Message struct {
	ID           string        `json:"id"`
	Text         string        `json:"text"`
	Timestamp    string        `json:"timestamp"`
	Speaker      Speaker       `json:"speaker"`
	Tokens       int           `json:"tokens,omitempty"`
	References   []string      `json:"references,omitempty"`
	InsightEvent *InsightEvent `json:"insightEvent,omitempty"`
}

// Session is a persisted conversation thread. Messages is append-only from
// the store's perspective; the store never reorders or truncates it.
type Session struct {
	ID               string    `json:"id"`
	CreatedAt        string    `json:"createdAt"`
	UpdatedAt        string    `json:"updatedAt"`
	Messages         []Message `json:"messages"`
	CompanyID        string    `json:"companyId,omitempty"`
	CompanyName      string    `json:"companyName,omitempty"`
	FirstUserMessage string    `json:"firstUserMessage,omitempty"`
}

// WireMessage is the transport form of a Message. Role is a 1:1 relabeling of
// Speaker; an insight event travels encoded inside References.
type WireMessage struct {
	ID         string   `json:"id"`
	Role       string   `json:"role"`
	Text       string   `json:"text"`
	Timestamp  string   `json:"timestamp"`
	Tokens     int      `json:"tokens,omitempty"`
	References []string `json:"references,omitempty"`
}

// SessionSummary is the lightweight list-view projection of a Session.
type SessionSummary struct {
	ID           string   `json:"id"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
	CompanyID    string   `json:"companyId,omitempty"`
	CompanyName  string   `json:"companyName,omitempty"`
	Title        string   `json:"title"`
	Preview      string   `json:"preview"`
	MessageCount int      `json:"messageCount"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
}

// SessionContext carries optional workspace labels attached to an append.
type SessionContext struct {
	CompanyID   string `json:"companyId,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
}

// Snapshot is the entire durable local-fallback state, written whole on every
// local mutation.
type Snapshot struct {
	ActiveSessionID string    `json:"activeSessionId,omitempty"`
	Sessions        []Session `json:"sessions"`
}
