package domain

// InsightStage tracks where a captured insight sits in its lifecycle.
type InsightStage string

const (
	StageCaptured   InsightStage = "captured"
	StageProcessing InsightStage = "processing"
	StageReady      InsightStage = "ready"
	StageAssigned   InsightStage = "assigned"
)

// ValidStage reports whether s is a known lifecycle stage.
func ValidStage(s InsightStage) bool {
	switch s {
	case StageCaptured, StageProcessing, StageReady, StageAssigned:
		return true
	}
	return false
}

// InsightSource identifies how an insight was captured.
type InsightSource string

const (
	SourceConversation InsightSource = "conversation"
	SourceDocument     InsightSource = "document"
	SourceVoice        InsightSource = "voice"
	SourceIntegration  InsightSource = "integration"
)

// ValidSource reports whether s is a known capture source.
func ValidSource(s InsightSource) bool {
	switch s {
	case SourceConversation, SourceDocument, SourceVoice, SourceIntegration:
		return true
	}
	return false
}

// Insight is a snapshot of a captured idea or record.
type Insight struct {
	ID                   string        `json:"id"`
	Title                string        `json:"title"`
	Stage                InsightStage  `json:"stage"`
	SourceType           InsightSource `json:"sourceType"`
	Summary              string        `json:"summary,omitempty"`
	RecommendedWorkspace string        `json:"recommendedWorkspace,omitempty"`
	CapturedAtIso        string        `json:"capturedAtIso,omitempty"`
	AssignedCompanyID    string        `json:"assignedCompanyId,omitempty"`
}

// InsightEventType distinguishes creation from update notifications.
type InsightEventType string

const (
	InsightCreated InsightEventType = "created"
	InsightUpdated InsightEventType = "updated"
)

// InsightChange records a single field transition on an insight.
type InsightChange struct {
	Field string `json:"field"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
}

// insightChangeFields is the closed set of fields a change entry may name.
var insightChangeFields = map[string]struct{}{
	"title":                {},
	"summary":              {},
	"stage":                {},
	"recommendedWorkspace": {},
	"assignedCompanyId":    {},
	"capturedAtIso":        {},
	"sourceType":           {},
}

// ValidChangeField reports whether field is in the change-field enum.
func ValidChangeField(field string) bool {
	_, ok := insightChangeFields[field]
	return ok
}

// InsightEvent is a structured notification embedded opaquely inside a
// message's reference list. At most one event rides in a message.
type InsightEvent struct {
	Type    InsightEventType `json:"type"`
	Insight Insight          `json:"insight"`
	Note    string           `json:"note,omitempty"`
	Changes []InsightChange  `json:"changes,omitempty"`
}
