// Package codec converts between the internal message model and the wire
// form, including the insight event smuggled through a message's opaque
// reference list.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cloverlabs/sessionpool/internal/domain"
)

// InsightRefMarker prefixes the reference entry that carries an encoded
// insight event.
const InsightRefMarker = "clover-insight:"

// NormalizeTimestamp returns ts as an RFC3339 UTC string. It accepts RFC3339
// (with or without sub-second precision) and decimal epoch-millisecond
// strings; anything unparsable maps to the current time, never an error.
func NormalizeTimestamp(ts string) string {
	ts = strings.TrimSpace(ts)
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil && ms > 0 {
		return time.Unix(0, ms*int64(time.Millisecond)).UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// NormalizeMessages deep-copies msgs with timestamps normalized. The result
// shares no mutable state with the input, so cached copies cannot alias the
// caller's objects.
func NormalizeMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, CloneMessage(m))
	}
	return out
}

// CloneMessage returns a deep copy of m with its timestamp normalized.
func CloneMessage(m domain.Message) domain.Message {
	c := m
	c.Timestamp = NormalizeTimestamp(m.Timestamp)
	if m.References != nil {
		c.References = append([]string(nil), m.References...)
	}
	if m.InsightEvent != nil {
		ev := *m.InsightEvent
		if m.InsightEvent.Changes != nil {
			ev.Changes = append([]domain.InsightChange(nil), m.InsightEvent.Changes...)
		}
		c.InsightEvent = &ev
	}
	return c
}

// EncodeInsightEventRef serializes ev to JSON, base64url-encodes it and
// prefixes the marker. A marshal failure degrades to the bare marker.
func EncodeInsightEventRef(ev domain.InsightEvent) string {
	data, err := json.Marshal(ev)
	if err != nil {
		return InsightRefMarker
	}
	return InsightRefMarker + base64.URLEncoding.EncodeToString(data)
}

// DecodeInsightEvent decodes an encoded reference payload (without the
// marker prefix). Any failure in the decode chain yields ok=false; it never
// panics or returns a partially valid event.
func DecodeInsightEvent(encoded string) (domain.InsightEvent, bool) {
	var zero domain.InsightEvent

	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return zero, false
	}

	var ev domain.InsightEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return zero, false
	}

	if ev.Type != domain.InsightCreated && ev.Type != domain.InsightUpdated {
		return zero, false
	}

	ins, ok := validateInsight(ev.Insight)
	if !ok {
		return zero, false
	}
	ev.Insight = ins

	// Malformed change entries are dropped, not fatal.
	if len(ev.Changes) > 0 {
		kept := ev.Changes[:0]
		for _, ch := range ev.Changes {
			if domain.ValidChangeField(ch.Field) {
				kept = append(kept, ch)
			}
		}
		if len(kept) == 0 {
			ev.Changes = nil
		} else {
			ev.Changes = kept
		}
	}

	return ev, true
}

func validateInsight(in domain.Insight) (domain.Insight, bool) {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	if in.ID == "" || in.Title == "" {
		return domain.Insight{}, false
	}
	if !domain.ValidStage(in.Stage) || !domain.ValidSource(in.SourceType) {
		return domain.Insight{}, false
	}
	if in.CapturedAtIso != "" {
		in.CapturedAtIso = NormalizeTimestamp(in.CapturedAtIso)
	}
	return in, true
}

// ExtractInsightEvent scans refs for the first marker-prefixed entry. On a
// successful decode the entry is removed from the visible list and the event
// returned; on decode failure the entry stays in place as an ordinary opaque
// reference and no event is reported.
func ExtractInsightEvent(refs []string) (*domain.InsightEvent, []string) {
	for i, ref := range refs {
		if !strings.HasPrefix(ref, InsightRefMarker) {
			continue
		}
		ev, ok := DecodeInsightEvent(strings.TrimPrefix(ref, InsightRefMarker))
		if !ok {
			break
		}
		remaining := make([]string, 0, len(refs)-1)
		remaining = append(remaining, refs[:i]...)
		remaining = append(remaining, refs[i+1:]...)
		if len(remaining) == 0 {
			remaining = nil
		}
		return &ev, remaining
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return nil, append([]string(nil), refs...)
}

// ToWire maps a message to its transport form. Speaker collapses to the wire
// role, and a carried insight event is re-encoded into the reference list,
// deduplicated against any identical entry already present.
func ToWire(m domain.Message) domain.WireMessage {
	role := "user"
	if m.Speaker == domain.SpeakerAssistant {
		role = "assistant"
	}

	refs := append([]string(nil), m.References...)
	if m.InsightEvent != nil {
		encoded := EncodeInsightEventRef(*m.InsightEvent)
		present := false
		for _, ref := range refs {
			if ref == encoded {
				present = true
				break
			}
		}
		if !present {
			refs = append(refs, encoded)
		}
	}
	if len(refs) == 0 {
		refs = nil
	}

	return domain.WireMessage{
		ID:         m.ID,
		Role:       role,
		Text:       m.Text,
		Timestamp:  NormalizeTimestamp(m.Timestamp),
		Tokens:     m.Tokens,
		References: refs,
	}
}

// ToWireMessages maps msgs through ToWire.
func ToWireMessages(msgs []domain.Message) []domain.WireMessage {
	out := make([]domain.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToWire(m))
	}
	return out
}

// FromWire is the inverse of ToWire: it restores the speaker from the wire
// role and extracts an embedded insight event out of the reference list.
func FromWire(wm domain.WireMessage) domain.Message {
	speaker := domain.SpeakerUser
	if wm.Role == "assistant" {
		speaker = domain.SpeakerAssistant
	}

	ev, refs := ExtractInsightEvent(wm.References)

	return domain.Message{
		ID:           wm.ID,
		Text:         wm.Text,
		Timestamp:    NormalizeTimestamp(wm.Timestamp),
		Speaker:      speaker,
		Tokens:       wm.Tokens,
		References:   refs,
		InsightEvent: ev,
	}
}

// FromWireMessages maps wire messages through FromWire.
func FromWireMessages(wms []domain.WireMessage) []domain.Message {
	out := make([]domain.Message, 0, len(wms))
	for _, wm := range wms {
		out = append(out, FromWire(wm))
	}
	return out
}
