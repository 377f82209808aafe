package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"submitline/internal/domain"
)

// wireEvent is the stored and transmitted form of an event. The payload sits
// under "data" and event_type selects its concrete type.
type wireEvent struct {
	EventID     string          `json:"event_id,omitempty"`
	EventType   Type            `json:"event_type"`
	Created     time.Time       `json:"created"`
	Creator     domain.Agent    `json:"creator"`
	Proxy       *domain.Agent   `json:"proxy,omitempty"`
	Client      *domain.Agent   `json:"client,omitempty"`
	AggregateID int64           `json:"aggregate_id,omitempty"`
	Committed   bool            `json:"committed"`
	Data        json.RawMessage `json:"data"`
}

func (e *Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, ErrUnknownType
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Type(), err)
	}
	w := wireEvent{
		EventType:   e.Type(),
		Created:     e.Created,
		Creator:     e.Creator,
		Proxy:       e.Proxy,
		Client:      e.Client,
		AggregateID: e.AggregateID,
		Committed:   e.Committed,
		Data:        data,
	}
	if !e.Created.IsZero() {
		w.EventID = e.id()
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an event and checks that a carried event_id matches
// the identity derived from the decoded fields.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := NewPayload(w.EventType)
	if err != nil {
		return err
	}
	if len(w.Data) > 0 && !bytes.Equal(w.Data, []byte("null")) {
		if err := json.Unmarshal(w.Data, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.EventType, err)
		}
	}
	*e = Event{
		Creator:     w.Creator,
		Created:     w.Created,
		Proxy:       w.Proxy,
		Client:      w.Client,
		AggregateID: w.AggregateID,
		Committed:   w.Committed,
		Payload:     p,
	}
	if !e.Created.IsZero() {
		e.Created = normalizeTime(e.Created)
		if w.EventID != "" && w.EventID != e.id() {
			return fmt.Errorf("event id %s does not match decoded event %s", w.EventID, e.id())
		}
	}
	return nil
}

// ParsePayload decodes client input for an event of type t. Unknown fields
// are rejected.
func ParsePayload(t Type, raw []byte) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// DecodePayload builds a payload from an already decoded JSON object, such
// as the data carried by a proposal.
func DecodePayload(t Type, data map[string]any) (Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if data == nil {
		raw = nil
	}
	return ParsePayload(t, raw)
}

// EncodePayload is the inverse of DecodePayload.
func EncodePayload(p Payload) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SameContent reports whether two events with the same identity also carry
// the same payload.
func SameContent(a, b *Event) bool {
	if a.Type() != b.Type() || !a.Creator.Equal(b.Creator) {
		return false
	}
	ra, errA := json.Marshal(a.Payload)
	rb, errB := json.Marshal(b.Payload)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}
