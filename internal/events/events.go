// Package events defines the closed catalog of submission events and the
// contract every event follows: validate against the current state, then
// project a new state.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"submitline/internal/domain"
)

var (
	// ErrNotStamped is returned when an event without a creation time is
	// asked for its identity or applied.
	ErrNotStamped  = errors.New("event has not been stamped")
	ErrUnknownType = errors.New("unknown event type")
)

// Payload is the type-specific part of an event. The set of implementations
// is closed: only types in this package satisfy it.
type Payload interface {
	EventType() Type
	validate(e *Event, s *domain.Submission) error
	project(e *Event, s *domain.Submission) *domain.Submission
}

// normalizer is implemented by payloads that tidy their input before
// validation. Cleanup must be idempotent.
type normalizer interface {
	normalize()
}

// Draft is an event under construction. It has no identity until it is
// stamped with a creation time.
type Draft struct {
	Creator     domain.Agent
	Proxy       *domain.Agent
	Client      *domain.Agent
	AggregateID int64
	// Created, when set, is used instead of the pipeline clock. Callers
	// retrying a Save pass the same value so the retry deduplicates. Preset
	// times must strictly increase within one batch.
	Created time.Time
	Payload Payload
}

func NewDraft(creator domain.Agent, p Payload) Draft {
	return Draft{Creator: creator, Payload: p}
}

func (d Draft) Type() Type {
	if d.Payload == nil {
		return ""
	}
	return d.Payload.EventType()
}

// Stamp promotes the draft to an identity-bearing event. The event shares
// the draft's payload, which Stamp normalizes in place; a stamped draft is
// consumed and its payload must not be reused for a different event.
func (d Draft) Stamp(created time.Time) *Event {
	if n, ok := d.Payload.(normalizer); ok {
		n.normalize()
	}
	return &Event{
		Creator:     d.Creator,
		Created:     normalizeTime(created),
		Proxy:       d.Proxy,
		Client:      d.Client,
		AggregateID: d.AggregateID,
		Payload:     d.Payload,
	}
}

// Event is a stamped event. Once Created is set it has a stable identity.
type Event struct {
	Creator     domain.Agent
	Created     time.Time
	Proxy       *domain.Agent
	Client      *domain.Agent
	AggregateID int64
	Committed   bool
	Payload     Payload
}

func (e *Event) Type() Type { return e.Payload.EventType() }

// ID derives the event identity from the creation time, the event type and
// the creator. It fails for an event that has not been stamped.
func (e *Event) ID() (string, error) {
	if e.Created.IsZero() {
		return "", ErrNotStamped
	}
	return e.id(), nil
}

func (e *Event) id() string {
	key := e.Created.UTC().Format(time.RFC3339Nano) + ":" + string(e.Type()) + ":" + e.Creator.Identifier()
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// MustID is ID for events known to be stamped, such as those read back from
// storage.
func (e *Event) MustID() string {
	id, err := e.ID()
	if err != nil {
		panic(err)
	}
	return id
}

func (e *Event) String() string {
	if e.Created.IsZero() {
		return string(e.Type()) + "(draft)"
	}
	return fmt.Sprintf("%s(%s)", e.Type(), e.id())
}

// Validate checks the event against s without changing it. s is nil only
// for the first event of a new aggregate.
func (e *Event) Validate(s *domain.Submission) error {
	if e.Payload == nil {
		return ErrUnknownType
	}
	if e.Creator.IsZero() {
		return e.invalid("Creator is required")
	}
	if s == nil && e.Type() != TypeCreateSubmission {
		return e.invalid("Submission does not exist")
	}
	if s != nil && e.Type() == TypeCreateSubmission {
		return e.invalid("Submission already exists")
	}
	return e.Payload.validate(e, s)
}

// Project returns the state that results from this event. s is never
// modified; the payload works on a clone.
func (e *Event) Project(s *domain.Submission) *domain.Submission {
	return e.Payload.project(e, s.Clone())
}

// Apply validates and then projects. The result carries updated = created
// and the aggregate id is back-filled in whichever direction is missing.
func (e *Event) Apply(s *domain.Submission) (*domain.Submission, error) {
	if e.Created.IsZero() {
		return nil, ErrNotStamped
	}
	if err := e.Validate(s); err != nil {
		return nil, err
	}
	next := e.Project(s)
	next.Updated = e.Created
	if next.AggregateID == 0 && e.AggregateID != 0 {
		next.AggregateID = e.AggregateID
	}
	if e.AggregateID == 0 && next.AggregateID != 0 {
		e.AggregateID = next.AggregateID
	}
	return next, nil
}

// WithAggregateID returns a shallow copy bound to the given aggregate.
func (e *Event) WithAggregateID(id int64) *Event {
	cp := *e
	cp.AggregateID = id
	return &cp
}

func (e *Event) invalid(format string, args ...any) *InvalidEvent {
	return &InvalidEvent{Event: e, Message: fmt.Sprintf(format, args...)}
}

// InvalidEvent is returned when an event fails validation. It is always
// recoverable: nothing has been changed or persisted.
type InvalidEvent struct {
	Event   *Event
	Message string
}

func (e *InvalidEvent) Error() string {
	var t Type
	if e.Event != nil && e.Event.Payload != nil {
		t = e.Event.Type()
	}
	return fmt.Sprintf("Invalid %s: %s", t, e.Message)
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
