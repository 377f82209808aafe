package server

import (
	"errors"
	"fmt"
	"time"

	"submitline/internal/domain"
	"submitline/internal/engine/auth"
	"submitline/internal/events"
)

// Request payloads

type EventRequest struct {
	EventType string         `json:"event_type" example:"SetTitle"`
	Data      map[string]any `json:"data,omitempty"`
	// Created pins the event time. Clients retrying a request send the same
	// value so the retry is recognized as a duplicate.
	Created *time.Time `json:"created,omitempty" format:"date-time"`
}

type EventsRequest struct {
	Events []EventRequest `json:"events" minItems:"1"`
}

// Response payloads

type EventResponse struct {
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	AggregateID int64          `json:"aggregate_id"`
	Created     time.Time      `json:"created" format:"date-time"`
	Creator     domain.Agent   `json:"creator"`
	Proxy       *domain.Agent  `json:"proxy,omitempty"`
	Client      *domain.Agent  `json:"client,omitempty"`
	Committed   bool           `json:"committed"`
	Data        map[string]any `json:"data,omitempty"`
}

type SubmissionResponse struct {
	Submission *domain.Submission `json:"submission"`
	Events     []EventResponse    `json:"events,omitempty"`
}

type SubmissionListResponse struct {
	Items []*domain.Submission `json:"items"`
}

type EventListResponse struct {
	Items []EventResponse `json:"items"`
}

type EventTypeResponse struct {
	Type   string `json:"type"`
	Family string `json:"family"`
	Scope  string `json:"scope" enum:"submission:write,submission:moderate"`
}

type MeResponse struct {
	Agent  domain.Agent `json:"agent"`
	Source string       `json:"source"`
	Scopes []string     `json:"scopes"`
}

func eventResponse(ev *events.Event) (EventResponse, error) {
	data, err := events.EncodePayload(ev.Payload)
	if err != nil {
		return EventResponse{}, err
	}
	id, err := ev.ID()
	if err != nil {
		return EventResponse{}, err
	}
	return EventResponse{
		EventID:     id,
		EventType:   string(ev.Type()),
		AggregateID: ev.AggregateID,
		Created:     ev.Created,
		Creator:     ev.Creator,
		Proxy:       ev.Proxy,
		Client:      ev.Client,
		Committed:   ev.Committed,
		Data:        data,
	}, nil
}

func mapEvents(items []*events.Event) ([]EventResponse, error) {
	res := make([]EventResponse, 0, len(items))
	for _, ev := range items {
		r, err := eventResponse(ev)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

func eventTypes() []EventTypeResponse {
	types := events.Types()
	res := make([]EventTypeResponse, 0, len(types))
	for _, t := range types {
		res = append(res, EventTypeResponse{Type: string(t), Family: string(t.Family()), Scope: auth.Scope(t)})
	}
	return res
}

// drafts decodes request events into drafts created by agent.
func drafts(agent domain.Agent, aggregateID int64, in []EventRequest) ([]events.Draft, error) {
	out := make([]events.Draft, 0, len(in))
	for _, req := range in {
		p, err := events.DecodePayload(events.Type(req.EventType), req.Data)
		if errors.Is(err, events.ErrUnknownType) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		d := events.NewDraft(agent, p)
		d.AggregateID = aggregateID
		if req.Created != nil {
			d.Created = *req.Created
		}
		out = append(out, d)
	}
	return out, nil
}
