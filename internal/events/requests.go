package events

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"submitline/internal/domain"
)

const withdrawalReasonMaxLength = 400

// RequestID derives the identifier of the n-th request of kind on an
// aggregate, counting from zero.
func RequestID(aggregateID int64, kind domain.RequestKind, n int) string {
	key := fmt.Sprintf("%d:%s:%d", aggregateID, kind, n)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func newRequest(e *Event, s *domain.Submission, kind domain.RequestKind) domain.UserRequest {
	return domain.UserRequest{
		RequestID: RequestID(s.AggregateID, kind, s.CountRequests(kind)),
		Kind:      kind,
		Created:   e.Created,
		Updated:   e.Created,
		Creator:   e.Creator,
		Status:    domain.RequestPending,
	}
}

func addRequest(s *domain.Submission, r domain.UserRequest) {
	if s.UserRequests == nil {
		s.UserRequests = make(map[string]domain.UserRequest)
	}
	s.UserRequests[r.RequestID] = r
}

type RequestWithdrawal struct {
	Reason string `json:"reason"`
}

func (*RequestWithdrawal) EventType() Type { return TypeRequestWithdrawal }

func (p *RequestWithdrawal) normalize() { p.Reason = strings.TrimSpace(p.Reason) }

func (p *RequestWithdrawal) validate(e *Event, s *domain.Submission) error {
	if err := noActiveRequests(e, s); err != nil {
		return err
	}
	if p.Reason == "" {
		return e.invalid("Provide a reason for the withdrawal")
	}
	if utf8.RuneCountInString(p.Reason) > withdrawalReasonMaxLength {
		return e.invalid("Reason must be %d characters or less", withdrawalReasonMaxLength)
	}
	return mustBeAnnounced(e, s)
}

func (p *RequestWithdrawal) project(e *Event, s *domain.Submission) *domain.Submission {
	r := newRequest(e, s, domain.RequestWithdrawal)
	r.Reason = p.Reason
	addRequest(s, r)
	s.Status = domain.StatusWithdrawalRequested
	return s
}

type RequestCrossList struct {
	Categories []string `json:"categories"`
}

func (*RequestCrossList) EventType() Type { return TypeRequestCrossList }

func (p *RequestCrossList) validate(e *Event, s *domain.Submission) error {
	if err := noActiveRequests(e, s); err != nil {
		return err
	}
	if err := mustBeAnnounced(e, s); err != nil {
		return err
	}
	if len(p.Categories) == 0 {
		return e.invalid("At least one category is required")
	}
	for _, c := range p.Categories {
		if err := check(
			func() error { return categoryIsValid(e, c) },
			func() error { return categoryNotPrimary(e, c, s) },
			func() error { return categoryNotSecondary(e, c, s) },
		); err != nil {
			return err
		}
	}
	return nil
}

func (p *RequestCrossList) project(e *Event, s *domain.Submission) *domain.Submission {
	r := newRequest(e, s, domain.RequestCrossList)
	r.Categories = append([]string(nil), p.Categories...)
	addRequest(s, r)
	return s
}

func lookupRequest(e *Event, s *domain.Submission, id string) (domain.UserRequest, error) {
	r, ok := s.UserRequests[id]
	if !ok {
		return r, e.invalid("No such request")
	}
	return r, nil
}

// settle moves request id to status. A withdrawal that did not go through
// returns the submission to announced.
func settle(e *Event, s *domain.Submission, id string, status domain.RequestStatus) *domain.Submission {
	r := s.UserRequests[id]
	r.Status = status
	r.Updated = e.Created
	s.UserRequests[id] = r
	if r.Kind == domain.RequestWithdrawal && s.Status == domain.StatusWithdrawalRequested {
		switch status {
		case domain.RequestCancelled, domain.RequestRejected, domain.RequestApplied:
			s.Status = domain.StatusAnnounced
		}
	}
	if status == domain.RequestApplied {
		r.ApplyTo(s)
	}
	return s
}

type CancelRequest struct {
	RequestID string `json:"request_id"`
}

func (*CancelRequest) EventType() Type { return TypeCancelRequest }

func (p *CancelRequest) validate(e *Event, s *domain.Submission) error {
	r, err := lookupRequest(e, s, p.RequestID)
	if err != nil {
		return err
	}
	if !r.IsActive() {
		return e.invalid("Request is not active")
	}
	return nil
}

func (p *CancelRequest) project(e *Event, s *domain.Submission) *domain.Submission {
	return settle(e, s, p.RequestID, domain.RequestCancelled)
}

type ApproveRequest struct {
	RequestID string `json:"request_id"`
}

func (*ApproveRequest) EventType() Type { return TypeApproveRequest }

func (p *ApproveRequest) validate(e *Event, s *domain.Submission) error {
	r, err := lookupRequest(e, s, p.RequestID)
	if err != nil {
		return err
	}
	if r.Status != domain.RequestPending {
		return e.invalid("Request must be pending")
	}
	return nil
}

func (p *ApproveRequest) project(e *Event, s *domain.Submission) *domain.Submission {
	return settle(e, s, p.RequestID, domain.RequestApproved)
}

type RejectRequest struct {
	RequestID string `json:"request_id"`
}

func (*RejectRequest) EventType() Type { return TypeRejectRequest }

func (p *RejectRequest) validate(e *Event, s *domain.Submission) error {
	r, err := lookupRequest(e, s, p.RequestID)
	if err != nil {
		return err
	}
	if !r.IsActive() {
		return e.invalid("Request is not active")
	}
	return nil
}

func (p *RejectRequest) project(e *Event, s *domain.Submission) *domain.Submission {
	return settle(e, s, p.RequestID, domain.RequestRejected)
}

type ApplyRequest struct {
	RequestID string `json:"request_id"`
}

func (*ApplyRequest) EventType() Type { return TypeApplyRequest }

func (p *ApplyRequest) validate(e *Event, s *domain.Submission) error {
	r, err := lookupRequest(e, s, p.RequestID)
	if err != nil {
		return err
	}
	if !r.IsActive() {
		return e.invalid("Request is not active")
	}
	return nil
}

func (p *ApplyRequest) project(e *Event, s *domain.Submission) *domain.Submission {
	return settle(e, s, p.RequestID, domain.RequestApplied)
}
