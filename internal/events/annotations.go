package events

import "submitline/internal/domain"

// AddHold blocks a submission from moving on in moderation. Holds are keyed
// by the id of the event that placed them.
type AddHold struct {
	HoldType   domain.HoldType `json:"hold_type"`
	HoldReason string          `json:"hold_reason,omitempty"`
}

func (*AddHold) EventType() Type { return TypeAddHold }

func (p *AddHold) validate(e *Event, _ *domain.Submission) error {
	if !p.HoldType.Valid() {
		return e.invalid("Not a valid hold type: %s", p.HoldType)
	}
	return nil
}

func (p *AddHold) project(e *Event, s *domain.Submission) *domain.Submission {
	if s.Holds == nil {
		s.Holds = make(map[string]domain.Hold)
	}
	id := e.id()
	s.Holds[id] = domain.Hold{EventID: id, Created: e.Created, Creator: e.Creator, Type: p.HoldType, Reason: p.HoldReason}
	if s.Status == domain.StatusSubmitted {
		s.Status = domain.StatusOnHold
	}
	return s
}

type RemoveHold struct {
	HoldEventID   string `json:"hold_event_id"`
	RemovalReason string `json:"removal_reason,omitempty"`
}

func (*RemoveHold) EventType() Type { return TypeRemoveHold }

func (p *RemoveHold) validate(e *Event, s *domain.Submission) error {
	if _, ok := s.Holds[p.HoldEventID]; !ok {
		return e.invalid("No such hold")
	}
	return nil
}

func (p *RemoveHold) project(_ *Event, s *domain.Submission) *domain.Submission {
	delete(s.Holds, p.HoldEventID)
	if len(s.Holds) == 0 {
		s.Holds = nil
		if s.Status == domain.StatusOnHold {
			s.Status = domain.StatusSubmitted
		}
	}
	return s
}

type AddWaiver struct {
	WaiverType   domain.HoldType `json:"waiver_type"`
	WaiverReason string          `json:"waiver_reason,omitempty"`
}

func (*AddWaiver) EventType() Type { return TypeAddWaiver }

func (p *AddWaiver) validate(e *Event, _ *domain.Submission) error {
	if !p.WaiverType.Valid() {
		return e.invalid("Not a valid waiver type: %s", p.WaiverType)
	}
	return nil
}

func (p *AddWaiver) project(e *Event, s *domain.Submission) *domain.Submission {
	if s.Waivers == nil {
		s.Waivers = make(map[string]domain.Waiver)
	}
	id := e.id()
	s.Waivers[id] = domain.Waiver{EventID: id, Created: e.Created, Creator: e.Creator, Type: p.WaiverType, Reason: p.WaiverReason}
	return s
}

func addFlag(e *Event, s *domain.Submission, f domain.Flag) *domain.Submission {
	if s.Flags == nil {
		s.Flags = make(map[string]domain.Flag)
	}
	f.EventID = e.id()
	f.Created = e.Created
	f.Creator = e.Creator
	s.Flags[f.EventID] = f
	return s
}

func validFlagType(e *Event, family domain.FlagFamily, t string) error {
	if !domain.ValidFlagType(family, t) {
		return e.invalid("Not a valid flag type: %s", t)
	}
	return nil
}

type AddContentFlag struct {
	FlagType string         `json:"flag_type"`
	FlagData map[string]any `json:"flag_data,omitempty"`
	Comment  string         `json:"comment,omitempty"`
}

func (*AddContentFlag) EventType() Type { return TypeAddContentFlag }

func (p *AddContentFlag) validate(e *Event, _ *domain.Submission) error {
	return validFlagType(e, domain.FlagContent, p.FlagType)
}

func (p *AddContentFlag) project(e *Event, s *domain.Submission) *domain.Submission {
	return addFlag(e, s, domain.Flag{Family: domain.FlagContent, Type: p.FlagType, FlagData: p.FlagData, Comment: p.Comment})
}

type AddMetadataFlag struct {
	FlagType string         `json:"flag_type"`
	Field    string         `json:"field"`
	FlagData map[string]any `json:"flag_data,omitempty"`
	Comment  string         `json:"comment,omitempty"`
}

func (*AddMetadataFlag) EventType() Type { return TypeAddMetadataFlag }

func (p *AddMetadataFlag) validate(e *Event, _ *domain.Submission) error {
	if err := validFlagType(e, domain.FlagMetadata, p.FlagType); err != nil {
		return err
	}
	if !domain.ValidMetadataField(p.Field) {
		return e.invalid("Not a valid metadata field: %s", p.Field)
	}
	return nil
}

func (p *AddMetadataFlag) project(e *Event, s *domain.Submission) *domain.Submission {
	return addFlag(e, s, domain.Flag{Family: domain.FlagMetadata, Type: p.FlagType, Field: p.Field, FlagData: p.FlagData, Comment: p.Comment})
}

type AddUserFlag struct {
	FlagType string         `json:"flag_type"`
	FlagData map[string]any `json:"flag_data,omitempty"`
	Comment  string         `json:"comment,omitempty"`
}

func (*AddUserFlag) EventType() Type { return TypeAddUserFlag }

func (p *AddUserFlag) validate(e *Event, _ *domain.Submission) error {
	return validFlagType(e, domain.FlagUser, p.FlagType)
}

func (p *AddUserFlag) project(e *Event, s *domain.Submission) *domain.Submission {
	return addFlag(e, s, domain.Flag{Family: domain.FlagUser, Type: p.FlagType, FlagData: p.FlagData, Comment: p.Comment})
}

type RemoveFlag struct {
	FlagID string `json:"flag_id"`
}

func (*RemoveFlag) EventType() Type { return TypeRemoveFlag }

func (p *RemoveFlag) validate(e *Event, s *domain.Submission) error {
	if _, ok := s.Flags[p.FlagID]; !ok {
		return e.invalid("Unknown flag: %s", p.FlagID)
	}
	return nil
}

func (p *RemoveFlag) project(_ *Event, s *domain.Submission) *domain.Submission {
	delete(s.Flags, p.FlagID)
	if len(s.Flags) == 0 {
		s.Flags = nil
	}
	return s
}

// AddProposal suggests an event for a moderator to accept. The proposed
// event must be valid for the current state, as if its creator had applied
// it directly. A submission in moderation is checked as if it were still
// being worked on, since that is where proposals are accepted.
type AddProposal struct {
	ProposedEventType Type           `json:"proposed_event_type"`
	ProposedEventData map[string]any `json:"proposed_event_data,omitempty"`
	Comment           string         `json:"comment,omitempty"`
}

func (*AddProposal) EventType() Type { return TypeAddProposal }

func (p *AddProposal) validate(e *Event, s *domain.Submission) error {
	if p.ProposedEventType == "" {
		return e.invalid("Proposed event type is required")
	}
	payload, err := DecodePayload(p.ProposedEventType, p.ProposedEventData)
	if err != nil {
		return e.invalid("Proposed event is malformed: %v", err)
	}
	if n, ok := payload.(normalizer); ok {
		n.normalize()
	}
	target := s
	if s.IsFinalized() && !s.IsAnnounced() {
		target = s.Clone()
		target.Status = domain.StatusWorking
	}
	proposed := &Event{Creator: e.Creator, Created: e.Created, AggregateID: e.AggregateID, Payload: payload}
	if err := proposed.Validate(target); err != nil {
		return e.invalid("Proposed event is not valid: %v", err)
	}
	return nil
}

func (p *AddProposal) project(e *Event, s *domain.Submission) *domain.Submission {
	if s.Proposals == nil {
		s.Proposals = make(map[string]domain.Proposal)
	}
	id := e.id()
	prop := domain.Proposal{
		EventID:           id,
		Created:           e.Created,
		Creator:           e.Creator,
		ProposedEventType: string(p.ProposedEventType),
		ProposedEventData: domain.CloneData(p.ProposedEventData),
		Status:            domain.ProposalPending,
	}
	if p.Comment != "" {
		prop.Comments = []string{p.Comment}
	}
	s.Proposals[id] = prop
	return s
}

func pendingProposal(e *Event, s *domain.Submission, id string) error {
	prop, ok := s.Proposals[id]
	if !ok {
		return e.invalid("No such proposal %s", id)
	}
	if prop.Status != domain.ProposalPending {
		return e.invalid("%s is already %s", id, prop.Status)
	}
	return nil
}

func resolveProposal(s *domain.Submission, id string, status domain.ProposalStatus, comment string) *domain.Submission {
	prop := s.Proposals[id]
	prop.Status = status
	if comment != "" {
		prop.Comments = append(append([]string(nil), prop.Comments...), comment)
	}
	s.Proposals[id] = prop
	return s
}

// AcceptProposal only marks the proposal. The proposed event is emitted by
// the apply_accepted_proposal rule.
type AcceptProposal struct {
	ProposalID string `json:"proposal_id"`
	Comment    string `json:"comment,omitempty"`
}

func (*AcceptProposal) EventType() Type { return TypeAcceptProposal }

func (p *AcceptProposal) validate(e *Event, s *domain.Submission) error {
	return pendingProposal(e, s, p.ProposalID)
}

func (p *AcceptProposal) project(_ *Event, s *domain.Submission) *domain.Submission {
	return resolveProposal(s, p.ProposalID, domain.ProposalAccepted, p.Comment)
}

type RejectProposal struct {
	ProposalID string `json:"proposal_id"`
	Comment    string `json:"comment,omitempty"`
}

func (*RejectProposal) EventType() Type { return TypeRejectProposal }

func (p *RejectProposal) validate(e *Event, s *domain.Submission) error {
	return pendingProposal(e, s, p.ProposalID)
}

func (p *RejectProposal) project(_ *Event, s *domain.Submission) *domain.Submission {
	return resolveProposal(s, p.ProposalID, domain.ProposalRejected, p.Comment)
}

type AddProcessStatus struct {
	ProcessID string              `json:"process_id,omitempty"`
	Process   domain.Process      `json:"process"`
	Step      string              `json:"step,omitempty"`
	Status    domain.ProcessState `json:"status"`
	Reason    string              `json:"reason,omitempty"`
}

func (*AddProcessStatus) EventType() Type { return TypeAddProcessStatus }

func (p *AddProcessStatus) validate(e *Event, _ *domain.Submission) error {
	if p.Process == "" {
		return e.invalid("Must include process")
	}
	if !p.Status.Valid() {
		return e.invalid("Not a valid process status: %s", p.Status)
	}
	return nil
}

func (p *AddProcessStatus) project(e *Event, s *domain.Submission) *domain.Submission {
	s.ProcessStatus = append(s.ProcessStatus, domain.ProcessStatus{
		EventID:   e.id(),
		Created:   e.Created,
		Creator:   e.Creator,
		ProcessID: p.ProcessID,
		Process:   p.Process,
		Step:      p.Step,
		Status:    p.Status,
		Reason:    p.Reason,
	})
	return s
}

func addAnnotation(e *Event, s *domain.Submission, a domain.Annotation) *domain.Submission {
	if s.Annotations == nil {
		s.Annotations = make(map[string]domain.Annotation)
	}
	a.EventID = e.id()
	a.Created = e.Created
	a.Creator = e.Creator
	s.Annotations[a.EventID] = a
	return s
}

type AddFeature struct {
	FeatureType  string  `json:"feature_type"`
	FeatureValue float64 `json:"feature_value"`
}

func (*AddFeature) EventType() Type { return TypeAddFeature }

func (p *AddFeature) validate(e *Event, _ *domain.Submission) error {
	if p.FeatureType == "" {
		return e.invalid("Must include feature type")
	}
	return nil
}

func (p *AddFeature) project(e *Event, s *domain.Submission) *domain.Submission {
	return addAnnotation(e, s, domain.Annotation{FeatureType: p.FeatureType, FeatureValue: p.FeatureValue})
}

type AddClassifierResults struct {
	Classifier string                   `json:"classifier"`
	Results    []domain.ClassifierScore `json:"results"`
}

func (*AddClassifierResults) EventType() Type { return TypeAddClassifierResults }

func (p *AddClassifierResults) validate(e *Event, _ *domain.Submission) error {
	if p.Classifier == "" {
		return e.invalid("Must include classifier")
	}
	for _, r := range p.Results {
		if r.Probability < 0 || r.Probability > 1 {
			return e.invalid("Probability for %s must be between 0 and 1", r.Category)
		}
	}
	return nil
}

func (p *AddClassifierResults) project(e *Event, s *domain.Submission) *domain.Submission {
	results := append([]domain.ClassifierScore(nil), p.Results...)
	return addAnnotation(e, s, domain.Annotation{Classifier: p.Classifier, Results: results})
}

