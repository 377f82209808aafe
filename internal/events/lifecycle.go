package events

import (
	"time"

	"submitline/internal/domain"
)

// CreateSubmission starts a new aggregate owned by its creator.
type CreateSubmission struct{}

func (*CreateSubmission) EventType() Type { return TypeCreateSubmission }

func (*CreateSubmission) validate(*Event, *domain.Submission) error { return nil }

func (*CreateSubmission) project(e *Event, _ *domain.Submission) *domain.Submission {
	s := &domain.Submission{
		AggregateID: e.AggregateID,
		Status:      domain.StatusWorking,
		Version:     1,
		Creator:     e.Creator,
		Owner:       e.Creator,
		Created:     e.Created,
		Updated:     e.Created,
	}
	if e.Proxy != nil {
		p := *e.Proxy
		s.Proxy = &p
	}
	if e.Client != nil {
		c := *e.Client
		s.Client = &c
	}
	return s
}

// CreateSubmissionVersion opens a new working version of an announced
// submission.
type CreateSubmissionVersion struct{}

func (*CreateSubmissionVersion) EventType() Type { return TypeCreateSubmissionVersion }

func (*CreateSubmissionVersion) validate(e *Event, s *domain.Submission) error {
	if !s.IsAnnounced() {
		return e.invalid("Must already be announced")
	}
	return noActiveRequests(e, s)
}

func (*CreateSubmissionVersion) project(e *Event, s *domain.Submission) *domain.Submission {
	s.Version++
	s.Status = domain.StatusWorking
	s.Submitted = nil
	s.SourceContent = nil
	s.License = nil
	s.SubmitterContactVerified = false
	s.SubmitterIsAuthor = nil
	s.SubmitterAcceptsPolicy = false
	s.SubmitterConfirmedPreview = false
	s.IsSourceProcessed = false
	s.Preview = nil
	return s
}

// Rollback discards the working version: the record reverts to its last
// announced version, or is deleted if it was never announced.
type Rollback struct{}

func (*Rollback) EventType() Type { return TypeRollback }

func (*Rollback) validate(e *Event, s *domain.Submission) error {
	if s.IsAnnounced() {
		return e.invalid("Cannot already be announced")
	}
	if s.Version > 1 && len(s.PastVersions) == 0 {
		return e.invalid("No announced version to which to revert")
	}
	return nil
}

func (*Rollback) project(e *Event, s *domain.Submission) *domain.Submission {
	if s.Version == 1 {
		s.Status = domain.StatusDeleted
		return s
	}
	s.Version--
	target := s.LastVersion().Clone()
	s.Status = target.Status
	s.Submitted = target.Submitted
	s.SourceContent = target.SourceContent
	s.SubmitterContactVerified = target.SubmitterContactVerified
	s.SubmitterAcceptsPolicy = target.SubmitterAcceptsPolicy
	s.SubmitterConfirmedPreview = target.SubmitterConfirmedPreview
	s.IsSourceProcessed = target.IsSourceProcessed
	s.Preview = target.Preview
	s.License = target.License
	s.Metadata = target.Metadata
	return s
}

// FinalizeSubmission sends the submission for moderation.
type FinalizeSubmission struct{}

func (*FinalizeSubmission) EventType() Type { return TypeFinalizeSubmission }

func (*FinalizeSubmission) validate(e *Event, s *domain.Submission) error {
	if s.IsFinalized() {
		return e.invalid("Submission already finalized")
	}
	if !s.IsActive() {
		return e.invalid("Submission must be active")
	}
	required := []struct {
		name    string
		present bool
	}{
		{"creator", !s.Creator.IsZero()},
		{"primary_classification", s.Primary != nil},
		{"submitter_contact_verified", s.SubmitterContactVerified},
		{"submitter_accepts_policy", s.SubmitterAcceptsPolicy},
		{"license", s.License != nil},
		{"source_content", s.SourceContent != nil},
		{"title", s.Metadata.Title != ""},
		{"abstract", s.Metadata.Abstract != ""},
		{"authors_display", s.Metadata.AuthorsDisplay != ""},
	}
	for _, r := range required {
		if !r.present {
			return e.invalid("Missing %s", r.name)
		}
	}
	return nil
}

func (*FinalizeSubmission) project(e *Event, s *domain.Submission) *domain.Submission {
	s.Status = domain.StatusSubmitted
	t := e.Created
	s.Submitted = &t
	return s
}

// UnFinalizeSubmission withdraws a finalized submission from moderation.
type UnFinalizeSubmission struct{}

func (*UnFinalizeSubmission) EventType() Type { return TypeUnFinalizeSubmission }

func (*UnFinalizeSubmission) validate(e *Event, s *domain.Submission) error {
	if !s.IsFinalized() {
		return e.invalid("Submission is not finalized")
	}
	if s.IsAnnounced() {
		return e.invalid("Cannot unfinalize an announced paper")
	}
	return nil
}

func (*UnFinalizeSubmission) project(e *Event, s *domain.Submission) *domain.Submission {
	s.Status = domain.StatusWorking
	s.Submitted = nil
	return s
}

// Announce records publication under a canonical identifier. In practice it
// is only generated by the system.
type Announce struct {
	PublishedID string `json:"published_id"`
}

func (*Announce) EventType() Type { return TypeAnnounce }

func (a *Announce) validate(e *Event, s *domain.Submission) error {
	if a.PublishedID == "" {
		return e.invalid("Published identifier is required")
	}
	if !s.IsActive() {
		return e.invalid("Submission must be active")
	}
	return nil
}

func (a *Announce) project(e *Event, s *domain.Submission) *domain.Submission {
	s.PublishedID = a.PublishedID
	s.Status = domain.StatusAnnounced
	snap := s.Clone()
	snap.PastVersions = nil
	snap.Updated = e.Created
	s.PastVersions = append(s.PastVersions, *snap)
	return s
}

type ConfirmContactInformation struct{}

func (*ConfirmContactInformation) EventType() Type { return TypeConfirmContactInformation }

func (*ConfirmContactInformation) validate(e *Event, s *domain.Submission) error {
	return notFinalized(e, s)
}

func (*ConfirmContactInformation) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.SubmitterContactVerified = true
	return s
}

type ConfirmAuthorship struct {
	SubmitterIsAuthor bool `json:"submitter_is_author"`
}

func (*ConfirmAuthorship) EventType() Type { return TypeConfirmAuthorship }

func (*ConfirmAuthorship) validate(e *Event, s *domain.Submission) error {
	return notFinalized(e, s)
}

func (c *ConfirmAuthorship) project(_ *Event, s *domain.Submission) *domain.Submission {
	v := c.SubmitterIsAuthor
	s.SubmitterIsAuthor = &v
	return s
}

type ConfirmPolicy struct{}

func (*ConfirmPolicy) EventType() Type { return TypeConfirmPolicy }

func (*ConfirmPolicy) validate(e *Event, s *domain.Submission) error {
	return notFinalized(e, s)
}

func (*ConfirmPolicy) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.SubmitterAcceptsPolicy = true
	return s
}

// ConfirmPreview records that the submitter looked at the compiled preview.
// When both sides carry a checksum they must agree.
type ConfirmPreview struct {
	PreviewChecksum string `json:"preview_checksum,omitempty"`
}

func (*ConfirmPreview) EventType() Type { return TypeConfirmPreview }

func (c *ConfirmPreview) validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if c.PreviewChecksum != "" && s.Preview != nil && s.Preview.Checksum != c.PreviewChecksum {
		return e.invalid("Checksum %s does not match current preview", c.PreviewChecksum)
	}
	return nil
}

func (*ConfirmPreview) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.SubmitterConfirmedPreview = true
	return s
}

// ConfirmSourceProcessed attaches the preview built from the current source.
type ConfirmSourceProcessed struct {
	SourceID        string    `json:"source_id"`
	SourceChecksum  string    `json:"source_checksum"`
	PreviewChecksum string    `json:"preview_checksum"`
	SizeBytes       int64     `json:"size_bytes"`
	Added           time.Time `json:"added"`
}

func (*ConfirmSourceProcessed) EventType() Type { return TypeConfirmSourceProcessed }

func (*ConfirmSourceProcessed) validate(e *Event, s *domain.Submission) error {
	return notFinalized(e, s)
}

func (c *ConfirmSourceProcessed) project(e *Event, s *domain.Submission) *domain.Submission {
	added := c.Added
	if added.IsZero() {
		added = e.Created
	}
	s.IsSourceProcessed = true
	s.Preview = &domain.Preview{
		SourceID:       c.SourceID,
		SourceChecksum: c.SourceChecksum,
		Checksum:       c.PreviewChecksum,
		Size:           c.SizeBytes,
		Added:          added,
	}
	return s
}

type UnConfirmSourceProcessed struct{}

func (*UnConfirmSourceProcessed) EventType() Type { return TypeUnConfirmSourceProcessed }

func (*UnConfirmSourceProcessed) validate(e *Event, s *domain.Submission) error {
	return notFinalized(e, s)
}

func (*UnConfirmSourceProcessed) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.IsSourceProcessed = false
	s.Preview = nil
	s.SubmitterConfirmedPreview = false
	return s
}

// ConfirmCompiledPreview is emitted when legacy rows report that the source
// compiled without further processing.
type ConfirmCompiledPreview struct{}

func (*ConfirmCompiledPreview) EventType() Type { return TypeConfirmCompiledPreview }

func (*ConfirmCompiledPreview) validate(*Event, *domain.Submission) error { return nil }

func (*ConfirmCompiledPreview) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.IsSourceProcessed = true
	return s
}
