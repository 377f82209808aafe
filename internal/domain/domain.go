package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusWorking             Status = "working"
	StatusSubmitted           Status = "submitted"
	StatusOnHold              Status = "on_hold"
	StatusScheduled           Status = "scheduled"
	StatusAnnounced           Status = "announced"
	StatusWithdrawalRequested Status = "withdrawal_requested"
	StatusDeleted             Status = "deleted"
	StatusError               Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWorking, StatusSubmitted, StatusOnHold, StatusScheduled,
		StatusAnnounced, StatusWithdrawalRequested, StatusDeleted, StatusError:
		return true
	}
	return false
}

type Author struct {
	Order       int    `json:"order"`
	Forename    string `json:"forename,omitempty"`
	Surname     string `json:"surname,omitempty"`
	Initials    string `json:"initials,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
	Email       string `json:"email,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
	Display     string `json:"display,omitempty"`
}

// Canonical renders "forename initials surname (affiliation)".
func (a Author) Canonical() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.Forename, a.Initials, a.Surname} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	name := strings.Join(parts, " ")
	if a.Affiliation != "" {
		return name + " (" + a.Affiliation + ")"
	}
	return name
}

type Metadata struct {
	Title          string   `json:"title,omitempty"`
	Abstract       string   `json:"abstract,omitempty"`
	Authors        []Author `json:"authors,omitempty"`
	AuthorsDisplay string   `json:"authors_display,omitempty"`
	DOI            string   `json:"doi,omitempty"`
	MSCClass       string   `json:"msc_class,omitempty"`
	ACMClass       string   `json:"acm_class,omitempty"`
	ReportNum      string   `json:"report_num,omitempty"`
	JournalRef     string   `json:"journal_ref,omitempty"`
	Comments       string   `json:"comments,omitempty"`
}

type SourceContent struct {
	Identifier       string `json:"identifier"`
	Checksum         string `json:"checksum"`
	UncompressedSize int64  `json:"uncompressed_size"`
	CompressedSize   int64  `json:"compressed_size"`
	SourceFormat     string `json:"source_format,omitempty"`
}

type Preview struct {
	SourceID       string    `json:"source_id"`
	SourceChecksum string    `json:"source_checksum"`
	Checksum       string    `json:"preview_checksum"`
	Size           int64     `json:"size_bytes"`
	Added          time.Time `json:"added" format:"date-time"`
}

type Classification struct {
	Category string `json:"category"`
}

type License struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// Submission is the aggregate root. Its state is a projection of its event
// history; nothing else writes to it.
type Submission struct {
	AggregateID int64      `json:"aggregate_id"`
	Status      Status     `json:"status" enum:"working,submitted,on_hold,scheduled,announced,withdrawal_requested,deleted,error"`
	Version     int        `json:"version"`
	Creator     Agent      `json:"creator"`
	Owner       Agent      `json:"owner"`
	Proxy       *Agent     `json:"proxy,omitempty"`
	Client      *Agent     `json:"client,omitempty"`
	Created     time.Time  `json:"created" format:"date-time"`
	Updated     time.Time  `json:"updated" format:"date-time"`
	Submitted   *time.Time `json:"submitted,omitempty" format:"date-time"`

	Metadata      Metadata         `json:"metadata"`
	SourceContent *SourceContent   `json:"source_content,omitempty"`
	Primary       *Classification  `json:"primary_classification,omitempty"`
	Secondary     []Classification `json:"secondary_classification,omitempty"`
	License       *License         `json:"license,omitempty"`

	SubmitterContactVerified  bool  `json:"submitter_contact_verified"`
	SubmitterIsAuthor         *bool `json:"submitter_is_author,omitempty"`
	SubmitterAcceptsPolicy    bool  `json:"submitter_accepts_policy"`
	SubmitterConfirmedPreview bool  `json:"submitter_confirmed_preview"`

	IsSourceProcessed bool     `json:"is_source_processed"`
	Preview           *Preview `json:"preview,omitempty"`

	PublishedID         string `json:"published_id,omitempty"`
	ReasonForWithdrawal string `json:"reason_for_withdrawal,omitempty"`

	PastVersions  []Submission           `json:"past_versions,omitempty"`
	Holds         map[string]Hold        `json:"holds,omitempty"`
	Waivers       map[string]Waiver      `json:"waivers,omitempty"`
	Flags         map[string]Flag        `json:"flags,omitempty"`
	Proposals     map[string]Proposal    `json:"proposals,omitempty"`
	UserRequests  map[string]UserRequest `json:"user_requests,omitempty"`
	ProcessStatus []ProcessStatus        `json:"process_status,omitempty"`
	Annotations   map[string]Annotation  `json:"annotations,omitempty"`
}

func (s *Submission) IsFinalized() bool {
	switch s.Status {
	case StatusSubmitted, StatusOnHold, StatusScheduled, StatusAnnounced, StatusWithdrawalRequested:
		return true
	}
	return false
}

func (s *Submission) IsAnnounced() bool {
	return s.Status == StatusAnnounced || s.Status == StatusWithdrawalRequested
}

func (s *Submission) IsActive() bool {
	return s.Status != StatusDeleted
}

func (s *Submission) PrimaryCategory() string {
	if s.Primary == nil {
		return ""
	}
	return s.Primary.Category
}

func (s *Submission) SecondaryCategories() []string {
	out := make([]string, 0, len(s.Secondary))
	for _, c := range s.Secondary {
		out = append(out, c.Category)
	}
	return out
}

func (s *Submission) HasSecondary(category string) bool {
	for _, c := range s.Secondary {
		if c.Category == category {
			return true
		}
	}
	return false
}

// HasActiveRequests reports whether any user request is pending or approved.
func (s *Submission) HasActiveRequests() bool {
	for _, r := range s.UserRequests {
		if r.IsActive() {
			return true
		}
	}
	return false
}

// CountRequests counts requests of kind, whatever their status.
func (s *Submission) CountRequests(kind RequestKind) int {
	n := 0
	for _, r := range s.UserRequests {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// LastVersion returns the most recent announced snapshot, or nil.
func (s *Submission) LastVersion() *Submission {
	if len(s.PastVersions) == 0 {
		return nil
	}
	return &s.PastVersions[len(s.PastVersions)-1]
}

func (s *Submission) HasHoldOfType(t HoldType) bool {
	for _, h := range s.Holds {
		if h.Type == t {
			return true
		}
	}
	return false
}
