package domain

import "time"

type HoldType string

const (
	HoldPatch          HoldType = "patch"
	HoldSourceOversize HoldType = "source_oversize"
	HoldPDFOversize    HoldType = "pdf_oversize"
)

func (t HoldType) Valid() bool {
	switch t {
	case HoldPatch, HoldSourceOversize, HoldPDFOversize:
		return true
	}
	return false
}

type Hold struct {
	EventID string    `json:"event_id"`
	Created time.Time `json:"created" format:"date-time"`
	Creator Agent     `json:"creator"`
	Type    HoldType  `json:"hold_type"`
	Reason  string    `json:"hold_reason,omitempty"`
}

type Waiver struct {
	EventID string    `json:"event_id"`
	Created time.Time `json:"created" format:"date-time"`
	Creator Agent     `json:"creator"`
	Type    HoldType  `json:"waiver_type"`
	Reason  string    `json:"waiver_reason,omitempty"`
}

type FlagFamily string

const (
	FlagContent  FlagFamily = "content"
	FlagMetadata FlagFamily = "metadata"
	FlagUser     FlagFamily = "user"
)

var flagTypes = map[FlagFamily][]string{
	FlagContent:  {"low stopwords", "low stopword percentage", "language", "character set", "line numbers"},
	FlagMetadata: {"possible duplicate title", "language", "character_set"},
	FlagUser:     {"rate"},
}

// ValidFlagType reports whether flagType belongs to family.
func ValidFlagType(family FlagFamily, flagType string) bool {
	for _, t := range flagTypes[family] {
		if t == flagType {
			return true
		}
	}
	return false
}

// MetadataFields names the metadata attributes a metadata flag may target.
var MetadataFields = []string{
	"title", "abstract", "authors", "authors_display", "doi", "msc_class",
	"acm_class", "report_num", "journal_ref", "comments",
}

func ValidMetadataField(field string) bool {
	for _, f := range MetadataFields {
		if f == field {
			return true
		}
	}
	return false
}

type Flag struct {
	EventID  string         `json:"event_id"`
	Created  time.Time      `json:"created" format:"date-time"`
	Creator  Agent          `json:"creator"`
	Family   FlagFamily     `json:"flag_family" enum:"content,metadata,user"`
	Type     string         `json:"flag_type"`
	Field    string         `json:"field,omitempty"`
	FlagData map[string]any `json:"flag_data,omitempty"`
	Comment  string         `json:"comment,omitempty"`
}

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

type Proposal struct {
	EventID           string         `json:"event_id"`
	Created           time.Time      `json:"created" format:"date-time"`
	Creator           Agent          `json:"creator"`
	ProposedEventType string         `json:"proposed_event_type"`
	ProposedEventData map[string]any `json:"proposed_event_data,omitempty"`
	Comments          []string       `json:"comments,omitempty"`
	Status            ProposalStatus `json:"status" enum:"pending,accepted,rejected"`
}

type RequestKind string

const (
	RequestWithdrawal RequestKind = "withdrawal"
	RequestCrossList  RequestKind = "cross_list"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestApplied   RequestStatus = "applied"
	RequestCancelled RequestStatus = "cancelled"
)

type UserRequest struct {
	RequestID  string        `json:"request_id"`
	Kind       RequestKind   `json:"request_type" enum:"withdrawal,cross_list"`
	Created    time.Time     `json:"created" format:"date-time"`
	Updated    time.Time     `json:"updated" format:"date-time"`
	Creator    Agent         `json:"creator"`
	Status     RequestStatus `json:"status" enum:"pending,approved,rejected,applied,cancelled"`
	Reason     string        `json:"reason_for_withdrawal,omitempty"`
	Categories []string      `json:"categories,omitempty"`
}

func (r UserRequest) IsActive() bool {
	return r.Status == RequestPending || r.Status == RequestApproved
}

// ApplyTo makes the effect of an applied request visible on s.
func (r UserRequest) ApplyTo(s *Submission) {
	switch r.Kind {
	case RequestWithdrawal:
		s.ReasonForWithdrawal = r.Reason
	case RequestCrossList:
		for _, c := range r.Categories {
			if !s.HasSecondary(c) && s.PrimaryCategory() != c {
				s.Secondary = append(s.Secondary, Classification{Category: c})
			}
		}
	}
}

type Process string

const (
	ProcessPlainText      Process = "plaintext"
	ProcessClassification Process = "classification"
	ProcessOverlap        Process = "overlap"
	ProcessCompilation    Process = "compilation"
)

type ProcessState string

const (
	ProcessRequested  ProcessState = "requested"
	ProcessInProgress ProcessState = "in_progress"
	ProcessSucceeded  ProcessState = "succeeded"
	ProcessFailed     ProcessState = "failed"
	ProcessTerminated ProcessState = "terminated"
)

func (p ProcessState) Valid() bool {
	switch p {
	case ProcessRequested, ProcessInProgress, ProcessSucceeded, ProcessFailed, ProcessTerminated:
		return true
	}
	return false
}

type ProcessStatus struct {
	EventID   string       `json:"event_id"`
	Created   time.Time    `json:"created" format:"date-time"`
	Creator   Agent        `json:"creator"`
	ProcessID string       `json:"process_id,omitempty"`
	Process   Process      `json:"process"`
	Step      string       `json:"step,omitempty"`
	Status    ProcessState `json:"status" enum:"requested,in_progress,succeeded,failed,terminated"`
	Reason    string       `json:"reason,omitempty"`
}

type ClassifierScore struct {
	Category    string  `json:"category"`
	Probability float64 `json:"probability"`
}

// Annotation holds machine-generated observations that do not affect
// workflow state: feature counts and classifier output.
type Annotation struct {
	EventID      string            `json:"event_id"`
	Created      time.Time         `json:"created" format:"date-time"`
	Creator      Agent             `json:"creator"`
	FeatureType  string            `json:"feature_type,omitempty"`
	FeatureValue float64           `json:"feature_value,omitempty"`
	Classifier   string            `json:"classifier,omitempty"`
	Results      []ClassifierScore `json:"results,omitempty"`
}
