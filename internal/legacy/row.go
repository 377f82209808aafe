// Package legacy merges the event history of a submission with snapshots
// written directly by an external system of record.
package legacy

import (
	"context"
	"fmt"
	"time"

	"submitline/internal/domain"
)

type RowType string

const (
	RowNew         RowType = "new"
	RowReplacement RowType = "rep"
	RowJournalRef  RowType = "jref"
	RowWithdrawal  RowType = "wdr"
	RowCrossList   RowType = "cross"
)

func (t RowType) Valid() bool {
	switch t {
	case RowNew, RowReplacement, RowJournalRef, RowWithdrawal, RowCrossList:
		return true
	}
	return false
}

// Status codes used by the external system.
const (
	StatusNotSubmitted         = 0
	StatusSubmitted            = 1
	StatusOnHold               = 2
	StatusNextPublishDay       = 4
	StatusProcessing           = 5
	StatusNeedsEmail           = 6
	StatusPublished            = 7
	StatusProcessingSubmission = 8
	StatusRemoved              = 9
	StatusUserDeleted          = 10
	StatusError                = 19
	StatusDeletedExpired       = 20
	StatusDeletedOnHold        = 22
	StatusDeletedProcessing    = 25
	StatusDeletedPublished     = 27
	StatusDeletedRemoved       = 29
	StatusDeletedUser          = 30
)

var statusMap = map[int]domain.Status{
	StatusNotSubmitted:         domain.StatusWorking,
	StatusSubmitted:            domain.StatusSubmitted,
	StatusOnHold:               domain.StatusOnHold,
	StatusNextPublishDay:       domain.StatusScheduled,
	StatusProcessing:           domain.StatusScheduled,
	StatusNeedsEmail:           domain.StatusScheduled,
	StatusProcessingSubmission: domain.StatusScheduled,
	StatusPublished:            domain.StatusAnnounced,
	StatusDeletedPublished:     domain.StatusAnnounced,
	StatusRemoved:              domain.StatusDeleted,
	StatusUserDeleted:          domain.StatusDeleted,
	StatusDeletedExpired:       domain.StatusDeleted,
	StatusDeletedOnHold:        domain.StatusDeleted,
	StatusDeletedProcessing:    domain.StatusDeleted,
	StatusDeletedRemoved:       domain.StatusDeleted,
	StatusDeletedUser:          domain.StatusDeleted,
	StatusError:                domain.StatusError,
}

// StatusFor maps an external status code to a submission status.
func StatusFor(code int) (domain.Status, bool) {
	s, ok := statusMap[code]
	return s, ok
}

// Row is one snapshot of a submission as held by the external system. Each
// row has its own lifetime: a replacement, a withdrawal or a journal
// reference update each get a new row.
type Row struct {
	ID             int64     `json:"id" yaml:"id"`
	AggregateID    int64     `json:"aggregate_id" yaml:"aggregate_id"`
	Type           RowType   `json:"type" yaml:"type"`
	Version        int       `json:"version" yaml:"version"`
	Status         int       `json:"status" yaml:"status"`
	Created        time.Time `json:"created" yaml:"created"`
	Updated        time.Time `json:"updated" yaml:"updated"`
	PublishedID    string    `json:"published_id,omitempty" yaml:"published_id,omitempty"`
	SubmitterID    string    `json:"submitter_id,omitempty" yaml:"submitter_id,omitempty"`
	SubmitterEmail string    `json:"submitter_email,omitempty" yaml:"submitter_email,omitempty"`
	Primary        string    `json:"primary,omitempty" yaml:"primary,omitempty"`
	Secondary      []string  `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	Title          string    `json:"title,omitempty" yaml:"title,omitempty"`
	Abstract       string    `json:"abstract,omitempty" yaml:"abstract,omitempty"`
	Authors        string    `json:"authors,omitempty" yaml:"authors,omitempty"`
	Comments       string    `json:"comments,omitempty" yaml:"comments,omitempty"`
	MSCClass       string    `json:"msc_class,omitempty" yaml:"msc_class,omitempty"`
	ACMClass       string    `json:"acm_class,omitempty" yaml:"acm_class,omitempty"`
	DOI            string    `json:"doi,omitempty" yaml:"doi,omitempty"`
	JournalRef     string    `json:"journal_ref,omitempty" yaml:"journal_ref,omitempty"`
	ReportNum      string    `json:"report_num,omitempty" yaml:"report_num,omitempty"`
	Reason         string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	MustProcess    bool      `json:"must_process" yaml:"must_process"`
}

func (r Row) IsAnnounced() bool {
	return r.Status == StatusPublished || r.Status == StatusDeletedPublished
}

func (r Row) IsDeleted() bool {
	switch r.Status {
	case StatusUserDeleted, StatusDeletedExpired, StatusDeletedOnHold,
		StatusDeletedProcessing, StatusDeletedRemoved, StatusDeletedUser:
		return true
	}
	return false
}

func (r Row) IsOnHold() bool { return r.Status == StatusOnHold }

// IsRejected reports whether moderators removed the row.
func (r Row) IsRejected() bool { return r.Status == StatusRemoved }

func (r Row) IsScheduled() bool {
	s, _ := StatusFor(r.Status)
	return s == domain.StatusScheduled
}

func (r Row) IsError() bool { return r.Status == StatusError }

func (r Row) IsNewVersion() bool { return r.Type == RowNew || r.Type == RowReplacement }

func (r Row) IsRequest() bool { return r.Type == RowWithdrawal || r.Type == RowCrossList }

// RequestKind is the kind of user request a request row tracks.
func (r Row) RequestKind() domain.RequestKind {
	if r.Type == RowCrossList {
		return domain.RequestCrossList
	}
	return domain.RequestWithdrawal
}

// Submitter is the agent that created the row, or the legacy system when
// the row does not say.
func (r Row) Submitter() domain.Agent {
	if r.SubmitterID == "" {
		return System
	}
	return domain.User(r.SubmitterID, r.SubmitterEmail)
}

// Check reports rows the reconciliation cannot interpret.
func (r Row) Check() error {
	if !r.Type.Valid() {
		return &ReconciliationError{AggregateID: r.AggregateID, RowID: r.ID, Reason: fmt.Sprintf("unknown row type %q", r.Type)}
	}
	if _, ok := StatusFor(r.Status); !ok {
		return &ReconciliationError{AggregateID: r.AggregateID, RowID: r.ID, Reason: fmt.Sprintf("unknown status code %d", r.Status)}
	}
	if r.Created.IsZero() || r.Updated.IsZero() {
		return &ReconciliationError{AggregateID: r.AggregateID, RowID: r.ID, Reason: "row has no timestamps"}
	}
	return nil
}

// Source supplies the rows of an aggregate, in any order.
type Source interface {
	Rows(ctx context.Context, aggregateID int64) ([]Row, error)
}

// ReconciliationError is returned when rows and events combine in a way the
// interpolation cannot resolve. It is never recovered silently.
type ReconciliationError struct {
	AggregateID int64
	RowID       int64
	Reason      string
	Err         error
}

func (e *ReconciliationError) Error() string {
	msg := fmt.Sprintf("reconcile submission %d", e.AggregateID)
	if e.RowID != 0 {
		msg += fmt.Sprintf(" row %d", e.RowID)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
