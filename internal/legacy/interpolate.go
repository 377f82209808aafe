package legacy

import (
	"log/slog"
	"sort"
	"time"

	"submitline/internal/domain"
	"submitline/internal/events"
)

// System is the creator of every event synthesized from a row.
var System = domain.System("legacy")

// Interpolator interleaves an event history with rows. Events synthesized
// from rows are created by System at the row's update time and are marked
// committed. They are projected without validation: the external system is
// authoritative for what it changed.
type Interpolator struct {
	Logger *slog.Logger
}

// Interpolate runs a single pass over history. The result is the merged
// state and every event applied to reach it, in order.
func (in Interpolator) Interpolate(rows []Row, history []*events.Event) (*domain.Submission, []*events.Event, error) {
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sorted := append([]Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Created.Before(sorted[j].Created) })
	for _, r := range sorted {
		if err := r.Check(); err != nil {
			return nil, nil, err
		}
	}
	p := &pass{
		rows:     sorted,
		patched:  make([]bool, len(sorted)),
		requests: map[domain.RequestKind]int{},
		log:      logger,
	}
	return p.run(history)
}

type pass struct {
	rows     []Row
	cur      int
	patched  []bool
	requests map[domain.RequestKind]int
	state    *domain.Submission
	applied  []*events.Event
	log      *slog.Logger
	// offset separates events synthesized from the same row so that they
	// keep distinct identities.
	offset time.Duration
}

func (p *pass) current() *Row {
	if p.cur >= len(p.rows) {
		return nil
	}
	return &p.rows[p.cur]
}

func (p *pass) run(history []*events.Event) (*domain.Submission, []*events.Event, error) {
	for _, ev := range history {
		if row := p.current(); row != nil && p.state != nil {
			if (p.precedes(row, ev) && row.IsAnnounced()) || p.shouldAdvance(ev) {
				if err := p.patch(); err != nil {
					return nil, nil, err
				}
			}
		}
		if p.shouldAdvance(ev) {
			p.advance()
		}
		if err := p.apply(ev); err != nil {
			return nil, nil, err
		}
		if p.shouldBackport(ev) {
			last := len(p.state.PastVersions) - 1
			back := ev.Project(&p.state.PastVersions[last])
			back.Updated = ev.Created
			p.state.PastVersions[last] = *back
		}
	}
	for p.current() != nil {
		if p.state == nil {
			row := p.current()
			return nil, nil, &ReconciliationError{AggregateID: row.AggregateID, RowID: row.ID, Reason: "rows without event history"}
		}
		if err := p.patch(); err != nil {
			return nil, nil, err
		}
		p.advance()
	}
	return p.state, p.applied, nil
}

// precedes allows one second of slack: row timestamps have no sub-second
// precision.
func (p *pass) precedes(row *Row, ev *events.Event) bool {
	return row.Updated.Sub(ev.Created) < -time.Second
}

func (p *pass) shouldAdvance(ev *events.Event) bool {
	next := p.cur + 1
	return next < len(p.rows) && !p.rows[next].Created.After(ev.Created)
}

func (p *pass) advance() {
	if row := p.current(); row != nil && row.IsRequest() {
		p.requests[row.RequestKind()]++
	}
	p.cur++
}

func (p *pass) shouldBackport(ev *events.Event) bool {
	switch ev.Type() {
	case events.TypeSetDOI, events.TypeSetJournalReference, events.TypeSetReportNumber:
	default:
		return false
	}
	last := p.state.LastVersion()
	return last != nil && last.Version == p.state.Version
}

func (p *pass) apply(ev *events.Event) error {
	next, err := ev.Apply(p.state)
	if err != nil {
		var aggregateID int64
		if p.state != nil {
			aggregateID = p.state.AggregateID
		}
		return &ReconciliationError{AggregateID: aggregateID, Reason: "event " + ev.String() + " does not apply", Err: err}
	}
	p.state = next
	p.applied = append(p.applied, ev)
	return nil
}

func (p *pass) canPatch(row *Row) bool {
	switch {
	case row.Version == 1:
		return true
	case row.IsRequest():
		return true
	default:
		return !row.IsDeleted()
	}
}

func (p *pass) patch() error {
	row := p.current()
	if p.patched[p.cur] || !p.canPatch(row) {
		return nil
	}
	p.patched[p.cur] = true
	p.offset = 0
	switch {
	case row.IsNewVersion():
		return p.patchVersion(row)
	case row.Type == RowJournalRef:
		p.patchJournalRef(row)
		return nil
	default:
		return p.patchRequest(row)
	}
}

func (p *pass) patchVersion(row *Row) error {
	if row.IsOnHold() && !p.state.HasHoldOfType(domain.HoldPatch) {
		p.inject(row, &events.AddHold{HoldType: domain.HoldPatch})
	}
	switch status, _ := StatusFor(row.Status); status {
	case domain.StatusScheduled, domain.StatusDeleted, domain.StatusError:
		p.state.Status = status
	}
	if row.Primary != "" {
		p.patchClassification(row)
	}
	p.patchMetadata(row)
	p.patchJournalRef(row)
	if !row.MustProcess && !p.state.IsSourceProcessed {
		p.inject(row, &events.ConfirmCompiledPreview{})
	}
	if row.IsAnnounced() && !p.state.IsAnnounced() && row.Version == p.state.Version {
		if row.PublishedID == "" {
			return &ReconciliationError{AggregateID: row.AggregateID, RowID: row.ID, Reason: "announced row has no published id"}
		}
		p.inject(row, &events.Announce{PublishedID: row.PublishedID})
	}
	return nil
}

// patchClassification makes the categories match the row. Secondaries the
// row drops, or that it promotes to primary, are removed before the primary
// changes so the primary never appears among the secondaries.
func (p *pass) patchClassification(row *Row) {
	listed := make(map[string]bool, len(row.Secondary))
	for _, c := range row.Secondary {
		listed[c] = true
	}
	for _, c := range p.state.SecondaryCategories() {
		if c == row.Primary || !listed[c] {
			p.inject(row, &events.RemoveSecondaryClassification{Category: c})
		}
	}
	if row.Primary != p.state.PrimaryCategory() {
		p.inject(row, &events.Reclassify{Category: row.Primary})
	}
	for _, c := range row.Secondary {
		if c != row.Primary && !p.state.HasSecondary(c) {
			p.inject(row, &events.AddSecondaryClassification{Category: c})
		}
	}
}

func (p *pass) patchMetadata(row *Row) {
	m := p.state.Metadata
	fields := []struct {
		have, want string
		payload    events.Payload
	}{
		{m.Title, row.Title, &events.SetTitle{Title: row.Title}},
		{m.Abstract, row.Abstract, &events.SetAbstract{Abstract: row.Abstract}},
		{m.Comments, row.Comments, &events.SetComments{Comments: row.Comments}},
		{m.MSCClass, row.MSCClass, &events.SetMSCClassification{MSCClass: row.MSCClass}},
		{m.ACMClass, row.ACMClass, &events.SetACMClassification{ACMClass: row.ACMClass}},
		{m.AuthorsDisplay, row.Authors, &events.SetAuthors{AuthorsDisplay: row.Authors}},
	}
	for _, f := range fields {
		if f.want != "" && f.want != f.have {
			p.inject(row, f.payload)
		}
	}
}

func (p *pass) patchJournalRef(row *Row) {
	m := p.state.Metadata
	if row.DOI != "" && row.DOI != m.DOI {
		p.inject(row, &events.SetDOI{DOI: row.DOI})
	}
	if row.JournalRef != "" && row.JournalRef != m.JournalRef {
		p.inject(row, &events.SetJournalReference{JournalRef: row.JournalRef})
	}
	if row.ReportNum != "" && row.ReportNum != m.ReportNum {
		p.inject(row, &events.SetReportNumber{ReportNum: row.ReportNum})
	}
}

// patchRequest settles the request a withdrawal or cross-list row tracks.
// The request normally originates here; when it does not, it is created
// from the row first.
func (p *pass) patchRequest(row *Row) error {
	kind := row.RequestKind()
	id := events.RequestID(p.state.AggregateID, kind, p.requests[kind])
	if _, ok := p.state.UserRequests[id]; !ok {
		n := p.state.CountRequests(kind)
		switch kind {
		case domain.RequestWithdrawal:
			p.injectAs(row, row.Submitter(), &events.RequestWithdrawal{Reason: row.Reason})
		default:
			p.injectAs(row, row.Submitter(), &events.RequestCrossList{Categories: row.Secondary})
		}
		id = events.RequestID(p.state.AggregateID, kind, n)
	}
	if !p.state.UserRequests[id].IsActive() {
		return nil
	}
	switch {
	case row.IsAnnounced():
		p.inject(row, &events.ApplyRequest{RequestID: id})
	case row.IsDeleted():
		p.inject(row, &events.CancelRequest{RequestID: id})
	case row.IsRejected():
		p.inject(row, &events.RejectRequest{RequestID: id})
	}
	return nil
}

func (p *pass) inject(row *Row, payload events.Payload) {
	p.injectAs(row, System, payload)
}

func (p *pass) injectAs(row *Row, creator domain.Agent, payload events.Payload) {
	d := events.NewDraft(creator, payload)
	d.AggregateID = p.state.AggregateID
	ev := d.Stamp(row.Updated.Add(p.offset))
	ev.Committed = true
	p.offset += time.Microsecond
	p.log.Debug("inject legacy event", "aggregate_id", p.state.AggregateID, "row_id", row.ID, "event", ev.String())

	next := ev.Project(p.state)
	next.Updated = ev.Created
	p.state = next
	p.applied = append(p.applied, ev)
}
