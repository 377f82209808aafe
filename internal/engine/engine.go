// Package engine saves and loads submissions. A save validates each new
// event against the state its predecessors produced, stores event and state
// together, and feeds the result to the rule registry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"submitline/internal/domain"
	"submitline/internal/events"
	"submitline/internal/legacy"
	"submitline/internal/notify"
	"submitline/internal/rules"
	"submitline/internal/store"
)

var (
	ErrNothingToDo = errors.New("no events to save")
	// ErrNoSuchSubmission matches store.ErrNotFound with errors.Is.
	ErrNoSuchSubmission = fmt.Errorf("no such submission: %w", store.ErrNotFound)
	// ErrEventCollision is returned when an event id already in the history
	// arrives with a different payload.
	ErrEventCollision = errors.New("event id collides with a different event")
	// ErrUnorderedBatch is returned when the preset times of a batch do not
	// strictly increase. Such a batch could not be retried idempotently.
	ErrUnorderedBatch = errors.New("preset event times must strictly increase within a batch")
)

// maxRuleDepth bounds how far consequences of consequences are followed
// inline.
const maxRuleDepth = 8

type Options struct {
	Rules     *rules.Registry
	Publisher notify.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
	// Callbacks enables rule dispatch after each stored event.
	Callbacks bool
	// Legacy reconciles loaded history with legacy rows.
	Legacy bool
	// Workers and QueueSize size the deferred rule worker.
	Workers   int
	QueueSize int
}

type Engine struct {
	Store        store.Store
	Rules        *rules.Registry
	Publisher    notify.Publisher
	Interpolator legacy.Interpolator
	Logger       *slog.Logger
	Now          func() time.Time
	Callbacks    bool
	Legacy       bool
	Worker       *Worker

	locks *lockset
}

// New builds an engine and freezes its rule registry. The worker is created
// but not started; deferred rules run inline after commit until it is.
func New(st store.Store, opts Options) *Engine {
	if opts.Rules == nil {
		opts.Rules = rules.NewRegistry()
	}
	opts.Rules.Freeze()
	e := &Engine{
		Store:     st,
		Rules:     opts.Rules,
		Publisher: opts.Publisher,
		Logger:    opts.Logger,
		Now:       opts.Now,
		Callbacks: opts.Callbacks,
		Legacy:    opts.Legacy,
		locks:     newLockset(),
	}
	e.Interpolator = legacy.Interpolator{Logger: e.logger()}
	e.Worker = newWorker(e, opts.Workers, opts.QueueSize)
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Save applies drafts to submission id, or to a new submission when id is
// zero. It returns the resulting state and the full event history.
func (e *Engine) Save(ctx context.Context, id int64, drafts ...events.Draft) (*domain.Submission, []*events.Event, error) {
	state, history, jobs, err := e.save(ctx, id, drafts)
	if err != nil {
		return nil, nil, err
	}
	for _, j := range jobs {
		if e.Worker != nil && e.Worker.Running() {
			if err := e.Worker.enqueue(ctx, j); err == nil {
				continue
			} else if !errors.Is(err, ErrWorkerStopped) {
				e.logger().Warn("deferred rule not queued", "rule", j.rule.String(), "err", err)
				continue
			}
		}
		s, evs, err := e.runDeferred(ctx, j)
		if err != nil {
			e.logger().Error("deferred rule failed", "rule", j.rule.String(), "event_id", j.event.MustID(), "err", err)
			continue
		}
		if s != nil {
			state, history = s, evs
		}
	}
	return state, history, nil
}

func (e *Engine) save(ctx context.Context, id int64, drafts []events.Draft) (*domain.Submission, []*events.Event, []job, error) {
	if len(drafts) == 0 {
		return nil, nil, nil, ErrNothingToDo
	}
	if id == 0 && drafts[0].Type() != events.TypeCreateSubmission {
		return nil, nil, nil, ErrNoSuchSubmission
	}
	if err := checkPresetOrder(drafts); err != nil {
		return nil, nil, nil, err
	}
	if id != 0 {
		unlock := e.locks.lock(id)
		defer unlock()
	}

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, nil, nil, &store.SaveError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	s := &saveRun{engine: e, tx: tx, known: map[string]*events.Event{}}
	if id != 0 {
		_, stored, err := tx.GetSubmission(ctx, id, true)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil, fmt.Errorf("%w: %d", ErrNoSuchSubmission, id)
		}
		if err != nil {
			return nil, nil, nil, err
		}
		state, history, err := e.reconcile(ctx, id, stored)
		if err != nil {
			return nil, nil, nil, err
		}
		s.state = state
		s.history = history
		for _, ev := range history {
			s.known[ev.MustID()] = ev
			if ev.Created.After(s.latest) {
				s.latest = ev.Created
			}
		}
	}

	for _, d := range drafts {
		if err := s.apply(ctx, d, 0); err != nil {
			return nil, nil, nil, err
		}
	}
	if len(s.added) == 0 {
		return s.state, s.history, nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, nil, &store.SaveError{Op: "commit", Err: err}
	}
	e.publish(ctx, s.added)
	return s.state, mergeEvents(s.history, s.added), s.jobs, nil
}

// checkPresetOrder requires preset times, compared at stored precision, to
// strictly increase across the batch. Drafts without a preset are ignored.
func checkPresetOrder(drafts []events.Draft) error {
	var prev time.Time
	for i, d := range drafts {
		if d.Created.IsZero() {
			continue
		}
		created := d.Created.UTC().Truncate(time.Microsecond)
		if !prev.IsZero() && !created.After(prev) {
			return fmt.Errorf("%w: draft %d at %s", ErrUnorderedBatch, i, created.Format(time.RFC3339Nano))
		}
		prev = created
	}
	return nil
}

// saveRun is the state of one Save call.
type saveRun struct {
	engine  *Engine
	tx      store.Tx
	state   *domain.Submission
	history []*events.Event
	added   []*events.Event
	known   map[string]*events.Event
	latest  time.Time
	jobs    []job
}

func (s *saveRun) stamp(d events.Draft) *events.Event {
	created := d.Created
	if created.IsZero() {
		created = s.engine.now()
	}
	ev := d.Stamp(created)
	if _, dup := s.known[ev.MustID()]; !dup && !ev.Created.After(s.latest) {
		ev.Created = s.latest.Add(time.Microsecond)
	}
	if s.state != nil {
		ev.AggregateID = s.state.AggregateID
	}
	return ev
}

func (s *saveRun) apply(ctx context.Context, d events.Draft, depth int) error {
	if d.Payload == nil {
		return events.ErrUnknownType
	}
	ev := s.stamp(d)
	if prior, ok := s.known[ev.MustID()]; ok {
		if !events.SameContent(prior, ev) {
			return fmt.Errorf("%w: %s", ErrEventCollision, ev.MustID())
		}
		s.engine.logger().Debug("skipping duplicate event", "event_id", ev.MustID())
		return nil
	}
	before := s.state
	next, err := ev.Apply(before)
	if err != nil {
		return err
	}
	stored, after, err := s.tx.StoreEvent(ctx, ev, before, next)
	if err != nil {
		var saveErr *store.SaveError
		if errors.As(err, &saveErr) {
			return err
		}
		return &store.SaveError{Op: "store event", Err: err}
	}
	s.state = after
	s.latest = stored.Created
	s.known[stored.MustID()] = stored
	s.added = append(s.added, stored)

	if s.engine.Callbacks {
		return s.dispatch(ctx, stored, before, after, depth)
	}
	return nil
}

// dispatch runs the rules that match ev. A rule that fails, or whose
// consequence does not validate, is logged and skipped; whatever it stored
// before failing stays.
func (s *saveRun) dispatch(ctx context.Context, ev *events.Event, before, after *domain.Submission, depth int) error {
	log := s.engine.logger()
	for _, rule := range s.engine.Rules.Match(ev, before, after) {
		if rule.Deferred {
			s.jobs = append(s.jobs, job{rule: rule, event: ev, before: before, after: after})
			continue
		}
		if depth >= maxRuleDepth {
			log.Warn("rule depth exceeded", "rule", rule.String(), "event_id", ev.MustID())
			continue
		}
		drafts, err := rule.Run(ctx, ev, before, after)
		if err != nil {
			log.Error("rule failed", "rule", rule.String(), "event_id", ev.MustID(), "err", err)
			continue
		}
		for _, d := range drafts {
			err := s.apply(ctx, d, depth+1)
			var saveErr *store.SaveError
			if errors.As(err, &saveErr) {
				return err
			}
			if err != nil {
				log.Error("rule produced an invalid event", "rule", rule.String(), "event_id", ev.MustID(), "err", err)
				break
			}
		}
	}
	return nil
}

func (e *Engine) runDeferred(ctx context.Context, j job) (*domain.Submission, []*events.Event, error) {
	drafts, err := j.rule.Run(ctx, j.event, j.before, j.after)
	if err != nil {
		return nil, nil, err
	}
	if len(drafts) == 0 {
		return nil, nil, nil
	}
	return e.Save(ctx, j.after.AggregateID, drafts...)
}

func (e *Engine) publish(ctx context.Context, added []*events.Event) {
	if e.Publisher == nil {
		return
	}
	for _, ev := range added {
		if err := e.Publisher.Publish(ctx, ev); err != nil {
			e.logger().Warn("publish failed", "event_id", ev.MustID(), "err", err)
		}
	}
}

// reconcile replays history, interleaving legacy rows when enabled.
func (e *Engine) reconcile(ctx context.Context, id int64, history []*events.Event) (*domain.Submission, []*events.Event, error) {
	var rows []legacy.Row
	if e.Legacy {
		var err error
		rows, err = e.Store.Rows(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load legacy rows: %w", err)
		}
	}
	return e.Interpolator.Interpolate(rows, history)
}

// Load returns the reconciled state of a submission and its history.
func (e *Engine) Load(ctx context.Context, id int64) (*domain.Submission, []*events.Event, error) {
	history, err := e.Store.GetEvents(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %d", ErrNoSuchSubmission, id)
	}
	if err != nil {
		return nil, nil, err
	}
	return e.reconcile(ctx, id, history)
}

// LoadFast returns the stored snapshot without replaying history or
// consulting legacy rows.
func (e *Engine) LoadFast(ctx context.Context, id int64) (*domain.Submission, error) {
	s, err := e.Store.Snapshot(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchSubmission, id)
	}
	return s, err
}

func (e *Engine) List(ctx context.Context, owner domain.Agent) ([]*domain.Submission, error) {
	return e.Store.ListByOwner(ctx, owner)
}

// mergeEvents combines two event lists, dropping repeated ids and ordering
// by creation time.
func mergeEvents(a, b []*events.Event) []*events.Event {
	seen := map[string]bool{}
	out := make([]*events.Event, 0, len(a)+len(b))
	for _, list := range [][]*events.Event{a, b} {
		for _, ev := range list {
			id := ev.MustID()
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}
