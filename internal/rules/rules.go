// Package rules binds callbacks to event types. A callback sees an event
// together with the state before and after it and may return further events
// as consequences; the engine saves those on behalf of a system agent named
// after the rule.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"submitline/internal/domain"
	"submitline/internal/events"
)

var (
	// ErrFrozen is returned when registering on a registry already handed to
	// an engine.
	ErrFrozen    = errors.New("rule registry is frozen")
	ErrDuplicate = errors.New("rule already registered")
)

// Condition decides whether a rule fires for an event.
type Condition func(ev *events.Event, before, after *domain.Submission) bool

// Callback produces consequence drafts. creator is the agent the drafts will
// be saved as; setting it on the drafts is optional.
type Callback func(ctx context.Context, ev *events.Event, before, after *domain.Submission, creator domain.Agent) ([]events.Draft, error)

// NotSystem is the default condition: rules do not react to events created
// by system agents, which includes the consequences of other rules.
func NotSystem(ev *events.Event, _, _ *domain.Submission) bool {
	return !ev.Creator.IsSystem()
}

// Always fires unconditionally.
func Always(*events.Event, *domain.Submission, *domain.Submission) bool { return true }

type Rule struct {
	Name      string
	Type      events.Type
	Condition Condition
	Callback  Callback
	Deferred  bool
}

// Creator is the agent consequence events are saved as.
func (r Rule) Creator() domain.Agent {
	return domain.System(r.String())
}

func (r Rule) String() string {
	return string(r.Type) + "::" + r.Name
}

// Run invokes the callback and binds each resulting draft to the rule's
// creator and the event's aggregate.
func (r Rule) Run(ctx context.Context, ev *events.Event, before, after *domain.Submission) ([]events.Draft, error) {
	creator := r.Creator()
	drafts, err := r.Callback(ctx, ev, before, after, creator)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r, err)
	}
	out := make([]events.Draft, 0, len(drafts))
	for _, d := range drafts {
		if d.Payload == nil {
			continue
		}
		d.Creator = creator
		d.Proxy = nil
		d.Client = nil
		if after != nil {
			d.AggregateID = after.AggregateID
		}
		out = append(out, d)
	}
	return out, nil
}

type Option func(*Rule)

// Deferred runs the rule on the engine's worker instead of inline.
func Deferred() Option {
	return func(r *Rule) { r.Deferred = true }
}

type Registry struct {
	mu     sync.RWMutex
	frozen bool
	byType map[events.Type][]Rule
	names  map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{byType: map[events.Type][]Rule{}, names: map[string]bool{}}
}

// Binding is an event type and condition waiting for a callback.
type Binding struct {
	reg  *Registry
	typ  events.Type
	cond Condition
}

// Bind starts a registration for t, which may be a concrete type, a family
// or events.AnyType. A nil condition means NotSystem.
func (r *Registry) Bind(t events.Type, cond Condition) Binding {
	if cond == nil {
		cond = NotSystem
	}
	return Binding{reg: r, typ: t, cond: cond}
}

func (b Binding) Register(name string, cb Callback, opts ...Option) error {
	if name == "" {
		return errors.New("rule name is required")
	}
	if cb == nil {
		return errors.New("rule callback is required")
	}
	if b.typ != events.AnyType && !events.IsFamily(b.typ) && !b.typ.Known() {
		return fmt.Errorf("%w: %s", events.ErrUnknownType, b.typ)
	}
	rule := Rule{Name: name, Type: b.typ, Condition: b.cond, Callback: cb}
	for _, opt := range opts {
		opt(&rule)
	}
	r := b.reg
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	if r.names[rule.String()] {
		return fmt.Errorf("%w: %s", ErrDuplicate, rule)
	}
	r.names[rule.String()] = true
	r.byType[b.typ] = append(r.byType[b.typ], rule)
	return nil
}

// Freeze stops further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Match returns the rules that fire for ev: wildcard rules first, then
// family rules, then rules bound to the exact type, each in registration
// order.
func (r *Registry) Match(ev *events.Event, before, after *domain.Submission) []Rule {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Rule
	levels := []events.Type{events.AnyType, ev.Type().Family(), ev.Type()}
	for _, t := range levels {
		if t == "" {
			continue
		}
		for _, rule := range r.byType[t] {
			if rule.Condition(ev, before, after) {
				out = append(out, rule)
			}
		}
	}
	return out
}

// Rules lists every registered rule, wildcard first.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Rule
	out = append(out, r.byType[events.AnyType]...)
	seen := map[events.Type]bool{events.AnyType: true}
	for _, t := range events.Types() {
		fam := t.Family()
		if !seen[fam] {
			seen[fam] = true
			out = append(out, r.byType[fam]...)
		}
	}
	for _, t := range events.Types() {
		out = append(out, r.byType[t]...)
	}
	return out
}
