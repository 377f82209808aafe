// Package store declares the persistence boundary of the save pipeline.
package store

import (
	"context"
	"errors"
	"fmt"

	"submitline/internal/domain"
	"submitline/internal/events"
	"submitline/internal/legacy"
)

var ErrNotFound = errors.New("not found")

// EventStore reads and writes one aggregate's events and snapshot.
type EventStore interface {
	// GetEvents returns the committed events of an aggregate ordered by
	// creation time. It fails with ErrNotFound if there are none.
	GetEvents(ctx context.Context, id int64) ([]*events.Event, error)
	// GetSubmission returns the stored snapshot and its events. forUpdate
	// asks the store to hold the aggregate until the transaction ends.
	GetSubmission(ctx context.Context, id int64, forUpdate bool) (*domain.Submission, []*events.Event, error)
	// StoreEvent persists an event with the state it produced as one unit.
	// The first event of an aggregate is assigned its aggregate id here.
	StoreEvent(ctx context.Context, ev *events.Event, before, after *domain.Submission) (*events.Event, *domain.Submission, error)
}

type Tx interface {
	EventStore
	Commit() error
	Rollback() error
}

type Store interface {
	Begin(ctx context.Context) (Tx, error)
	legacy.Source
	// GetEvents reads committed events outside a transaction.
	GetEvents(ctx context.Context, id int64) ([]*events.Event, error)
	// Snapshot returns the last stored state without replaying events.
	Snapshot(ctx context.Context, id int64) (*domain.Submission, error)
	ListByOwner(ctx context.Context, owner domain.Agent) ([]*domain.Submission, error)
}

// SaveError reports a persistence failure after validation passed. The
// caller may retry the whole save.
type SaveError struct {
	Op  string
	Err error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save failed: %s: %v", e.Op, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }
