// Package repo is the SQLite implementation of the submission event store.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"submitline/internal/domain"
	"submitline/internal/events"
	"submitline/internal/legacy"
	"submitline/internal/store"
)

// timeLayout has fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type Repo struct {
	DB *sql.DB
}

var _ store.Store = Repo{}

// ErrNotFound is the store sentinel, re-exported for callers that only
// import repo.
var ErrNotFound = store.ErrNotFound

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Begin opens a write transaction. The database is opened with
// _txlock=immediate, so the write lock is held from here on.
func (r Repo) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (r Repo) GetEvents(ctx context.Context, id int64) ([]*events.Event, error) {
	return getEvents(ctx, r.DB, id)
}

func (r Repo) Snapshot(ctx context.Context, id int64) (*domain.Submission, error) {
	return getSnapshot(ctx, r.DB, id)
}

func (r Repo) ListByOwner(ctx context.Context, owner domain.Agent) ([]*domain.Submission, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state_json FROM submissions WHERE owner_id=? ORDER BY updated DESC, aggregate_id DESC`, owner.Identifier())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Submission
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var s domain.Submission
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
		res = append(res, &s)
	}
	return res, rows.Err()
}

// Tx is a store transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func (t *Tx) GetEvents(ctx context.Context, id int64) ([]*events.Event, error) {
	return getEvents(ctx, t.tx, id)
}

// GetSubmission ignores forUpdate: the transaction already holds the
// database write lock.
func (t *Tx) GetSubmission(ctx context.Context, id int64, forUpdate bool) (*domain.Submission, []*events.Event, error) {
	s, err := getSnapshot(ctx, t.tx, id)
	if err != nil {
		return nil, nil, err
	}
	evs, err := getEvents(ctx, t.tx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, err
	}
	return s, evs, nil
}

// StoreEvent writes the event and the snapshot it produced. A creation
// event inserts the submission row first to obtain the aggregate id.
func (t *Tx) StoreEvent(ctx context.Context, ev *events.Event, before, after *domain.Submission) (*events.Event, *domain.Submission, error) {
	stored := *ev
	state := after.Clone()
	if before == nil {
		id, err := t.insertSubmission(ctx, state)
		if err != nil {
			return nil, nil, &store.SaveError{Op: "insert submission", Err: err}
		}
		state.AggregateID = id
		stored.AggregateID = id
	} else if stored.AggregateID == 0 {
		stored.AggregateID = before.AggregateID
		state.AggregateID = before.AggregateID
	}
	stored.Committed = true

	raw, err := json.Marshal(&stored)
	if err != nil {
		return nil, nil, &store.SaveError{Op: "encode event", Err: err}
	}
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO events(event_id,aggregate_id,event_type,created,creator_id,event_json) VALUES (?,?,?,?,?,?)`,
		stored.MustID(), stored.AggregateID, string(stored.Type()), formatTime(stored.Created), stored.Creator.Identifier(), string(raw)); err != nil {
		return nil, nil, &store.SaveError{Op: "insert event", Err: err}
	}
	if err := t.updateSubmission(ctx, state); err != nil {
		return nil, nil, &store.SaveError{Op: "update submission", Err: err}
	}
	return &stored, state, nil
}

func (t *Tx) insertSubmission(ctx context.Context, s *domain.Submission) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO submissions(owner_id,status,version,created,updated,state_json) VALUES (?,?,?,?,?,'{}')`,
		s.Owner.Identifier(), string(s.Status), s.Version, formatTime(s.Created), formatTime(s.Updated))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *Tx) updateSubmission(ctx context.Context, s *domain.Submission) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE submissions SET owner_id=?,status=?,version=?,updated=?,state_json=? WHERE aggregate_id=?`,
		s.Owner.Identifier(), string(s.Status), s.Version, formatTime(s.Updated), string(raw), s.AggregateID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func getSnapshot(ctx context.Context, q querier, id int64) (*domain.Submission, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT state_json FROM submissions WHERE aggregate_id=?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s domain.Submission
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode submission %d: %w", id, err)
	}
	return &s, nil
}

func getEvents(ctx context.Context, q querier, id int64) ([]*events.Event, error) {
	rows, err := q.QueryContext(ctx, `SELECT event_json FROM events WHERE aggregate_id=? ORDER BY created ASC, seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*events.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ev := new(events.Event)
		if err := json.Unmarshal([]byte(raw), ev); err != nil {
			return nil, fmt.Errorf("decode event of submission %d: %w", id, err)
		}
		res = append(res, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return res, nil
}

// Record is a stored event with its position in the global log.
type Record struct {
	Seq   int64
	Event *events.Event
}

// EventsAfter returns events with a sequence greater than the cursor in
// ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT seq,event_json FROM events WHERE seq>? ORDER BY seq ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var (
			rec Record
			raw string
		)
		if err := rows.Scan(&rec.Seq, &raw); err != nil {
			return nil, err
		}
		rec.Event = new(events.Event)
		if err := json.Unmarshal([]byte(raw), rec.Event); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", rec.Seq, err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// LatestEventID returns the sequence of the most recent event.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Rows returns the legacy rows recorded for an aggregate.
func (r Repo) Rows(ctx context.Context, aggregateID int64) ([]legacy.Row, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT row_json FROM legacy_rows WHERE aggregate_id=? ORDER BY created ASC, id ASC`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []legacy.Row
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var row legacy.Row
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("decode legacy row: %w", err)
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

// UpsertRows records legacy rows, replacing rows with the same id.
func (r Repo) UpsertRows(ctx context.Context, rows []legacy.Row) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, row := range rows {
		if err := row.Check(); err != nil {
			return err
		}
		raw, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO legacy_rows(id,aggregate_id,row_type,version,status,created,updated,row_json) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET aggregate_id=excluded.aggregate_id,row_type=excluded.row_type,version=excluded.version,status=excluded.status,created=excluded.created,updated=excluded.updated,row_json=excluded.row_json`,
			row.ID, row.AggregateID, string(row.Type), row.Version, row.Status, formatTime(row.Created), formatTime(row.Updated), string(raw)); err != nil {
			return fmt.Errorf("store legacy row %d: %w", row.ID, err)
		}
	}
	return tx.Commit()
}
