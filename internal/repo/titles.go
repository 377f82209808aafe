package repo

import (
	"context"
	"time"

	"submitline/internal/rules"
)

var _ rules.TitleIndex = Repo{}

// RecentTitles lists the titles of live submissions updated since the given
// time, newest first.
func (r Repo) RecentTitles(ctx context.Context, since time.Time) ([]rules.TitleCandidate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT aggregate_id, json_extract(state_json, '$.metadata.title')
FROM submissions
WHERE updated >= ? AND status <> 'deleted' AND json_extract(state_json, '$.metadata.title') IS NOT NULL
ORDER BY updated DESC`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rules.TitleCandidate
	for rows.Next() {
		var c rules.TitleCandidate
		if err := rows.Scan(&c.AggregateID, &c.Title); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
