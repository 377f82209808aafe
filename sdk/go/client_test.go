package submitlinesdk_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submitline/internal/app"
	"submitline/internal/server"
	submitlinesdk "submitline/sdk/go"
)

func newClient(t *testing.T) *submitlinesdk.Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := app.Open(context.Background(), t.TempDir(), logger)
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Engine: w.Engine,
		Repo:   w.Repo,
		Auth:   server.AuthConfig{DevActorHeader: true, Logger: logger},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		w.Close()
	})
	c := submitlinesdk.New(srv.URL)
	c.ActorID = "1001"
	return c
}

func TestClientRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	res, err := c.CreateSubmission(ctx, submitlinesdk.Event{
		EventType: "SetTitle",
		Data:      map[string]any{"title": "Notes on client libraries"},
	})
	require.NoError(t, err)
	id := res.Submission.AggregateID
	require.NotZero(t, id)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "CreateSubmission", res.Events[0].EventType)

	_, err = c.AppendEvents(ctx, id, submitlinesdk.Event{EventType: "ConfirmPolicy"})
	require.NoError(t, err)

	s, err := c.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Notes on client libraries", s.Metadata.Title)
	assert.Equal(t, "working", s.Status)
	assert.Contains(t, string(s.Raw), `"submitter_accepts_policy":true`)

	evs, err := c.ListEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, "1001", evs[2].Creator.NativeID)

	list, err := c.ListSubmissions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClientErrors(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.GetSubmission(ctx, 404)
	var apiErr *submitlinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	res, err := c.CreateSubmission(ctx)
	require.NoError(t, err)
	_, err = c.AppendEvents(ctx, res.Submission.AggregateID, submitlinesdk.Event{
		EventType: "SetTitle",
		Data:      map[string]any{"title": "Trailing."},
	})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.Equal(t, "validation_failed", apiErr.Code)
	assert.Equal(t, "SetTitle", apiErr.Details["event_type"])
}
