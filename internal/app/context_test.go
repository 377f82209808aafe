package app_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submitline/internal/app"
	"submitline/internal/config"
	"submitline/internal/db"
	"submitline/internal/domain"
	"submitline/internal/events"
	"submitline/internal/notify"
)

func TestInitIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	created, err := app.Init(ctx, dir)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, config.Path(dir))
	assert.FileExists(t, db.Path(dir))

	created, err = app.Init(ctx, dir)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestOpenWiresEngine(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	_, err := app.Init(ctx, dir)
	require.NoError(t, err)

	w, err := app.Open(ctx, dir, nil)
	require.NoError(t, err)
	defer w.Close()

	submitter := domain.User("42", "ada@example.org")
	s, history, err := w.Engine.Save(ctx, 0,
		events.NewDraft(submitter, &events.CreateSubmission{}),
		events.NewDraft(submitter, &events.SetTitle{Title: "Engines of difference"}),
	)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, "Engines of difference", s.Metadata.Title)

	titles, err := w.Repo.RecentTitles(ctx, s.Created)
	require.NoError(t, err)
	require.Len(t, titles, 1)
	assert.Equal(t, s.AggregateID, titles[0].AggregateID)
}

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	w, err := app.Open(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, "/v0", w.Config.Server.BasePath)
	assert.True(t, w.Engine.Callbacks)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("server:\n  base_path: v0\n"), 0o644))
	_, err := app.Open(context.Background(), dir, nil)
	assert.ErrorContains(t, err, "base_path")
}

func TestPublishers(t *testing.T) {
	cfg := config.Default()
	pub, client, err := app.Publishers(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, client)
	require.IsType(t, notify.Multi{}, pub)
	assert.Len(t, pub.(notify.Multi), 1)

	cfg.Notify.Log = false
	pub, _, err = app.Publishers(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, pub)

	cfg.Notify.Redis.Addr = "127.0.0.1:1"
	pub, client, err = app.Publishers(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()
	assert.Len(t, pub.(notify.Multi), 1)
}
