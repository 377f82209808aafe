package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submitline/internal/domain"
	"submitline/internal/legacy"
)

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestCurrentAgent(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("actor-id", "")
	_, err := currentAgent()
	require.Error(t, err)

	viper.Set("actor-id", "u1")
	viper.Set("actor-type", "user")
	viper.Set("email", "u1@example.org")
	viper.Set("endorse", []string{"cs.DL"})
	agent, err := currentAgent()
	require.NoError(t, err)
	assert.Equal(t, domain.AgentUser, agent.Type)
	assert.Equal(t, "u1@example.org", agent.Email)
	assert.True(t, agent.EndorsedFor("cs.DL"))

	viper.Set("actor-type", "robot")
	_, err = currentAgent()
	var unknown *domain.UnknownAgentTypeError
	assert.ErrorAs(t, err, &unknown)
}

func TestReadRows(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.yml")
	require.NoError(t, os.WriteFile(list, []byte(`
- id: 1
  aggregate_id: 7
  type: new
  version: 1
  status: 7
  created: 2024-01-02T03:04:05Z
  updated: 2024-01-03T03:04:05Z
  published_id: "2401.00001"
`), 0o644))
	rows, err := readRows(list)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, legacy.RowNew, rows[0].Type)
	assert.Equal(t, "2401.00001", rows[0].PublishedID)

	doc := filepath.Join(dir, "doc.yml")
	require.NoError(t, os.WriteFile(doc, []byte(`
rows:
  - id: 2
    aggregate_id: 7
    type: jref
    version: 1
    status: 7
    journal_ref: "J. Test 1 (2024)"
`), 0o644))
	rows, err = readRows(doc)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, legacy.RowJournalRef, rows[0].Type)
}
