package events_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submitline/internal/domain"
	"submitline/internal/events"
)

func TestEventRoundTrip(t *testing.T) {
	proxy := domain.Client("api-client-1")
	d := events.NewDraft(submitter, &events.SetAuthors{Authors: []domain.Author{{Forename: "Jane", Surname: "Doe"}}})
	d.Proxy = &proxy
	d.AggregateID = 42
	ev := d.Stamp(t0)
	ev.Committed = true

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "SetAuthors", wire["event_type"])
	assert.Equal(t, ev.MustID(), wire["event_id"])
	assert.Equal(t, "user", wire["creator"].(map[string]any)["agent_type"])

	var back events.Event
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ev.MustID(), back.MustID())
	assert.True(t, back.Committed)
	assert.Equal(t, int64(42), back.AggregateID)
	require.NotNil(t, back.Proxy)
	assert.True(t, back.Proxy.Equal(proxy))
	assert.Equal(t, ev.Payload, back.Payload)
	assert.True(t, events.SameContent(ev, &back))
}

func TestEventDecodeRejectsTampering(t *testing.T) {
	ev := events.NewDraft(submitter, &events.SetTitle{Title: "A fine title"}).Stamp(t0)
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	wire["event_id"] = "00000000-0000-0000-0000-000000000000"
	raw, err = json.Marshal(wire)
	require.NoError(t, err)

	var back events.Event
	require.Error(t, json.Unmarshal(raw, &back))

	err = json.Unmarshal([]byte(`{"event_type":"Bogus","creator":{"agent_type":"user","native_id":"1"},"data":{}}`), &back)
	require.ErrorIs(t, err, events.ErrUnknownType)

	err = json.Unmarshal([]byte(`{"event_type":"SetTitle","creator":{"agent_type":"robot","native_id":"1"},"data":{}}`), &back)
	var unknown *domain.UnknownAgentTypeError
	require.ErrorAs(t, err, &unknown)
}

func TestSameContent(t *testing.T) {
	a := events.NewDraft(submitter, &events.SetTitle{Title: "A fine title"}).Stamp(t0)
	b := events.NewDraft(submitter, &events.SetTitle{Title: "Another fine title"}).Stamp(t0)
	assert.Equal(t, a.MustID(), b.MustID())
	assert.False(t, events.SameContent(a, b))
}

func TestParsePayload(t *testing.T) {
	p, err := events.ParsePayload(events.TypeAddSecondaryClassification, []byte(`{"category":"cs.AI"}`))
	require.NoError(t, err)
	assert.Equal(t, &events.AddSecondaryClassification{Category: "cs.AI"}, p)

	_, err = events.ParsePayload(events.TypeSetTitle, []byte(`{"titel":"typo"}`))
	require.Error(t, err)

	p, err = events.ParsePayload(events.TypeConfirmPolicy, nil)
	require.NoError(t, err)
	assert.Equal(t, events.TypeConfirmPolicy, p.EventType())

	data, err := events.EncodePayload(&events.SetTitle{Title: "A fine title"})
	require.NoError(t, err)
	p, err = events.DecodePayload(events.TypeSetTitle, data)
	require.NoError(t, err)
	assert.Equal(t, &events.SetTitle{Title: "A fine title"}, p)
}

func TestSubmissionRoundTrip(t *testing.T) {
	s, _, err := replay(t, announced(t), submitter,
		&events.RequestCrossList{Categories: []string{"stat.ML"}},
	)
	require.NoError(t, err)
	s, _, err = replay(t, s, moderator, &events.AddContentFlag{FlagType: "language", FlagData: map[string]any{"lang": "fr"}})
	require.NoError(t, err)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	var back domain.Submission
	require.NoError(t, json.Unmarshal(raw, &back))

	assert.Equal(t, s.Status, back.Status)
	assert.Equal(t, s.Version, back.Version)
	assert.Equal(t, s.Metadata, back.Metadata)
	assert.Equal(t, s.Primary, back.Primary)
	assert.Equal(t, s.Secondary, back.Secondary)
	assert.Equal(t, s.UserRequests, back.UserRequests)
	assert.Equal(t, s.Flags, back.Flags)
	require.Len(t, back.PastVersions, 1)
	assert.Equal(t, s.PastVersions[0].PublishedID, back.PastVersions[0].PublishedID)
	assert.True(t, s.Creator.Equal(back.Creator))
}
