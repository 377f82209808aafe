package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submitline/internal/app"
	"submitline/internal/config"
	"submitline/internal/domain"
	"submitline/internal/repo"
	"submitline/internal/server"
)

const secret = "test-secret"

type testServer struct {
	URL       string
	client    *http.Client
	workspace *app.Workspace
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := app.Open(context.Background(), t.TempDir(), logger)
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Engine:   w.Engine,
		Repo:     w.Repo,
		BasePath: "/v0",
		Auth: server.AuthConfig{
			JWTSecret:      secret,
			Issuer:         "submitline",
			DevActorHeader: true,
			Logger:         logger,
		},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		w.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String(), client: &http.Client{}, workspace: w}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type envelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func actor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id, "X-Actor-Email": id + "@example.org"}
}

func event(typ string, data map[string]any) map[string]any {
	out := map[string]any{"event_type": typ}
	if data != nil {
		out["data"] = data
	}
	return out
}

func batch(evs ...map[string]any) map[string]any {
	return map[string]any{"events": evs}
}

type submissionBody struct {
	Submission domain.Submission `json:"submission"`
	Events     []struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Committed bool   `json:"committed"`
	} `json:"events"`
}

func createSubmission(t *testing.T, srv *testServer, headers map[string]string) submissionBody {
	t.Helper()
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/submissions", batch(
		event("CreateSubmission", nil),
		event("SetTitle", map[string]any{"title": "On the   origin of things"}),
	), headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var body submissionBody
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func TestPublicRoutes(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/event-types", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var types []server.EventTypeResponse
	require.NoError(t, json.Unmarshal(data, &types))
	assert.Contains(t, types, server.EventTypeResponse{Type: "Announce", Family: "Lifecycle", Scope: "submission:moderate"})

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v0/submissions/{id}/events")
	assert.Contains(t, string(data), "ApiError")

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/submissions", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Error.Code)
}

func TestCreateAppendAndRead(t *testing.T) {
	srv := newTestServer(t)
	headers := actor("1001")

	created := createSubmission(t, srv, headers)
	id := created.Submission.AggregateID
	require.NotZero(t, id)
	assert.Equal(t, "On the origin of things", created.Submission.Metadata.Title)
	require.Len(t, created.Events, 2)
	assert.True(t, created.Events[0].Committed)

	base := srv.URL + "/v0/submissions/" + strconv.FormatInt(id, 10)
	res, data := doJSON(t, srv.client, http.MethodPost, base+"/events", batch(
		event("SetAbstract", map[string]any{"abstract": "We describe where things come from and why."}),
	), headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base, nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var got submissionBody
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "We describe where things come from and why.", got.Submission.Metadata.Abstract)
	assert.Equal(t, domain.StatusWorking, got.Submission.Status)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/events", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list struct {
		Items []server.EventResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 3)
	assert.Equal(t, "SetAbstract", list.Items[2].EventType)
	assert.Equal(t, "1001", list.Items[2].Creator.NativeID)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/submissions", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var mine server.SubmissionListResponse
	require.NoError(t, json.Unmarshal(data, &mine))
	require.Len(t, mine.Items, 1)
	assert.Equal(t, id, mine.Items[0].AggregateID)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	headers := actor("1001")
	id := createSubmission(t, srv, headers).Submission.AggregateID
	base := srv.URL + "/v0/submissions/" + strconv.FormatInt(id, 10)

	cases := []struct {
		name   string
		url    string
		body   any
		status int
		code   string
	}{
		{"invalid event", base + "/events", batch(event("SetTitle", map[string]any{"title": "A bad title."})), http.StatusUnprocessableEntity, "validation_failed"},
		{"unknown type", base + "/events", batch(event("Frobnicate", nil)), http.StatusBadRequest, "unknown_event_type"},
		{"bad payload", base + "/events", batch(event("SetTitle", map[string]any{"headline": "x"})), http.StatusBadRequest, "bad_request"},
		{"missing submission", srv.URL + "/v0/submissions/9999/events", batch(event("ConfirmPolicy", nil)), http.StatusNotFound, "not_found"},
		{"create without CreateSubmission", srv.URL + "/v0/submissions", batch(event("ConfirmPolicy", nil)), http.StatusBadRequest, "bad_request"},
		{"moderator only", base + "/events", batch(event("Announce", map[string]any{"published_id": "2401.00001"})), http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, srv.client, http.MethodPost, tc.url, tc.body, headers)
			require.Equal(t, tc.status, res.StatusCode, string(data))
			env := decodeError(t, data)
			assert.Equal(t, tc.code, env.Error.Code)
			assert.NotEmpty(t, env.Error.Message)
		})
	}

	res, data := doJSON(t, srv.client, http.MethodPost, base+"/events", batch(event("SetTitle", map[string]any{"title": "A bad title."})), headers)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	env := decodeError(t, data)
	assert.Equal(t, "SetTitle", env.Error.Details["event_type"])
	assert.Equal(t, "Invalid SetTitle: Must not contain trailing periods except ellipses.", env.Error.Message)
}

func TestOwnership(t *testing.T) {
	srv := newTestServer(t)
	id := createSubmission(t, srv, actor("1001")).Submission.AggregateID
	base := srv.URL + "/v0/submissions/" + strconv.FormatInt(id, 10)

	res, data := doJSON(t, srv.client, http.MethodPost, base+"/events", batch(event("ConfirmPolicy", nil)), actor("2002"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, _ = doJSON(t, srv.client, http.MethodGet, base, nil, actor("2002"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/submissions?owner=1001", nil, actor("2002"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	moderator := map[string]string{"X-Actor-Id": "moderation", "X-Actor-Type": "client"}
	res, data = doJSON(t, srv.client, http.MethodPost, base+"/events", batch(
		event("AddHold", map[string]any{"hold_type": "patch"}),
	), moderator)
	assert.NotEqual(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/submissions?owner=1001", nil, moderator)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list server.SubmissionListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list.Items, 1)
}

func TestJWTAuthentication(t *testing.T) {
	srv := newTestServer(t)
	agent := domain.User("3003", "grace@example.org", "cs.*")
	agent.Forename, agent.Surname = "Grace", "Hopper"
	token, err := server.SignToken(agent, secret, "submitline")
	require.NoError(t, err)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me server.MeResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "jwt", me.Source)
	assert.Equal(t, "3003", me.Agent.NativeID)
	assert.Equal(t, "Hopper", me.Agent.Surname)
	assert.Equal(t, []string{"cs.*"}, me.Agent.Endorsements)
	assert.Equal(t, []string{"submission:write"}, me.Scopes)

	wrongIssuer, err := server.SignToken(agent, secret, "elsewhere")
	require.NoError(t, err)
	forged, err := server.SignToken(agent, "not-the-secret", "submitline")
	require.NoError(t, err)
	for _, authz := range []string{"Bearer " + wrongIssuer, "Bearer " + forged, "Basic abc"} {
		res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": authz})
		require.Equal(t, http.StatusUnauthorized, res.StatusCode)
		assert.Equal(t, "invalid_credentials", decodeError(t, data).Error.Code)
	}
}

func TestClaimsAgent(t *testing.T) {
	c := server.Claims{AgentType: "client", Name: "ingest"}
	_, err := c.Agent()
	assert.Error(t, err)

	c.Subject = "ingest"
	a, err := c.Agent()
	require.NoError(t, err)
	assert.Equal(t, domain.Client("ingest").Identifier(), a.Identifier())

	c.AgentType = "robot"
	_, err = c.Agent()
	var unknown *domain.UnknownAgentTypeError
	assert.ErrorAs(t, err, &unknown)
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	err := srv.workspace.Repo.InsertAPIKey(ctx, nil, repo.APIKey{
		ID:      "key-1",
		Agent:   domain.Client("ingest"),
		Name:    "ingest",
		KeyHash: repo.HashAPIKey("sekrit"),
	})
	require.NoError(t, err)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "sekrit"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me server.MeResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "api_key", me.Source)
	assert.Equal(t, domain.AgentClient, me.Agent.Type)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestWebhookDispatch(t *testing.T) {
	srv := newTestServer(t)
	var (
		mu        sync.Mutex
		delivered []string
		ids       []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "s3", r.Header.Get("X-Submitline-Secret"))
		delivered = append(delivered, r.Header.Get("X-Submitline-Event"))
		ids = append(ids, r.Header.Get("X-Submitline-Delivery"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	createSubmission(t, srv, actor("1001"))
	d := server.NewWebhookDispatcher(srv.workspace.Repo, []config.Webhook{
		{URL: hook.URL, Secret: "s3", Events: []string{"SetMetadata"}},
	}, nil)
	ctx := context.Background()

	// A new hook starts at the end of the log.
	d.DispatchAll(ctx)
	mu.Lock()
	assert.Empty(t, delivered)
	mu.Unlock()

	created := createSubmission(t, srv, actor("1001"))
	require.NotZero(t, created.Submission.AggregateID)
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"SetTitle"}, delivered)
	require.Len(t, ids, 1)
	assert.NotEmpty(t, ids[0])
}
