package submitlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal submission API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no other credential is set. Only
	// servers running with the dev header enabled accept it.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Event is an event to append. Created may be set to make a retry
// idempotent.
type Event struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	Created   *time.Time     `json:"created,omitempty"`
}

// Agent is the party responsible for an event.
type Agent struct {
	AgentType    string   `json:"agent_type"`
	NativeID     string   `json:"native_id"`
	Identifier   string   `json:"agent_identifier,omitempty"`
	Email        string   `json:"email,omitempty"`
	Endorsements []string `json:"endorsements,omitempty"`
}

// StoredEvent is an event as returned by the API.
type StoredEvent struct {
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	AggregateID int64          `json:"aggregate_id"`
	Created     time.Time      `json:"created"`
	Creator     Agent          `json:"creator"`
	Committed   bool           `json:"committed"`
	Data        map[string]any `json:"data,omitempty"`
}

// Submission is the API submission model (partial). Raw keeps the full
// document.
type Submission struct {
	AggregateID int64  `json:"aggregate_id"`
	Status      string `json:"status"`
	Version     int    `json:"version"`
	Owner       Agent  `json:"owner"`
	PublishedID string `json:"published_id,omitempty"`
	Metadata    struct {
		Title    string `json:"title,omitempty"`
		Abstract string `json:"abstract,omitempty"`
	} `json:"metadata"`
	Raw json.RawMessage `json:"-"`
}

func (s *Submission) UnmarshalJSON(b []byte) error {
	type plain Submission
	if err := json.Unmarshal(b, (*plain)(s)); err != nil {
		return err
	}
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Result is a submission together with its history.
type Result struct {
	Submission Submission    `json:"submission"`
	Events     []StoredEvent `json:"events"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateSubmission starts a submission. A CreateSubmission event is
// prepended when the first event is something else.
func (c *Client) CreateSubmission(ctx context.Context, evs ...Event) (Result, error) {
	if len(evs) == 0 || evs[0].EventType != "CreateSubmission" {
		evs = append([]Event{{EventType: "CreateSubmission"}}, evs...)
	}
	var resp Result
	err := c.do(ctx, http.MethodPost, "submissions", map[string]any{"events": evs}, &resp)
	return resp, err
}

// AppendEvents applies events to an existing submission.
func (c *Client) AppendEvents(ctx context.Context, id int64, evs ...Event) (Result, error) {
	var resp Result
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("submissions/%d/events", id), map[string]any{"events": evs}, &resp)
	return resp, err
}

// GetSubmission returns the reconciled state of a submission.
func (c *Client) GetSubmission(ctx context.Context, id int64) (Submission, error) {
	var resp Result
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("submissions/%d", id), nil, &resp)
	return resp.Submission, err
}

// ListEvents returns the history of a submission.
func (c *Client) ListEvents(ctx context.Context, id int64) ([]StoredEvent, error) {
	var resp struct {
		Items []StoredEvent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("submissions/%d/events", id), nil, &resp)
	return resp.Items, err
}

// ListSubmissions lists submissions owned by a user. An empty owner means
// the caller.
func (c *Client) ListSubmissions(ctx context.Context, owner string) ([]Submission, error) {
	endpoint := "submissions"
	if owner != "" {
		endpoint += "?owner=" + url.QueryEscape(owner)
	}
	var resp struct {
		Items []Submission `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
		e.Details = env.Error.Details
	}
	return e
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
