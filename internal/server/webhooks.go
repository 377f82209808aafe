package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"submitline/internal/config"
	"submitline/internal/events"
	"submitline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher polls the event log and posts each event to the
// configured URLs. Every hook keeps its own cursor; a failed delivery
// stops that hook's batch and is retried on the next tick.
type WebhookDispatcher struct {
	repo     repo.Repo
	webhooks []config.Webhook
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]int64
}

func NewWebhookDispatcher(r repo.Repo, hooks []config.Webhook, logger *slog.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		repo:     r,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
	}
}

// Start runs the dispatcher until ctx is done. It does nothing when no hooks
// are configured.
func (d *WebhookDispatcher) Start(ctx context.Context) {
	if len(d.webhooks) == 0 {
		return
	}
	go d.run(ctx)
}

func (d *WebhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll delivers one batch to every enabled hook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.Webhook) {
	cursor := d.cursorFor(ctx, idx)
	records, err := d.repo.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		d.logger.Error("webhook: fetch events failed", "err", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, rec := range records {
		if !filter.match(rec.Event.Type()) {
			d.setCursor(idx, rec.Seq)
			continue
		}
		if err := d.postEvent(ctx, hook, rec); err != nil {
			d.logger.Warn("webhook: delivery failed", "url", hook.URL, "seq", rec.Seq, "err", err)
			return
		}
		d.setCursor(idx, rec.Seq)
	}
}

// cursorFor starts a hook at the end of the log the first time it is seen.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.repo.LatestEventID(ctx)
	if err != nil {
		d.logger.Error("webhook: init cursor failed", "err", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	Seq   int64         `json:"seq"`
	Event *events.Event `json:"event"`
}

// deliveryID is stable across retries of the same event to the same URL.
func deliveryID(url string, seq int64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url+"#"+strconv.FormatInt(seq, 10))).String()
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.Webhook, rec repo.Record) error {
	data, err := json.Marshal(webhookEvent{Seq: rec.Seq, Event: rec.Event})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Submitline-Event", string(rec.Event.Type()))
	req.Header.Set("X-Submitline-Delivery", deliveryID(hook.URL, rec.Seq))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Submitline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// eventFilter matches event types or families.
type eventFilter struct {
	all bool
	set map[events.Type]struct{}
}

func newEventFilter(names []string) eventFilter {
	set := make(map[events.Type]struct{}, len(names))
	for _, n := range names {
		if key := strings.TrimSpace(n); key != "" {
			set[events.Type(key)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(t events.Type) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[t]; ok {
		return true
	}
	_, ok := f.set[t.Family()]
	return ok
}
