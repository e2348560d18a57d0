package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"appforge/internal/config"
	"appforge/internal/domain"
	"appforge/internal/events"
	"appforge/internal/logging"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// Hooks without an event list receive these.
var defaultWebhookEvents = []string{events.GenerationCompleted, events.GenerationFailed}

// WebhookDispatcher tails the event log and POSTs matching events to each
// configured URL. Every hook keeps its own cursor and starts at the newest
// event present when it is first polled.
type WebhookDispatcher struct {
	Events   events.Writer
	Webhooks []config.WebhookConfig
	Interval time.Duration
	Logger   *slog.Logger

	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
}

func NewWebhookDispatcher(w events.Writer, hooks []config.WebhookConfig, logger *slog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		Events:   w,
		Webhooks: hooks,
		Interval: defaultWebhookInterval,
		Logger:   logging.OrDiscard(logger),
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
}

// Run polls until ctx is done. It returns at once when no hook is configured.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if len(d.Webhooks) == 0 {
		return
	}
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
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

func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	evts, err := d.Events.After(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.Logger.Error("webhook: fetch events failed", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.Logger.Warn("webhook: delivery failed", "url", hook.URL, "event_id", evt.ID, "error", err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]int64)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.Events.LatestID(ctx)
	if err != nil {
		d.Logger.Error("webhook: init cursor failed", "error", err)
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
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id"`
	ActorID   string          `json:"actor_id"`
	TS        string          `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:        evt.ID,
		Type:      evt.Type,
		ProjectID: evt.ProjectID,
		ActorID:   evt.ActorID,
		TS:        evt.TS,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Appforge-Event", evt.Type)
	req.Header.Set("X-Appforge-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Appforge-Secret", hook.Secret)
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

type eventFilter struct {
	set map[string]struct{}
}

func newEventFilter(names []string) eventFilter {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if key := strings.TrimSpace(name); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		for _, name := range defaultWebhookEvents {
			set[name] = struct{}{}
		}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if _, ok := f.set["*"]; ok {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
