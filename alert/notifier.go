package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/rs/zerolog"
)

// LogNotifier writes events to a zerolog logger at a level matching the
// event severity.
type LogNotifier struct {
	Logger zerolog.Logger
}

var _ Notifier = LogNotifier{}

// Notify logs e.
func (n LogNotifier) Notify(_ context.Context, e Event) error {
	var ev *zerolog.Event
	switch e.Severity {
	case Critical, Error:
		ev = n.Logger.Error()
	case Warning:
		ev = n.Logger.Warn()
	default:
		ev = n.Logger.Info()
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev = ev.Str(k, e.Context[k])
	}
	ev.Str("alert", string(e.Type)).
		Stringer("severity", e.Severity).
		Time("occurred_at", e.OccurredAt).
		Msg(e.Type.Title())
	return nil
}

// WebhookNotifier posts events as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

type webhookPayload struct {
	Event
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Notify posts e. Any non-2xx response is reported as ErrDeliveryFailed.
func (w *WebhookNotifier) Notify(ctx context.Context, e Event) error {
	body, err := json.Marshal(webhookPayload{
		Event:       e,
		Title:       e.Type.Title(),
		Description: e.Type.Description(),
	})
	if err != nil {
		return fmt.Errorf("alert: encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook %s returned HTTP %d", ErrDeliveryFailed, w.URL, resp.StatusCode)
	}
	return nil
}
