package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier POSTs each event as JSON to URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func (w WebhookNotifier) Enqueue(ctx context.Context, ev Event) error {
	if w.Client == nil {
		w.Client = &http.Client{Timeout: 5 * time.Second}
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", ev.Type)
	req.Header.Set("Idempotency-Key", ev.ID)

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", ev.Type, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %s", ev.Type, resp.Status)
	}
	return nil
}
