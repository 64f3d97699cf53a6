// Package notify announces newly accepted incidents.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/bryan-buckman/statuspulse/internal/model"
)

// Notifier is told about every record once, after it has been persisted.
type Notifier interface {
	Notify(ctx context.Context, rec model.IncidentRecord) error
}

// Console writes a human-readable line per record.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a console notifier writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Notify prints the record timestamp and title.
func (c *Console) Notify(_ context.Context, rec model.IncidentRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "\n🚨 NEW UPDATE: %s | %s\n", rec.Timestamp, rec.Title)
	return err
}

// Webhook POSTs each record as JSON to a URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook returns a notifier posting to url with the given request timeout.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

// Notify sends rec to the webhook. Any non-2xx response is an error.
func (w *Webhook) Notify(ctx context.Context, rec model.IncidentRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", w.url)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("webhook %s returned %d", w.url, resp.StatusCode)
	}
	return nil
}

// Multi fans a record out to several notifiers. A failing notifier does not
// stop the others; the caller reports the combined error.
type Multi struct {
	notifiers []Notifier
}

// NewMulti combines notifiers. Nil entries are ignored.
func NewMulti(notifiers ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify delivers rec to every notifier. The first failure is returned with
// any later ones attached as secondary errors.
func (m *Multi) Notify(ctx context.Context, rec model.IncidentRecord) error {
	var combined error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, rec); err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	return combined
}
