// Package webhook posts submission events to the URL configured on a form.
// Delivery is best effort: failures are logged and never reach the caller.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/mbolis/quick-forms/log"
	"github.com/mbolis/quick-forms/model"
)

const DefaultTimeout = 10 * time.Second

type Event string

const (
	EventSubmit Event = "submit"
	EventDelete Event = "delete"
)

type Payload struct {
	Event        Event          `json:"event"`
	FormID       string         `json:"form_id"`
	FormName     string         `json:"form_name"`
	FormPublicID string         `json:"form_public_id"`
	SubmissionID string         `json:"submission_id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
}

type Notifier struct {
	Client  *http.Client
	Timeout time.Duration

	wg sync.WaitGroup
}

func New(timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{Client: &http.Client{}, Timeout: timeout}
}

// Enabled reports whether form wants to hear about event.
func Enabled(form *model.Form, event Event) bool {
	if form.WebhookURL == "" {
		return false
	}
	switch event {
	case EventSubmit:
		return form.WebhookOnSubmit
	case EventDelete:
		return form.WebhookOnDelete
	}
	return false
}

// Dispatch delivers the event in the background. Wait blocks until every
// dispatched delivery has finished.
func (n *Notifier) Dispatch(form *model.Form, event Event, sub *model.Submission) {
	if n == nil || !Enabled(form, event) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.Notify(context.Background(), form, event, sub)
	}()
}

func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

// Notify delivers the event synchronously and reports whether the receiver
// accepted it.
func (n *Notifier) Notify(ctx context.Context, form *model.Form, event Event, sub *model.Submission) bool {
	if !Enabled(form, event) {
		return false
	}

	payload := Payload{
		Event:        event,
		FormID:       form.ID,
		FormName:     form.Name,
		FormPublicID: form.PublicID,
	}
	if sub != nil {
		payload.SubmissionID = sub.ID
		payload.Data = sub.Values
		createdAt := sub.CreatedAt
		payload.CreatedAt = &createdAt
	}

	logger := log.WithFields(log.Fields{"event": event, "form": form.ID, "url": form.WebhookURL})
	if err := n.post(ctx, form.WebhookURL, payload); err != nil {
		logger.WithError(err).Warn("webhook.notify: delivery failed")
		return false
	}
	logger.Info("webhook.notify: delivered")
	return true
}

func (n *Notifier) post(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("receiver answered %s", res.Status)
	}
	return nil
}
