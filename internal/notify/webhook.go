// Package notify posts terminal export events to an HTTP webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/xvanov/clipforge-sub000/internal/jobs"
	"github.com/xvanov/clipforge-sub000/internal/logging"
)

// DeliveryError reports a webhook that answered with a non-2xx status.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook delivery failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx). Client errors (4xx) are
// permanent.
func (e *DeliveryError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// Payload is the JSON body sent for every terminal event.
type Payload struct {
	Event      jobs.EventType `json:"event"`
	JobID      string         `json:"job_id"`
	OutputPath string         `json:"output_path,omitempty"`
	Error      string         `json:"error,omitempty"`
	SentAt     time.Time      `json:"sent_at"`
}

type Webhook struct {
	url      string
	deviceID string
	client   *resty.Client
	logger   *slog.Logger
}

func NewWebhook(url, deviceID string, logger *slog.Logger) *Webhook {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", "clipforge-webhook")
	client.SetDisableWarn(true)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(200 * time.Millisecond)
	client.SetRetryMaxWaitTime(2 * time.Second)
	client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		return err != nil || resp.StatusCode() >= 500
	})

	return &Webhook{
		url:      url,
		deviceID: deviceID,
		client:   client,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "webhook"),
	}
}

// Notify posts ev when it is terminal; progress events are ignored.
func (w *Webhook) Notify(ctx context.Context, ev jobs.Event) error {
	if !ev.Type.Terminal() {
		return nil
	}

	payload := Payload{
		Event:      ev.Type,
		JobID:      ev.JobID,
		OutputPath: ev.OutputPath,
		Error:      ev.Error,
		SentAt:     time.Now().UTC(),
	}

	req := w.client.R().
		SetContext(ctx).
		SetHeader("X-Clipforge-Request-Id", uuid.NewString()).
		SetBody(payload)
	if w.deviceID != "" {
		req.SetHeader("X-Clipforge-Device-Id", w.deviceID)
	}

	resp, err := req.Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		body := resp.String()
		if len(body) > 4096 {
			body = body[:4096]
		}
		return &DeliveryError{StatusCode: resp.StatusCode(), Body: body}
	}

	w.logger.Info("webhook delivered",
		"event", ev.Type,
		"job_id", ev.JobID,
		"status", resp.StatusCode(),
		"attempts", resp.Request.Attempt,
	)
	return nil
}
