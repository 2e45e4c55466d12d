package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventInvitationCreated  EventType = "invitation.created"
	EventInvitationReminder EventType = "invitation.reminder"
)

// Delivery headers
const (
	HeaderEvent     = "X-Calltracker-Event"
	HeaderEventID   = "X-Calltracker-Event-ID"
	HeaderDelivery  = "X-Calltracker-Delivery"
	HeaderSignature = "X-Calltracker-Signature"
)

// Event represents a webhook event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an event with a fresh ID
func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Config configures a Dispatcher
type Config struct {
	// URL receives every event as a JSON POST
	URL string
	// Secret signs payloads with HMAC-SHA256. Empty sends unsigned requests.
	Secret string
	// Timeout bounds a single attempt
	Timeout time.Duration
	// RatePerSecond caps outbound requests. Zero disables the cap.
	RatePerSecond float64
	Retry         RetryConfig
}

// Validate checks that c is usable
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("webhooks: URL must be absolute, got %q", c.URL)
	}
	return nil
}

// Dispatcher delivers events to one endpoint with retries
type Dispatcher struct {
	url     string
	secret  string
	client  *http.Client
	policy  *RetryPolicy
	limiter *rate.Limiter
	metrics *observability.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher for cfg
func NewDispatcher(cfg Config, metrics *observability.Metrics) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	d := &Dispatcher{
		url:     cfg.URL,
		secret:  cfg.Secret,
		client:  &http.Client{Timeout: cfg.Timeout},
		policy:  NewRetryPolicy(cfg.Retry),
		metrics: metrics,
		sleep:   sleepContext,
	}
	if cfg.RatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return d, nil
}

// Dispatch sends event, retrying transient failures with backoff until the
// policy gives up or ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	for attempt := 1; ; attempt++ {
		err = d.send(ctx, event, payload)
		if err == nil {
			d.metrics.WebhookDelivery(string(event.Type), "success")
			return nil
		}
		if !d.policy.ShouldRetry(attempt, err) {
			d.metrics.WebhookDelivery(string(event.Type), "failed")
			return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempt, err)
		}

		delay := d.policy.NextRetryDelay(attempt)
		logger.WithError(err).WithField("attempt", attempt).Warnf("Webhook delivery failed, retrying in %s", delay)
		if err := d.sleep(ctx, delay); err != nil {
			d.metrics.WebhookDelivery(string(event.Type), "failed")
			return fmt.Errorf("webhook delivery abandoned: %w", err)
		}
	}
}

// send makes one delivery attempt
func (d *Dispatcher) send(ctx context.Context, event *Event, payload []byte) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderDelivery, time.Now().UTC().Format(time.RFC3339))
	if d.secret != "" {
		req.Header.Set(HeaderSignature, generateSignature(payload, d.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	// The receiver rejected the payload itself; resending it cannot help
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
		return permanent(err)
	}
	return err
}

// VerifySignature verifies the webhook signature
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// permanentError marks a failure that retrying will not fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// IsPermanent reports whether err should not be retried
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
