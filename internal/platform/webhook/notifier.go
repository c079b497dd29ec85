// Package webhook forwards appointment events to external HTTP endpoints.
// Each delivery is a JSON POST signed with HMAC-SHA256 over the body and
// retried with backoff on transport errors and server failures.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/events"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	IDHeader        = "X-Webhook-ID"
	TimestampHeader = "X-Webhook-Timestamp"
)

// Delivery records the outcome of one attempt to deliver an event.
type Delivery struct {
	ID         string        `json:"id"`
	URL        string        `json:"url"`
	Event      events.Name   `json:"event"`
	StatusCode int           `json:"statusCode"`
	Attempt    int           `json:"attempt"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"durationNs"`
}

// SignPayload computes the hex encoded HMAC-SHA256 of payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload in constant time.
// A "sha256=" prefix, as sent in SignatureHeader, is accepted.
func VerifySignature(payload []byte, secret, signature string) bool {
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.httpClient = c }
}

// WithMaxRetries sets how many times a failed delivery is retried.
func WithMaxRetries(retries int) Option {
	return func(n *Notifier) { n.maxRetries = retries }
}

// WithRetryDelays sets the wait before each retry. The last delay repeats
// when there are more retries than delays.
func WithRetryDelays(d ...time.Duration) Option {
	return func(n *Notifier) { n.retryDelays = d }
}

// Notifier posts every event it receives to a fixed set of endpoints.
type Notifier struct {
	urls        []string
	secret      string
	httpClient  *http.Client
	maxRetries  int
	retryDelays []time.Duration
	logger      zerolog.Logger
}

func NewNotifier(urls []string, secret string, logger zerolog.Logger, opts ...Option) (*Notifier, error) {
	for _, u := range urls {
		if err := validateURL(u); err != nil {
			return nil, err
		}
	}
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	n := &Notifier{
		urls:   urls,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries:  3,
		retryDelays: []time.Duration{1 * time.Second, 30 * time.Second, 5 * time.Minute},
		logger:      logger.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook URL %q must use http or https", rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook URL %q must include a host", rawURL)
	}
	return nil
}

// Run delivers events from sub until ctx is cancelled or sub is closed.
func (n *Notifier) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			n.Deliver(ctx, ev)
		}
	}
}

// Deliver sends ev to every endpoint and returns the final attempt for each.
func (n *Notifier) Deliver(ctx context.Context, ev events.Event) []Delivery {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error().Err(err).Str("event", string(ev.Name)).Msg("failed to encode event")
		return nil
	}

	results := make([]Delivery, 0, len(n.urls))
	for _, u := range n.urls {
		d := n.deliverWithRetry(ctx, u, ev.Name, payload)
		logEvent := n.logger.Info()
		if !d.Success {
			logEvent = n.logger.Warn().Str("error", d.Error)
		}
		logEvent.
			Str("delivery_id", d.ID).
			Str("url", u).
			Str("event", string(ev.Name)).
			Str("appointment_id", ev.AppointmentID).
			Int("status_code", d.StatusCode).
			Int("attempt", d.Attempt).
			Msg("webhook delivered")
		results = append(results, d)
	}
	return results
}

// deliverWithRetry keeps the delivery id stable across attempts so receivers
// can drop duplicates.
func (n *Notifier) deliverWithRetry(ctx context.Context, rawURL string, name events.Name, payload []byte) Delivery {
	id := uuid.New().String()
	var d Delivery
	for attempt := 1; ; attempt++ {
		d = n.deliverOnce(ctx, rawURL, id, name, payload)
		d.Attempt = attempt
		if d.Success || !retryable(d.StatusCode) || attempt > n.maxRetries {
			return d
		}
		if err := n.wait(ctx, attempt); err != nil {
			d.Error = err.Error()
			return d
		}
	}
}

func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func (n *Notifier) wait(ctx context.Context, attempt int) error {
	if len(n.retryDelays) == 0 {
		return ctx.Err()
	}
	i := attempt - 1
	if i >= len(n.retryDelays) {
		i = len(n.retryDelays) - 1
	}
	t := time.NewTimer(n.retryDelays[i])
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (n *Notifier) deliverOnce(ctx context.Context, rawURL, id string, name events.Name, payload []byte) Delivery {
	d := Delivery{ID: id, URL: rawURL, Event: name}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+SignPayload(payload, n.secret))
	req.Header.Set(IDHeader, id)
	req.Header.Set(TimestampHeader, time.Now().UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := n.httpClient.Do(req)
	d.Duration = time.Since(start)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()
	// Drain a little so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	d.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Success = true
	} else {
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return d
}
