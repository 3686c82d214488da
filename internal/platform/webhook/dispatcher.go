// Package webhook delivers workflow events to external systems over HTTP.
// Each payload is signed with HMAC-SHA256 and retried on failure.
package webhook

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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reenvasado/reenvasado/internal/platform/websocket"
)

// Endpoint is a delivery destination. Events lists the event type patterns
// it receives: exact ("task.assigned"), "task.*", "*.validated" or "*".
type Endpoint struct {
	URL    string
	Secret string
	Events []string
}

// DeliveryAttempt records one POST to an endpoint.
type DeliveryAttempt struct {
	ID         string
	URL        string
	EventType  string
	Attempt    int
	StatusCode int
	Status     string
	Error      string
	Duration   time.Duration
}

// SignPayload computes an HMAC-SHA256 signature of the payload using the given secret,
// returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the HMAC-SHA256
// of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ValidateURL checks that the URL is absolute and uses http or https.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url has no host")
	}
	return nil
}

func eventMatches(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(eventType, pattern[1:])
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func (ep Endpoint) matches(eventType string) bool {
	for _, pat := range ep.Events {
		if eventMatches(pat, eventType) {
			return true
		}
	}
	return false
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithRetryDelays sets the wait before each retry; its length is the number
// of retries.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelays = delays }
}

// WithObserver is called after every attempt.
func WithObserver(fn func(DeliveryAttempt)) Option {
	return func(d *Dispatcher) { d.observe = fn }
}

// ErrClosed is returned by Publish once the dispatcher has been closed.
var ErrClosed = errors.New("webhook dispatcher is closed")

type job struct {
	ep    Endpoint
	event websocket.Event
}

// Dispatcher queues events and delivers them from a background worker so
// publishing never blocks a request. It implements websocket.EventPublisher.
type Dispatcher struct {
	endpoints   []Endpoint
	httpClient  *http.Client
	retryDelays []time.Duration
	observe     func(DeliveryAttempt)
	logger      zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewDispatcher validates endpoints and starts the delivery worker.
func NewDispatcher(endpoints []Endpoint, logger zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	for _, ep := range endpoints {
		if err := ValidateURL(ep.URL); err != nil {
			return nil, err
		}
	}
	d := &Dispatcher{
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryDelays: []time.Duration{1 * time.Second, 30 * time.Second},
		logger:      logger.With().Str("component", "webhook").Logger(),
		queue:       make(chan job, 256),
	}
	for _, o := range opts {
		o(d)
	}
	d.wg.Add(1)
	go d.run()
	return d, nil
}

// Publish enqueues the event for every matching endpoint. A full queue
// drops the event and returns an error.
func (d *Dispatcher) Publish(_ context.Context, event websocket.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	for _, ep := range d.endpoints {
		if !ep.matches(event.Type) {
			continue
		}
		select {
		case d.queue <- job{ep: ep, event: event}:
		default:
			return fmt.Errorf("webhook queue full, dropped %s", event.Type)
		}
	}
	return nil
}

// Close stops accepting events and waits for queued deliveries.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(context.Background(), j.ep, j.event)
	}
}

// deliver posts the event, retrying after each configured delay until a 2xx
// response or the retries run out.
func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, event websocket.Event) DeliveryAttempt {
	payload, err := json.Marshal(event)
	if err != nil {
		return DeliveryAttempt{URL: ep.URL, EventType: event.Type, Status: "failed", Error: err.Error()}
	}
	id := uuid.New().String()

	var attempt DeliveryAttempt
	for n := 0; ; n++ {
		attempt = d.post(ctx, ep, event.Type, id, payload)
		attempt.Attempt = n + 1
		if d.observe != nil {
			d.observe(attempt)
		}
		if attempt.Status == "success" || n >= len(d.retryDelays) {
			break
		}
		time.Sleep(d.retryDelays[n])
	}
	if attempt.Status != "success" {
		d.logger.Warn().Str("url", ep.URL).Str("event", event.Type).Int("attempts", attempt.Attempt).
			Str("error", attempt.Error).Msg("webhook delivery failed")
	}
	return attempt
}

func (d *Dispatcher) post(ctx context.Context, ep Endpoint, eventType, id string, payload []byte) DeliveryAttempt {
	attempt := DeliveryAttempt{ID: id, URL: ep.URL, EventType: eventType, Status: "failed"}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", id)
	req.Header.Set("X-Webhook-Event", eventType)
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, ep.Secret))
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	attempt.Duration = time.Since(start)
	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	attempt.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = "success"
	} else {
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return attempt
}
