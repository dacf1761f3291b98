// Package webhooks delivers signed pair notifications to an operator endpoint
// with retry and exponential backoff.
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
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	// EventEpochClosed is emitted when a pair finalizes a reward epoch.
	EventEpochClosed EventType = "lb.rewards.epoch_closed"
	// EventProtocolFeesCollected is emitted when accrued protocol fees are withdrawn.
	EventProtocolFeesCollected EventType = "lb.protocol_fees.collected"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultTimeout     = 15 * time.Second
	queueDepth         = 32

	// Delivery headers. The signature covers "<timestamp>.<body>".
	HeaderEvent     = "X-LB-Event"
	HeaderDelivery  = "X-LB-Delivery"
	HeaderTimestamp = "X-LB-Timestamp"
	HeaderSignature = "X-LB-Signature"
)

var (
	// ErrClosed is returned when enqueueing on a stopped dispatcher.
	ErrClosed = errors.New("webhook: dispatcher closed")
	// ErrBadSignature is returned by Verify for a mismatched signature.
	ErrBadSignature = errors.New("webhook: signature mismatch")
)

// EpochClosedPayload describes the webhook body for closed epochs. Empty
// epochs are announced too so payout jobs can skip them explicitly.
type EpochClosedPayload struct {
	Type        EventType `json:"type"`
	Pair        string    `json:"pair"`
	Epoch       uint64    `json:"epoch"`
	Algorithm   string    `json:"algorithm"`
	Empty       bool      `json:"empty"`
	Bins        int       `json:"bins"`
	ExportURLs  []string  `json:"exportUrls,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
	DeliveryID  string    `json:"deliveryId"`
}

// FeesCollectedPayload describes the webhook body for protocol fee withdrawals.
type FeesCollectedPayload struct {
	Type        EventType `json:"type"`
	Pair        string    `json:"pair"`
	AmountX     string    `json:"amountX"`
	AmountY     string    `json:"amountY"`
	CollectedAt time.Time `json:"collectedAt"`
	DeliveryID  string    `json:"deliveryId"`
}

// Dispatcher delivers notifications from a single worker so events for a
// pair reach the endpoint in the order they were enqueued.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	id        string
	eventType EventType
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithLogger reports abandoned deliveries to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// NewDispatcher validates the target and starts the delivery worker.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      slog.Default(),
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, queueDepth),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.worker()
	return d, nil
}

// Close stops the worker. Deliveries still queued or backing off are dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// EnqueueEpochClosed queues an epoch announcement.
func (d *Dispatcher) EnqueueEpochClosed(payload EpochClosedPayload) error {
	payload.Type = EventEpochClosed
	if payload.GeneratedAt.IsZero() {
		payload.GeneratedAt = d.now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = uuid.NewString()
	}
	return d.enqueue(payload.DeliveryID, payload.Type, payload)
}

// EnqueueFeesCollected queues a protocol fee withdrawal notice.
func (d *Dispatcher) EnqueueFeesCollected(payload FeesCollectedPayload) error {
	payload.Type = EventProtocolFeesCollected
	if payload.CollectedAt.IsZero() {
		payload.CollectedAt = d.now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = uuid.NewString()
	}
	return d.enqueue(payload.DeliveryID, payload.Type, payload)
}

func (d *Dispatcher) enqueue(id string, eventType EventType, body any) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	if d.ctx.Err() != nil {
		return ErrClosed
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("webhook: encode %s: %w", eventType, err)
	}
	select {
	case d.queue <- delivery{id: id, eventType: eventType, body: data}:
		return nil
	case <-d.ctx.Done():
		return ErrClosed
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	backoff := d.minBackoff
	for attempt := 1; ; attempt++ {
		err := d.send(job)
		if err == nil {
			return
		}
		var perm permanentError
		if errors.As(err, &perm) || attempt >= d.maxAttempts {
			d.logger.Warn("webhook delivery abandoned",
				slog.String("event", string(job.eventType)),
				slog.String("delivery_id", job.id),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

// permanentError marks a response that retrying cannot fix.
type permanentError struct {
	status int
	err    error
}

func (e permanentError) Error() string {
	if e.err != nil {
		return "webhook: " + e.err.Error()
	}
	return fmt.Sprintf("webhook: endpoint rejected delivery with status %d", e.status)
}

func (d *Dispatcher) send(job delivery) error {
	ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return permanentError{err: err}
	}
	timestamp := strconv.FormatInt(d.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(job.eventType))
	req.Header.Set(HeaderDelivery, job.id)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, Sign(d.secret, timestamp, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return permanentError{status: resp.StatusCode}
	default:
		return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
	}
}

// Sign returns the signature header value for body sent at timestamp.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header in constant time.
func Verify(secret []byte, timestamp string, body []byte, signature string) error {
	if !hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}
