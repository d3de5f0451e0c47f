// Package push talks to the external push gateway. Delivery outcomes
// come back as per-message tickets; transport-level failures are
// retryable and the queue processor decides what to do with both.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aulnovauk/fieldops/pkg/backoff"
)

// MaxBatchSize is the gateway's per-call message cap.
const MaxBatchSize = 100

// sendAttempts bounds the in-process retry on transport failures.
// Durable rescheduling of still-failed deliveries stays with the queue
// processor.
const sendAttempts = 2

// Message is one delivery: a device token plus the notification payload.
type Message struct {
	Token   string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// Ticket is the gateway's per-message outcome.
type Ticket struct {
	OK bool `json:"ok"`
	// Error is the gateway's error string for failed tickets.
	Error string `json:"error,omitempty"`
	// DeviceNotRegistered marks the token permanently invalid; the
	// caller should deactivate it rather than retry.
	DeviceNotRegistered bool `json:"device_not_registered,omitempty"`
}

// Transport delivers batches of push messages.
type Transport interface {
	// SendBatch returns one ticket per message, in order. A returned
	// error is transport-level (network, timeout, bad status) and means
	// no ticket information is available.
	SendBatch(ctx context.Context, msgs []Message) ([]Ticket, error)
}

// Client is an HTTP Transport posting to a push gateway endpoint.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a Client for the given gateway URL. timeout bounds
// each HTTP call; a timeout is a retryable failure.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type batchRequest struct {
	Messages []Message `json:"messages"`
}

type batchResponse struct {
	Tickets []Ticket `json:"tickets"`
}

// SendBatch posts messages to the gateway, splitting into chunks of
// MaxBatchSize. Each chunk gets one quick in-process retry before the
// failure is surfaced to the caller.
func (c *Client) SendBatch(ctx context.Context, msgs []Message) ([]Ticket, error) {
	ctx, span := otel.Tracer("push").Start(ctx, "push.send_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("push.batch_size", len(msgs)))

	tickets := make([]Ticket, 0, len(msgs))
	for start := 0; start < len(msgs); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		batch := msgs[start:end]

		var chunk []Ticket
		err := backoff.Do(ctx, backoff.Config{
			MaxAttempts: sendAttempts,
			OnRetry: func(_ int, err error) {
				span.RecordError(err)
			},
		}, func() error {
			var serr error
			chunk, serr = c.send(ctx, batch)
			return serr
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "gateway call failed")
			return nil, err
		}
		tickets = append(tickets, chunk...)
	}
	return tickets, nil
}

func (c *Client) send(ctx context.Context, msgs []Message) ([]Ticket, error) {
	body, err := json.Marshal(batchRequest{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("marshal push batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push gateway call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}

	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}
	if len(out.Tickets) != len(msgs) {
		return nil, fmt.Errorf("push gateway returned %d tickets for %d messages", len(out.Tickets), len(msgs))
	}
	return out.Tickets, nil
}
