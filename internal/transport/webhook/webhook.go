// Package webhook implements a real, non-mock Transport that posts the
// message as JSON to a configured HTTP endpoint, adapted from the shape of
// the Twilio HTTP-API provider: an injectable HTTPClient test seam, a JSON
// request/response cycle, and response-code-driven error classification.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sendcoord/internal/transport"
)

// HTTPClient abstracts http.Client.Do to ease testing without a live server.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customizes the webhook transport.
type Option func(*Transport)

// WithHTTPClient overrides the HTTP client used to reach the endpoint.
func WithHTTPClient(client HTTPClient) Option {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithClock overrides the clock used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		if !reflect.ValueOf(logger).IsZero() {
			t.logger = logger
		}
	}
}

// Transport posts messages to an HTTP endpoint as JSON and expects a JSON
// response carrying a delivery id.
type Transport struct {
	name     string
	endpoint string
	client   HTTPClient
	now      func() time.Time
	logger   zerolog.Logger
}

// New constructs a webhook transport posting to endpoint.
func New(name, endpoint string, opts ...Option) (*Transport, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("webhook transport: name is required")
	}
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("webhook transport: endpoint is required")
	}

	t := &Transport{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Name returns the transport's stable identifier.
func (t *Transport) Name() string { return t.name }

type requestBody struct {
	Destination string `json:"destination"`
	Origin      string `json:"origin"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

type responseBody struct {
	DeliveryID string `json:"delivery_id"`
}

// Attempt posts msg to the configured endpoint and parses the JSON response
// for a delivery id. A non-2xx status is always treated as a transient
// failure, matching the design's single-failure-category taxonomy.
func (t *Transport) Attempt(ctx context.Context, msg transport.Message) (transport.Result, error) {
	payload, err := json.Marshal(requestBody{
		Destination: msg.Destination,
		Origin:      msg.Origin,
		Subject:     msg.Subject,
		Body:        msg.Body,
	})
	if err != nil {
		return transport.Result{}, fmt.Errorf("webhook transport %s: encode request: %w", t.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return transport.Result{}, fmt.Errorf("webhook transport %s: build request: %w", t.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return transport.Result{}, fmt.Errorf("webhook transport %s: request failed: %w", t.name, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Warn().
			Str("transport", t.name).
			Int("status", resp.StatusCode).
			Msg("webhook transport: non-2xx response")
		return transport.Result{}, fmt.Errorf("webhook transport %s: status %d: %s", t.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed responseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return transport.Result{}, fmt.Errorf("webhook transport %s: decode response: %w", t.name, err)
	}
	if parsed.DeliveryID == "" {
		return transport.Result{}, fmt.Errorf("webhook transport %s: response missing delivery_id", t.name)
	}

	return transport.Result{DeliveryID: parsed.DeliveryID, Timestamp: t.now()}, nil
}
