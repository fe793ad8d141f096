// Package webhook delivers relay events to the automation endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"stonksrelay/internal/domain"

	"github.com/google/uuid"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1024
	userAgent       = "stonksrelay/1.0"

	// SignatureHeader carries "sha256=<hex HMAC of the body>" when a secret is set.
	SignatureHeader  = "X-Signature-256"
	DeliveryIDHeader = "X-Relay-Delivery-Id"
)

// ErrDelivery wraps every failed delivery attempt.
var ErrDelivery = errors.New("webhook delivery failed")

// StatusError reports a non-2xx response from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Config configures the Forwarder.
type Config struct {
	URL     string
	Secret  string            // optional HMAC-SHA256 signing secret
	Headers map[string]string // extra request headers
	Timeout time.Duration
	Client  *http.Client // optional; built from Timeout when nil
	Logger  *slog.Logger
}

// Forwarder POSTs each event once to a fixed URL. It never retries.
type Forwarder struct {
	url     string
	secret  string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(cfg Config) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Forwarder{
		url:     cfg.URL,
		secret:  cfg.Secret,
		headers: cfg.Headers,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

// Forward makes a single delivery attempt. Transport errors, timeouts and
// non-2xx responses are returned wrapped in ErrDelivery.
func (f *Forwarder) Forward(ctx context.Context, evt domain.OutboundEvent) (domain.DeliveryResult, error) {
	res := domain.DeliveryResult{DeliveryID: uuid.NewString()}

	body, err := json.Marshal(evt)
	if err != nil {
		return res, fmt.Errorf("%w: marshal event: %v", ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("%w: build request: %v", ErrDelivery, err)
	}
	// Custom headers go first so they cannot replace the reserved ones.
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(DeliveryIDHeader, res.DeliveryID)
	if f.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, f.secret))
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	res.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res.Response = string(respBody)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, fmt.Errorf("%w: %w", ErrDelivery, &StatusError{StatusCode: resp.StatusCode, Body: res.Response})
	}

	f.logger.Debug("webhook acknowledged", "delivery_id", res.DeliveryID, "status", resp.StatusCode)
	return res, nil
}
