// Package licenseapi is the client for the remote license authority, a
// PostgREST-style JSON RPC service. It knows nothing about license state;
// it sends requests, retries transport failures and decodes replies.
package licenseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"fontlens/internal/config"
)

const (
	fnValidate   = "validate_license"
	fnDeactivate = "deactivate_device"
	fnInfo       = "get_license_info"

	maxReplyBytes = 1 << 20
	maxBackoff    = 30 * time.Second
)

var (
	// ErrUnreachable covers transport failures, timeouts and 5xx replies
	// once retries are exhausted. It is never a verdict about the key.
	ErrUnreachable = errors.New("license service unreachable")

	// ErrMalformed is returned when a reply cannot be decoded or lacks the
	// success field.
	ErrMalformed = errors.New("license service reply malformed")
)

// RemoteError is a non-retryable 4xx reply without a regular rejection body,
// such as an expired service credential or a missing endpoint. It says nothing
// about the license key.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("license service returned %d: %s", e.Status, e.Message)
}

// Client calls the license RPCs.
type Client struct {
	base       *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMeter sets the meter for request metrics.
func WithMeter(m metric.Meter) Option {
	return func(c *Client) {
		c.requests, _ = m.Int64Counter("fontlens_license_rpc_requests_total",
			metric.WithDescription("License RPC calls by function and outcome"))
		c.duration, _ = m.Float64Histogram("fontlens_license_rpc_duration_seconds",
			metric.WithDescription("License RPC latency including retries"),
			metric.WithUnit("s"))
	}
}

// New creates a client for cfg.URL. The URL must be absolute http(s).
func New(cfg config.EntitlementConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Host == "" || (base.Scheme != "https" && base.Scheme != "http") {
		return nil, fmt.Errorf("invalid license service url %q", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.LicenseCheckTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = config.LicenseCheckBurst
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	c := &Client{
		base:       base,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    backoff,
		logger:     logger.With(slog.String("component", "license_rpc")),
		tracer:     otel.Tracer("fontlens/licenseapi"),
	}
	WithMeter(otel.Meter("fontlens/licenseapi"))(c)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Validate asks the service to validate key for device, registering the
// device against a seat if needed.
func (c *Client) Validate(ctx context.Context, key, device string) (*ValidateReply, error) {
	var reply ValidateReply
	err := c.call(ctx, fnValidate, map[string]string{"p_license_key": key, "p_device_fingerprint": device}, &reply)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// Deactivate releases device's seat on key.
func (c *Client) Deactivate(ctx context.Context, key, device string) (*DeactivateReply, error) {
	var reply DeactivateReply
	err := c.call(ctx, fnDeactivate, map[string]string{"p_license_key": key, "p_device_fingerprint": device}, &reply)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// Info reads seat usage for key.
func (c *Client) Info(ctx context.Context, key string) (*InfoReply, error) {
	var reply InfoReply
	if err := c.call(ctx, fnInfo, map[string]string{"p_license_key": key}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

type wellFormed interface {
	wellFormed() bool
	OK() bool
}

// call posts body to /rpc/fn with exponential backoff between attempts.
func (c *Client) call(ctx context.Context, fn string, body any, out wellFormed) (err error) {
	ctx, span := c.tracer.Start(ctx, "licenseapi."+fn, trace.WithAttributes(attribute.String("rpc.function", fn)))
	start := time.Now()
	defer func() {
		outcome := outcomeOf(err)
		if c.requests != nil {
			c.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("function", fn), attribute.String("outcome", outcome)))
		}
		if c.duration != nil {
			c.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("function", fn)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", fn, err)
	}

	requestID := uuid.NewString()
	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WarnContext(ctx, "retrying license rpc",
				slog.String("function", fn),
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUnreachable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}

		retry, err := c.once(ctx, fn, requestID, payload, out)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrUnreachable, c.maxRetries+1, lastErr)
}

// once performs a single request. retry reports whether the failure is
// transient.
func (c *Client) once(ctx context.Context, fn, requestID string, payload []byte, out wellFormed) (retry bool, err error) {
	endpoint := c.base.JoinPath("rpc", fn)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("building %s request: %w", fn, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", config.AppName+"/"+config.AppVersion)
	req.Header.Set("X-Request-ID", requestID)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("%s request failed: %w", fn, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return true, fmt.Errorf("reading %s reply: %w", fn, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("%s returned status %d", fn, resp.StatusCode)
	case resp.StatusCode >= 400:
		// A 4xx may still carry a regular rejection. It can never grant.
		if decodeReply(raw, out) == nil && out.wellFormed() && !out.OK() {
			return false, nil
		}
		c.logger.WarnContext(ctx, "license rpc rejected",
			slog.String("function", fn),
			slog.String("request_id", requestID),
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", truncate(string(raw), 500)))
		return false, &RemoteError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	if err := decodeReply(raw, out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrMalformed, fn, err)
	}
	if !out.wellFormed() {
		return false, fmt.Errorf("%w: %s reply has no success field", ErrMalformed, fn)
	}
	return false, nil
}

// decodeReply accepts a bare object or a one-element array, the two shapes
// PostgREST produces for scalar and set-returning functions.
func decodeReply(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return errors.New("empty result set")
		}
		trimmed = rows[0]
	}
	return json.Unmarshal(trimmed, out)
}

// errorMessage extracts the PostgREST message, falling back to the raw body.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Hint    string `json:"hint"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Message != "":
			return body.Message
		case body.Error != "":
			return body.Error
		case body.Hint != "":
			return body.Hint
		}
	}
	return truncate(strings.TrimSpace(string(raw)), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}

func outcomeOf(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.As(err, &remote):
		return "rejected"
	default:
		return "error"
	}
}
