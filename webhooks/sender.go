package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/goliatone/go-debouncer/core"
)

const defaultResponseBodyLimit int64 = 1 << 20 // 1 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Option func(*Sender)

func WithHTTPClient(client HTTPDoer) Option {
	return func(s *Sender) {
		if client != nil {
			s.client = client
		}
	}
}

func WithHeader(key, value string) Option {
	return func(s *Sender) {
		if strings.TrimSpace(key) != "" {
			s.headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *Sender) {
		s.logger = logger
		s.observer = core.NewObserver(logger, s.metrics)
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(s *Sender) {
		s.metrics = metrics
		s.observer = core.NewObserver(s.logger, metrics)
	}
}

// Sender POSTs the JSON payload to a single webhook URL.
type Sender struct {
	url              string
	userAgent        string
	timeout          time.Duration
	maxResponseBytes int64
	headers          map[string]string
	client           HTTPDoer
	breaker          *gobreaker.CircuitBreaker
	logger           core.Logger
	metrics          core.MetricsRecorder
	observer         core.Observer
}

func NewSender(cfg core.WebhookConfig, opts ...Option) (*Sender, error) {
	target := strings.TrimSpace(cfg.URL)
	if target == "" {
		return nil, core.ConfigError("webhooks: url is required", nil)
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, core.ConfigError("webhooks: url is invalid", map[string]any{"url": target})
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = core.DefaultWebhookTimeout
	}
	maxResponseBytes := cfg.MaxResponseBytes
	if maxResponseBytes <= 0 {
		maxResponseBytes = defaultResponseBodyLimit
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = core.DefaultWebhookUserAgent
	}

	sender := &Sender{
		url:              parsed.String(),
		userAgent:        userAgent,
		timeout:          timeout,
		maxResponseBytes: maxResponseBytes,
		headers:          map[string]string{},
		client:           &http.Client{},
		metrics:          core.NopMetricsRecorder{},
		observer:         core.NewObserver(nil, nil),
	}
	if cfg.Breaker.Enabled {
		sender.breaker = newCircuitBreaker(cfg.Breaker)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sender)
		}
	}
	return sender, nil
}

func newCircuitBreaker(cfg core.BreakerConfig) *gobreaker.CircuitBreaker {
	failures := cfg.ConsecutiveFailures
	if failures <= 0 {
		failures = 20
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
	})
}

// statusError lets a non-2xx response count as a breaker failure while the
// response itself is still reported.
type statusError struct {
	outcome core.DeliveryOutcome
}

func (e statusError) Error() string {
	return e.outcome.Error()
}

// Send never returns an error: every failure is folded into the outcome.
func (s *Sender) Send(ctx context.Context, conversationID string, payload map[string]any) core.DeliveryOutcome {
	startedAt := time.Now()
	outcome := s.execute(ctx, payload)
	outcome.Duration = time.Since(startedAt)

	var observeErr error
	if !outcome.Success {
		observeErr = errors.New(outcome.Error())
	}
	s.observer.Observe(ctx, startedAt, "webhook_send", observeErr, map[string]any{
		"conversation_id": conversationID,
		"kind":            outcome.Kind,
		"status_code":     outcome.StatusCode,
	})
	return outcome
}

func (s *Sender) execute(ctx context.Context, payload map[string]any) core.DeliveryOutcome {
	if s.breaker == nil {
		return s.post(ctx, payload)
	}
	var outcome core.DeliveryOutcome
	_, err := s.breaker.Execute(func() (interface{}, error) {
		outcome = s.post(ctx, payload)
		if !outcome.Success {
			return nil, statusError{outcome: outcome}
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return core.FailedOutcome(core.OutcomeKindCircuitOpen, err.Error())
	}
	return outcome
}

func (s *Sender) post(ctx context.Context, payload map[string]any) core.DeliveryOutcome {
	if ctx == nil {
		ctx = context.Background()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return core.FailedOutcome(core.OutcomeKindRequestError, fmt.Sprintf("encode payload: %v", err))
	}

	requestCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return core.FailedOutcome(core.OutcomeKindRequestError, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	res, err := s.client.Do(req)
	if err != nil {
		if isTimeout(err) || errors.Is(requestCtx.Err(), context.DeadlineExceeded) {
			return core.FailedOutcome(core.OutcomeKindTimeout, err.Error())
		}
		return core.FailedOutcome(core.OutcomeKindRequestError, err.Error())
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, s.maxResponseBytes))
	if err != nil && isTimeout(err) {
		return core.FailedOutcome(core.OutcomeKindTimeout, err.Error())
	}
	return core.DeliveredOutcome(res.StatusCode, string(raw))
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ core.Sender = (*Sender)(nil)
