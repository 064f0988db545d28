package crossval

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/fetcher"
	"github.com/sells-group/matchguard/internal/resilience"
)

// maxResponseBytes bounds the corroboration response body.
const maxResponseBytes = 1 << 20

// HTTPCorroborator posts each Request as JSON to an external corroboration
// service and decodes an Evidence reply. Calls are rate limited, retried on
// transient failures and guarded by a circuit breaker.
type HTTPCorroborator struct {
	url     string
	client  *http.Client
	limiter *fetcher.AdaptiveLimiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// HTTPOption customizes an HTTPCorroborator.
type HTTPOption func(*HTTPCorroborator)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPCorroborator) { h.client = c }
}

// NewHTTP builds an HTTPCorroborator for cfg.URL.
func NewHTTP(cfg config.CrossValidationConfig, opts ...HTTPOption) (*HTTPCorroborator, error) {
	if cfg.URL == "" {
		return nil, eris.New("crossval: http provider requires cross_validation.url")
	}
	perSec := rate.Limit(cfg.RatePerSecond)
	if perSec <= 0 {
		perSec = 10
	}
	retry := resilience.FromCrossValidation(cfg)
	retry.OnRetry = resilience.RetryLogger("crossval", "corroborate")

	breakerCfg := resilience.BreakerForCrossValidation(cfg)
	breakerCfg.Name = "crossval"

	h := &HTTPCorroborator{
		url:     cfg.URL,
		client:  &http.Client{},
		limiter: fetcher.NewAdaptiveLimiter(perSec, max(int(perSec), 1)),
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Corroborate implements Corroborator. The caller's ctx carries the per-call
// timeout.
func (h *HTTPCorroborator) Corroborate(ctx context.Context, req Request) (Evidence, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Evidence{}, eris.Wrap(err, "crossval: marshal request")
	}

	ev, err := resilience.ExecuteVal(ctx, h.breaker, func(ctx context.Context) (Evidence, error) {
		return resilience.DoVal(ctx, h.retry, func(ctx context.Context) (Evidence, error) {
			return h.post(ctx, body)
		})
	})
	if err != nil {
		return Evidence{}, eris.Wrapf(err, "crossval: corroborate %s", req.EntityKey)
	}
	return ev, nil
}

func (h *HTTPCorroborator) post(ctx context.Context, body []byte) (Evidence, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return Evidence{}, eris.Wrap(err, "crossval: rate limiter wait")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Evidence{}, eris.Wrap(err, "crossval: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Evidence{}, eris.Wrap(err, "crossval: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		h.limiter.OnRateLimit()
	}
	if err := resilience.CheckHTTPStatus(resp.StatusCode, h.url); err != nil {
		return Evidence{}, err
	}
	h.limiter.OnSuccess()

	var ev Evidence
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&ev); err != nil {
		return Evidence{}, eris.Wrap(err, "crossval: decode response")
	}
	return ev, nil
}

// New returns the corroborator named by cfg.Provider: "volume" (default),
// "http" or "none".
func New(cfg config.CrossValidationConfig) (Corroborator, error) {
	switch cfg.Provider {
	case "", "volume":
		return NewVolume(cfg), nil
	case "http":
		return NewHTTP(cfg)
	case "none":
		return Neutral{}, nil
	default:
		return nil, eris.Errorf("crossval: unknown provider %q", cfg.Provider)
	}
}

// Neutral answers every request with no information.
type Neutral struct{}

// Corroborate implements Corroborator.
func (Neutral) Corroborate(_ context.Context, req Request) (Evidence, error) {
	return Evidence{EntityKey: req.EntityKey, Assessment: AssessmentNeutral}, nil
}
