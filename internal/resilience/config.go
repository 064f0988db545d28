package resilience

import (
	"time"

	"github.com/sells-group/matchguard/internal/config"
)

// FromCrossValidation derives the retry policy for corroboration calls. The
// backoff is bounded by the per-call timeout so retries never outlive it.
func FromCrossValidation(cfg config.CrossValidationConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.TimeoutMs > 0 {
		timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
		rc.InitialBackoff = min(rc.InitialBackoff, timeout/10)
		rc.MaxBackoff = min(rc.MaxBackoff, timeout/2)
	}
	return rc
}

// BreakerForCrossValidation returns the circuit breaker settings for the
// corroboration client. Five consecutive failures open the circuit for the
// rest of a typical run.
func BreakerForCrossValidation(cfg config.CrossValidationConfig) CircuitBreakerConfig {
	cb := DefaultCircuitBreakerConfig()
	if cfg.TimeoutMs > 0 {
		cb.ResetTimeout = 6 * time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	return cb
}
