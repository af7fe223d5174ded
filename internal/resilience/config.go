package resilience

import "time"

// BreakerFromSettings builds a breaker config from plain settings; zero
// values keep the defaults.
func BreakerFromSettings(failureThreshold int, resetTimeout time.Duration) BreakerConfig {
	return BreakerConfig{FailureThreshold: failureThreshold, ResetTimeout: resetTimeout}
}
