package errclass

import (
	"math/rand"
	"time"
)

const (
	// DefaultMaxAttempts bounds automatic retries per job.
	DefaultMaxAttempts = 3
	maxRetryDelay      = 30 * time.Second
	jitterFraction     = 0.1
)

// ShouldRetry decides whether another attempt is worthwhile given the
// classification and the attempts already made. High-severity failures get a
// shorter retry budget; critical ones none at all.
func ShouldRetry(c Classification, attempts, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if !c.Retryable {
		return false
	}
	if attempts >= maxAttempts {
		return false
	}
	if c.Severity == SeverityCritical {
		return false
	}
	if c.Severity == SeverityHigh && attempts >= 2 {
		return false
	}
	return true
}

// RetryDelay applies exponential backoff to the category's base delay with
// up to 10% jitter, capped at 30 seconds. attempt is 1-based.
func RetryDelay(c Classification, attempt int) time.Duration {
	base := c.RetryDelay
	if base <= 0 {
		base = baseRetryDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxRetryDelay/2 {
			delay = maxRetryDelay
			break
		}
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	jitter := time.Duration(rand.Int63n(int64(float64(delay)*jitterFraction) + 1))
	delay += jitter
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
