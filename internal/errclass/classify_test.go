package errclass

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyCategories(t *testing.T) {
	cases := []struct {
		name      string
		message   string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"missing migration", "missing migration 0042", CategoryMissingMigration, SeverityCritical, false},
		{"missing function", "no such function: transcode", CategoryMissingFunction, SeverityCritical, false},
		{"missing table", "no such table: jobs", CategoryMissingTable, SeverityCritical, false},
		{"missing relation", `relation "jobs" does not exist`, CategoryMissingTable, SeverityCritical, false},
		{"rate limit phrase", "rate limit exceeded", CategoryRateLimit, SeverityMedium, true},
		{"invalid input", "invalid input format", CategoryValidation, SeverityLow, false},
		{"timeout", "context deadline exceeded", CategoryTimeout, SeverityMedium, true},
		{"rate limit", "429 Too Many Requests", CategoryRateLimit, SeverityMedium, true},
		{"api error", "api error: bad gateway", CategoryAPIError, SeverityMedium, true},
		{"validation", "unsupported format: flac", CategoryValidation, SeverityLow, false},
		{"network", "dial tcp: connection refused", CategoryNetwork, SeverityMedium, true},
		{"storage", "download failed for object", CategoryStorage, SeverityMedium, true},
		{"concurrency", "job already being processed", CategoryConcurrency, SeverityLow, true},
		{"auth", "401 Unauthorized", CategoryAuth, SeverityHigh, false},
		{"quota", "insufficient credits remaining", CategoryQuota, SeverityHigh, false},
		{"circuit", "circuit breaker open", CategoryCircuitBreaker, SeverityHigh, true},
		{"resource", "upload too large", CategoryResource, SeverityHigh, true},
		{"database", "sqlite: constraint failed", CategoryDatabase, SeverityMedium, true},
		{"unknown", "something inexplicable happened", CategoryUnknown, SeverityMedium, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyMessage(tc.message)
			if got.Category != tc.category {
				t.Errorf("category: expected %s, got %s", tc.category, got.Category)
			}
			if got.Severity != tc.severity {
				t.Errorf("severity: expected %s, got %s", tc.severity, got.Severity)
			}
			if got.Retryable != tc.retryable {
				t.Errorf("retryable: expected %v, got %v", tc.retryable, got.Retryable)
			}
		})
	}
}

func TestClassifyNilError(t *testing.T) {
	got := Classify(nil)
	if got.Category != CategoryUnknown {
		t.Fatalf("expected unknown, got %s", got.Category)
	}
	if !got.Retryable {
		t.Fatal("expected nil error classification to be retryable")
	}
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	got := Classify(errors.New("RATE LIMIT exceeded"))
	if got.Category != CategoryRateLimit {
		t.Fatalf("expected rate_limit, got %s", got.Category)
	}
}

func TestFirstMatchWins(t *testing.T) {
	// Contains both timeout and network keywords; the timeout rule is first.
	got := ClassifyMessage("network call timed out")
	if got.Category != CategoryTimeout {
		t.Fatalf("expected timeout, got %s", got.Category)
	}
}

func TestRefineAPIErrorQuota(t *testing.T) {
	got := ClassifyMessage("api error: quota exceeded for this billing period")
	if got.Category != CategoryAPIError {
		t.Fatalf("expected api_error, got %s", got.Category)
	}
	if got.Retryable {
		t.Fatal("quota-flavored api errors must not be retryable")
	}
	if got.Severity != SeverityHigh {
		t.Fatalf("expected high severity, got %s", got.Severity)
	}
}

func TestRefineAPIErrorAuth(t *testing.T) {
	got := ClassifyMessage("api error: invalid api key")
	if got.Retryable {
		t.Fatal("auth-flavored api errors must not be retryable")
	}
}

func TestByCategory(t *testing.T) {
	if c := ByCategory(CategoryValidation); c.Category != CategoryValidation || c.Retryable {
		t.Fatalf("validation: %+v", c)
	}
	if c := ByCategory(CategoryTimeout); !c.Retryable || c.RetryDelay != 2*time.Second {
		t.Fatalf("timeout: %+v", c)
	}
	if c := ByCategory(CategoryAuth); c.Retryable || c.Severity != SeverityHigh {
		t.Fatalf("auth: %+v", c)
	}
	if c := ByCategory(Category("made_up")); c.Category != CategoryUnknown {
		t.Fatalf("unrecognized category: %+v", c)
	}
}

func TestShouldRetry(t *testing.T) {
	retryable := Classification{Category: CategoryTimeout, Severity: SeverityMedium, Retryable: true}

	if !ShouldRetry(retryable, 0, 3) {
		t.Fatal("expected retry on first failure")
	}
	if ShouldRetry(retryable, 3, 3) {
		t.Fatal("expected no retry once attempts reach the cap")
	}
	if ShouldRetry(Classification{Retryable: false}, 0, 3) {
		t.Fatal("expected no retry for non-retryable classification")
	}
	if ShouldRetry(Classification{Retryable: true, Severity: SeverityCritical}, 0, 3) {
		t.Fatal("expected no retry for critical severity")
	}
	if ShouldRetry(Classification{Retryable: true, Severity: SeverityHigh}, 2, 5) {
		t.Fatal("expected high severity to exhaust after two attempts")
	}
	if !ShouldRetry(retryable, 1, 0) {
		t.Fatal("expected default max attempts when cap is zero")
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	c := Classification{RetryDelay: 2 * time.Second}

	first := RetryDelay(c, 1)
	if first < 2*time.Second || first > 2200*time.Millisecond {
		t.Fatalf("attempt 1: expected ~2s, got %s", first)
	}

	third := RetryDelay(c, 3)
	if third < 8*time.Second {
		t.Fatalf("attempt 3: expected >= 8s, got %s", third)
	}

	huge := RetryDelay(c, 10)
	if huge > 30*time.Second {
		t.Fatalf("expected cap at 30s, got %s", huge)
	}
}

func TestRetryDelayDefaultsBase(t *testing.T) {
	got := RetryDelay(Classification{}, 1)
	if got < 2*time.Second {
		t.Fatalf("expected default base of 2s, got %s", got)
	}
}
