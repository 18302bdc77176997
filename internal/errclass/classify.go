package errclass

import (
	"strings"
	"time"
)

// Category identifies a failure class in the processing taxonomy.
type Category string

const (
	CategoryMissingMigration Category = "missing_migration"
	CategoryMissingFunction  Category = "missing_function"
	CategoryMissingTable     Category = "missing_table"
	CategoryTimeout          Category = "timeout"
	CategoryRateLimit        Category = "rate_limit"
	CategoryAPIError         Category = "api_error"
	CategoryValidation       Category = "validation"
	CategoryNetwork          Category = "network"
	CategoryStorage          Category = "storage"
	CategoryConcurrency      Category = "concurrency"
	CategoryAuth             Category = "auth"
	CategoryQuota            Category = "quota"
	CategoryCircuitBreaker   Category = "circuit_breaker"
	CategoryResource         Category = "resource"
	CategoryDatabase         Category = "database"
	CategoryTranscription    Category = "transcription"
	CategoryAnalysis         Category = "analysis"
	CategoryUnknown          Category = "unknown"
)

// Severity grades how serious a classified failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classification is the pure, derived result of classifying one failure.
type Classification struct {
	Category   Category
	Severity   Severity
	Retryable  bool
	RetryDelay time.Duration
}

const baseRetryDelay = 2 * time.Second

// rule pairs a set of case-insensitive substrings with the classification
// applied when any of them matches. Rules are evaluated in order; the first
// match wins. refine, when set, adjusts the classification from the matched
// message (used by api_error to demote quota/auth failures).
type rule struct {
	keywords []string
	result   Classification
	refine   func(message string, c *Classification)
}

var rules = []rule{
	{
		keywords: []string{"missing migration", "schema_migrations", "schema version mismatch", "migration"},
		result:   Classification{Category: CategoryMissingMigration, Severity: SeverityCritical},
	},
	{
		keywords: []string{"no such function", "function does not exist", "undefined function"},
		result:   Classification{Category: CategoryMissingFunction, Severity: SeverityCritical},
	},
	{
		keywords: []string{"no such table", "relation", "missing table"},
		result:   Classification{Category: CategoryMissingTable, Severity: SeverityCritical},
	},
	{
		keywords: []string{"timeout", "timed out", "deadline exceeded"},
		result:   Classification{Category: CategoryTimeout, Severity: SeverityMedium, Retryable: true, RetryDelay: 2 * time.Second},
	},
	{
		keywords: []string{"rate limit", "too many requests", "429"},
		result:   Classification{Category: CategoryRateLimit, Severity: SeverityMedium, Retryable: true, RetryDelay: 5 * time.Second},
	},
	{
		keywords: []string{"api error", "api_error", "bad gateway", "service unavailable", "http 5"},
		result:   Classification{Category: CategoryAPIError, Severity: SeverityMedium, Retryable: true, RetryDelay: 3 * time.Second},
		refine:   refineAPIError,
	},
	{
		keywords: []string{"validation", "invalid input", "invalid format", "unsupported format", "bad request", "malformed"},
		result:   Classification{Category: CategoryValidation, Severity: SeverityLow},
	},
	{
		keywords: []string{"network", "connection refused", "connection reset", "no such host", "dns", "broken pipe"},
		result:   Classification{Category: CategoryNetwork, Severity: SeverityMedium, Retryable: true, RetryDelay: 2 * time.Second},
	},
	{
		keywords: []string{"storage", "bucket", "download failed", "object not found", "no such file"},
		result:   Classification{Category: CategoryStorage, Severity: SeverityMedium, Retryable: true, RetryDelay: 1500 * time.Millisecond},
	},
	{
		keywords: []string{"lease", "lock", "already being processed", "concurrent", "conflict"},
		result:   Classification{Category: CategoryConcurrency, Severity: SeverityLow, Retryable: true, RetryDelay: time.Second},
	},
	{
		keywords: []string{"unauthorized", "forbidden", "invalid api key", "authentication", "401", "403"},
		result:   Classification{Category: CategoryAuth, Severity: SeverityHigh},
	},
	{
		keywords: []string{"quota", "insufficient credits", "billing", "payment required"},
		result:   Classification{Category: CategoryQuota, Severity: SeverityHigh},
	},
	{
		keywords: []string{"circuit breaker", "circuit open"},
		result:   Classification{Category: CategoryCircuitBreaker, Severity: SeverityHigh, Retryable: true, RetryDelay: 10 * time.Second},
	},
	{
		keywords: []string{"out of memory", "resource exhausted", "too large", "disk full"},
		result:   Classification{Category: CategoryResource, Severity: SeverityHigh, Retryable: true, RetryDelay: 5 * time.Second},
	},
	{
		keywords: []string{"database", "sqlite", "sql", "constraint"},
		result:   Classification{Category: CategoryDatabase, Severity: SeverityMedium, Retryable: true, RetryDelay: 2 * time.Second},
	},
	{
		keywords: []string{"transcription", "transcribe", "whisper"},
		result:   Classification{Category: CategoryTranscription, Severity: SeverityMedium, Retryable: true, RetryDelay: 3 * time.Second},
	},
	{
		keywords: []string{"analysis", "analyze", "completion"},
		result:   Classification{Category: CategoryAnalysis, Severity: SeverityMedium, Retryable: true, RetryDelay: 3 * time.Second},
	},
}

func refineAPIError(message string, c *Classification) {
	switch {
	case containsAny(message, "quota", "billing", "insufficient credits"):
		c.Severity = SeverityHigh
		c.Retryable = false
	case containsAny(message, "unauthorized", "invalid api key", "401", "403"):
		c.Severity = SeverityHigh
		c.Retryable = false
	}
}

// Classify maps an error to its classification. A nil error classifies as
// unknown so callers never branch on a zero value.
func Classify(err error) Classification {
	if err == nil {
		return unknownClassification()
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw failure message.
func ClassifyMessage(message string) Classification {
	lowered := strings.ToLower(message)
	for _, r := range rules {
		if !containsAny(lowered, r.keywords...) {
			continue
		}
		c := r.result
		if r.refine != nil {
			r.refine(lowered, &c)
		}
		return c
	}
	return unknownClassification()
}

// ByCategory returns the canonical classification for a persisted category,
// used to re-evaluate a stored failure without its original error. An
// unrecognized category classifies as unknown.
func ByCategory(category Category) Classification {
	for _, r := range rules {
		if r.result.Category == category {
			return r.result
		}
	}
	return unknownClassification()
}

func unknownClassification() Classification {
	return Classification{
		Category:   CategoryUnknown,
		Severity:   SeverityMedium,
		Retryable:  true,
		RetryDelay: baseRetryDelay,
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
