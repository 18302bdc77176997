// Package errclass maps failures to a category, severity, retryability, and
// backoff hint. Matching is deliberately string-based: an ordered rule table
// of case-insensitive substrings evaluated top to bottom, first match wins.
// Keeping the table data-driven lets categories grow without touching the
// control flow.
package errclass
