// Package logging builds the slog loggers used across murmur and provides
// shared attribute helpers plus context plumbing for job and stage fields.
package logging
