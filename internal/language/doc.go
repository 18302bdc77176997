// Package language normalizes language hints. User-supplied hints arrive as
// codes or full words ("english", "eng", "en") and must reach the
// transcription service as ISO 639-1; display names feed the stats output.
package language
