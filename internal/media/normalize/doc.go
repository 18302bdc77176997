// Package normalize converts incompatible or oversized audio into a
// representation the transcription service accepts. Conversion failures are
// deliberately non-fatal: the pipeline proceeds with the original bytes and
// surfaces warnings, leaving the retry loop to handle a downstream
// transcription failure.
package normalize
