// Package transcribe talks to a Whisper-compatible HTTP transcription
// service. Uploads are multipart form posts; transient upstream failures are
// retried with exponential backoff, while client-side rejections surface
// immediately as typed errors.
package transcribe
