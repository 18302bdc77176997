package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteRecording writes a fixture audio file with a WAV header followed by
// filler bytes, so container detection in tests sees a real signature.
func WriteRecording(t testing.TB, path string, size int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	header := []byte("RIFF\x00\x00\x00\x00WAVEfmt ")
	if size < len(header) {
		size = len(header)
	}
	data := make([]byte, size)
	copy(data, header)
	for i := len(header); i < size; i++ {
		data[i] = 0x42
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
