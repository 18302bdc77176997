package transcribe

import "strings"

// splitChunks cuts data into consecutive pieces of at most chunkSize bytes.
// Order is preserved; the final piece carries the remainder.
func splitChunks(data []byte, chunkSize int64) [][]byte {
	if chunkSize <= 0 || int64(len(data)) <= chunkSize {
		return [][]byte{data}
	}
	chunks := make([][]byte, 0, (int64(len(data))+chunkSize-1)/chunkSize)
	for start := int64(0); start < int64(len(data)); start += chunkSize {
		end := start + chunkSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// mergeTexts joins per-chunk transcripts in their original order, skipping
// blanks so a silent chunk does not inject stray whitespace.
func mergeTexts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, text := range texts {
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
