package docproc

import "strings"

// ChunkWords splits text into windows of size words, each starting size-overlap words
// after the previous one. Whitespace is normalised to single spaces. Text that fits in
// one window is returned as a single chunk; blank text yields no chunks.
// Callers guarantee 0 <= overlap < size.
func ChunkWords(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
