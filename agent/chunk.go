package agent

// chunkString splits text into at most parts contiguous pieces of equal rune
// length (the last may be shorter). Empty text yields one empty piece, so
// every response carries at least one delta.
func chunkString(text string, parts int) []string {
	if parts <= 1 {
		return []string{text}
	}

	runes := []rune(text)
	size := (len(runes) + parts - 1) / parts
	if size == 0 {
		return []string{""}
	}

	chunks := make([]string, 0, parts)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
