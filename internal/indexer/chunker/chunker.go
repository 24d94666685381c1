// Package chunker splits document text into overlapping windows for the
// semantic index.
package chunker

import (
	"regexp"
	"strings"
)

var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// Sentences splits text after terminal punctuation that is followed by
// whitespace. Text without such a boundary is returned as one sentence.
func Sentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}
	var sentences []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start : loc[0]+1]); s != "" {
			sentences = append(sentences, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// BySentence groups sentences into windows of at most maxChunkSize. Each
// window starts max(1, maxChunkSize-overlap) sentences after the previous
// one, and no window is started once one has reached the final sentence.
func BySentence(text string, maxChunkSize, overlap int) []string {
	return windows(Sentences(text), maxChunkSize, overlap)
}

// FixedSize groups whitespace-separated words into windows of chunkSize
// words, stepping the same way as BySentence.
func FixedSize(text string, chunkSize, overlap int) []string {
	return windows(strings.Fields(text), chunkSize, overlap)
}

func windows(units []string, size, overlap int) []string {
	chunks := make([]string, 0)
	if len(units) == 0 {
		return chunks
	}
	if size < 1 {
		size = 1
	}
	step := max(1, size-max(0, overlap))
	for start := 0; start < len(units); start += step {
		end := min(start+size, len(units))
		chunks = append(chunks, strings.Join(units[start:end], " "))
		if end == len(units) {
			break
		}
	}
	return chunks
}
