package chunker

import (
	"strings"
	"unicode/utf8"
)

// Sliding-window parameters for SplitLongText, mirrored from the
// secondary per-segment chunking strategy: a long single block of text
// is split into overlapping windows rather than merged with neighbors.
const (
	splitTargetChars  = 1500
	splitOverlapChars = 150
	splitMinChars     = 100
)

var sentenceBreaks = []string{". ", "。", "! ", "? ", "！", "？"}

// SplitLongText splits a long run of text into overlapping windows,
// breaking preferentially at a paragraph, sentence, newline, or word
// boundary, and never inside a UTF-8 rune. Windows cut at a break point
// are trimmed of leading and trailing whitespace. Text of at most
// splitTargetChars runes is returned as a single-element slice
// unchanged; empty text yields nil.
func SplitLongText(text string) []string {
	runes := []rune(text)
	total := len(runes)
	if total <= splitTargetChars {
		if total == 0 {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < total {
		end := start + splitTargetChars
		if end >= total {
			chunks = append(chunks, string(runes[start:total]))
			break
		}

		breakAt := findBreakPoint(runes, start, end)
		chunk := strings.TrimSpace(string(runes[start:breakAt]))
		if utf8.RuneCountInString(chunk) >= splitMinChars {
			chunks = append(chunks, chunk)
		}

		next := breakAt - splitOverlapChars
		if next <= start {
			next = breakAt
		}
		start = next
	}

	return chunks
}

// breakLookbackChars bounds how far back findBreakPoint searches for a
// boundary, rather than scanning the whole [start, end] window.
const breakLookbackChars = 200

// findBreakPoint looks backward from end, within the last
// breakLookbackChars runes of [start, end], for the most preferred
// boundary: paragraph break, sentence end, newline, then a word
// boundary (space). Falls back to end (a hard cutoff) if none found.
func findBreakPoint(runes []rune, start, end int) int {
	searchStart := end - breakLookbackChars
	if searchStart < start {
		searchStart = start
	}
	window := string(runes[searchStart:end])

	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		return searchStart + len([]rune(window[:idx])) + 2
	}

	bestSentence := -1
	for _, sep := range sentenceBreaks {
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			runeIdx := len([]rune(window[:idx])) + len([]rune(sep))
			if runeIdx > bestSentence {
				bestSentence = runeIdx
			}
		}
	}
	if bestSentence >= 0 {
		return searchStart + bestSentence
	}

	if idx := strings.LastIndex(window, "\n"); idx >= 0 {
		return searchStart + len([]rune(window[:idx])) + 1
	}

	if idx := strings.LastIndex(window, " "); idx >= 0 {
		return searchStart + len([]rune(window[:idx])) + 1
	}

	return end
}
