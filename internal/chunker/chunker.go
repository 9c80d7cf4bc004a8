// Package chunker splits long replies into pieces that fit Discord's
// message length cap.
package chunker

import (
	"strings"
)

// DefaultLimit is Discord's per-message character cap.
const DefaultLimit = 2000

// Split breaks text into ordered chunks of at most limit runes, preferring to
// cut at the last newline, then the last space, inside the window; a word
// longer than limit is hard-cut. Chunks are trimmed and never empty. Text at
// or under the limit comes back as a single trimmed chunk. limit <= 0 means
// DefaultLimit.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rest := []rune(strings.TrimSpace(text))
	var chunks []string

	for len(rest) > limit {
		window := rest[:limit]

		cut := lastIndex(window, '\n')
		if cut <= 0 {
			cut = lastIndex(window, ' ')
		}
		if cut <= 0 {
			cut = limit
		}

		if head := strings.TrimSpace(string(rest[:cut])); head != "" {
			chunks = append(chunks, head)
		}
		rest = []rune(strings.TrimSpace(string(rest[cut:])))
	}

	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}

func lastIndex(runes []rune, target rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == target {
			return i
		}
	}
	return -1
}
