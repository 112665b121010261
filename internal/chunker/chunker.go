package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the target chunk size in characters. 10k characters
// keeps each chunk well inside typical LLM context limits while leaving
// enough surrounding text for date attribution.
const DefaultChunkSize = 10_000

// Split breaks text into ordered chunks of at most roughly maxSize
// characters. The window is cut back to the nearest preceding whitespace so
// words are not split; when a window contains no whitespace at all the cut
// happens at the window boundary (pulled back to a rune start, so chunks
// stay valid UTF-8), making maxSize a target rather than a hard cap on word
// integrity. Each chunk is trimmed, and chunks that trim to nothing are
// dropped. Returns nil for empty text or non-positive maxSize. Identical
// input always produces identical output.
func Split(text string, maxSize int) []string {
	if text == "" || maxSize <= 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + maxSize
		if end < len(text) {
			if cut := lastSpaceIn(text, start, end); cut > start {
				end = cut + 1
			} else {
				// No whitespace in the window; back the hard cut up to a rune
				// boundary so a multi-byte character is never split.
				boundary := end
				for boundary > start && !utf8.RuneStart(text[boundary]) {
					boundary--
				}
				if boundary > start {
					end = boundary
				}
			}
		} else {
			end = len(text)
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		start = end
	}
	return chunks
}

// lastSpaceIn returns the index of the last ASCII whitespace byte in
// text[start:end], searching backward from end inclusive, or -1 if there is
// none. Only ASCII bytes qualify: a UTF-8 continuation byte such as 0xA0
// must not read as NBSP, or the cut lands mid-character.
func lastSpaceIn(text string, start, end int) int {
	if end >= len(text) {
		end = len(text) - 1
	}
	for i := end; i >= start; i-- {
		if c := text[i]; c < utf8.RuneSelf && unicode.IsSpace(rune(c)) {
			return i
		}
	}
	return -1
}
