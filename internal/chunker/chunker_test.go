package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	text := "  The agreement was signed on 2023-06-15.  "
	chunks := Split(text, 10_000)

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != strings.TrimSpace(text) {
		t.Errorf("expected trimmed input, got %q", chunks[0])
	}
}

func TestSplit_EmptyInputs(t *testing.T) {
	if got := Split("", 100); got != nil {
		t.Errorf("empty text: expected nil, got %v", got)
	}
	if got := Split("some text", 0); got != nil {
		t.Errorf("zero size: expected nil, got %v", got)
	}
	if got := Split("some text", -5); got != nil {
		t.Errorf("negative size: expected nil, got %v", got)
	}
	if got := Split("   \n\t  ", 100); got != nil {
		t.Errorf("whitespace-only text: expected nil, got %v", got)
	}
}

func TestSplit_RespectsWordBoundaries(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 2000) // ~54k chars
	chunks := Split(text, 10_000)

	if len(chunks) < 5 {
		t.Fatalf("expected at least 5 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c == "" {
			t.Fatalf("chunk %d is empty", i)
		}
		// Every chunk should start and end on a whole word.
		for _, word := range strings.Fields(c) {
			switch word {
			case "lorem", "ipsum", "dolor", "sit", "amet":
			default:
				t.Fatalf("chunk %d split a word: %q", i, word)
			}
		}
	}
}

func TestSplit_ReconstructsOriginalText(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 600)
	chunks := Split(text, 1000)

	joined := strings.Join(chunks, " ")
	if strings.Join(strings.Fields(joined), " ") != strings.Join(strings.Fields(text), " ") {
		t.Error("concatenated chunks do not reconstruct the original words")
	}
}

func TestSplit_HardCutWithoutWhitespace(t *testing.T) {
	text := strings.Repeat("a", 25)
	chunks := Split(text, 10)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	want := []int{10, 10, 5}
	for i, c := range chunks {
		if len(c) != want[i] {
			t.Errorf("chunk %d: expected length %d, got %d", i, want[i], len(c))
		}
	}
}

func TestSplit_ThreeChunksAt25k(t *testing.T) {
	text := strings.Repeat("word ", 5000) // 25,000 chars
	chunks := Split(text, 10_000)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 25k chars at size 10k, got %d", len(chunks))
	}
}

func TestSplit_MultibyteRunesStayIntact(t *testing.T) {
	// 100 three-byte runes and no whitespace anywhere, so every cut is a
	// hard cut; none may land inside a rune.
	text := strings.Repeat("ࠀ", 100)
	chunks := Split(text, 50)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reconstruct the original text")
	}
}

func TestSplit_NonASCIILettersAreNotBoundaries(t *testing.T) {
	// "à" is C3 A0; the A0 byte must not read as a non-breaking space.
	word := strings.Repeat("à", 10)
	text := word + " " + word + " " + word
	chunks := Split(text, 25)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8: %q", i, c)
		}
		for _, w := range strings.Fields(c) {
			if w != word {
				t.Errorf("chunk %d split a word: %q", i, w)
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("On 2021-03-04 the parties met to discuss terms. ", 500)

	first := Split(text, 2000)
	second := Split(text, 2000)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}
