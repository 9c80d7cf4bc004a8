package chunker

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Short(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace", "  \n\n ", nil},
		{"short", "hello", []string{"hello"}},
		{"short trimmed", "\n  hi there  \n", []string{"hi there"}},
		{"exactly limit", strings.Repeat("a", 10), []string{strings.Repeat("a", 10)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.in, 10))
		})
	}
}

func TestSplit_PrefersNewline(t *testing.T) {
	got := Split("first line\nsecond one", 15)
	assert.Equal(t, []string{"first line", "second one"}, got)
}

func TestSplit_NewlineBeatsLaterSpace(t *testing.T) {
	got := Split("ab\ncd ef gh ij", 10)
	assert.Equal(t, []string{"ab", "cd ef gh", "ij"}, got)
}

func TestSplit_FallsBackToSpace(t *testing.T) {
	got := Split("one two three four", 9)
	assert.Equal(t, []string{"one two", "three", "four"}, got)
}

func TestSplit_HardCutLongWord(t *testing.T) {
	got := Split(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{
		strings.Repeat("x", 10),
		strings.Repeat("x", 10),
		strings.Repeat("x", 5),
	}, got)
}

func TestSplit_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é", 15)
	got := Split(text, 10)
	require.Len(t, got, 2)
	assert.Equal(t, 10, utf8.RuneCountInString(got[0]))
	assert.Equal(t, 5, utf8.RuneCountInString(got[1]))
}

func TestSplit_DefaultLimit(t *testing.T) {
	text := strings.Repeat("word ", 1000) // 5000 runes
	got := Split(text, 0)
	require.Greater(t, len(got), 2)
	for _, c := range got {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), DefaultLimit)
	}
}

func TestSplit_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcdefghij  \n\t🤖é")

	for i := 0; i < 300; i++ {
		n := rng.Intn(400)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		text := string(runes)
		limit := 1 + rng.Intn(60)

		chunks := Split(text, limit)

		for _, c := range chunks {
			assert.NotEmpty(t, c)
			assert.LessOrEqual(t, utf8.RuneCountInString(c), limit)
			assert.Equal(t, strings.TrimSpace(c), c)
		}

		// Only whitespace is lost at split points.
		assert.Equal(t, strip(text), strip(strings.Join(chunks, "")), "text %q limit %d", text, limit)

		if utf8.RuneCountInString(strings.TrimSpace(text)) <= limit && strings.TrimSpace(text) != "" {
			assert.Equal(t, []string{strings.TrimSpace(text)}, chunks)
		}
	}
}

func strip(s string) string {
	return strings.Join(strings.Fields(s), "")
}
