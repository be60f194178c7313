package chunker

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_EmptyText(t *testing.T) {
	c := New()
	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("  \n\t "))
}

func TestChunker_FinalChunkShorter(t *testing.T) {
	c := New(WithWordsPerChunk(3))
	chunks := c.Split("one two three four five six seven")
	assert.Equal(t, []string{"one two three", "four five six", "seven"}, chunks)
}

func TestChunker_InvalidSizeKeepsDefault(t *testing.T) {
	assert.Equal(t, DefaultWordsPerChunk, New(WithWordsPerChunk(0)).WordsPerChunk())
	assert.Equal(t, 1024, New(WithWordsPerChunk(1024)).WordsPerChunk())
}

func TestChunker_BoundAndReconstruction(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	seps := []string{" ", "  ", "\n", "\t", " \n "}

	for _, size := range []int{1, 2, 5, 512} {
		for trial := 0; trial < 20; trial++ {
			n := rng.Intn(1500)
			var b strings.Builder
			for i := 0; i < n; i++ {
				b.WriteString(seps[rng.Intn(len(seps))])
				fmt.Fprintf(&b, "w%d", rng.Intn(100))
			}
			text := b.String()

			chunks := New(WithWordsPerChunk(size)).Split(text)
			for _, ch := range chunks {
				assert.LessOrEqual(t, len(strings.Fields(ch)), size)
				assert.NotEmpty(t, ch)
			}
			assert.Equal(t, strings.Join(strings.Fields(text), " "), strings.Join(chunks, " "))
		}
	}
}

func TestChunker_Restartable(t *testing.T) {
	seq := New(WithWordsPerChunk(2)).Chunks("a b c d e")

	var first, second []string
	for ch := range seq {
		first = append(first, ch)
	}
	for ch := range seq {
		second = append(second, ch)
	}
	require.Len(t, first, 3)
	assert.Equal(t, first, second)
}

func TestChunker_EarlyStop(t *testing.T) {
	seq := New(WithWordsPerChunk(1)).Chunks("a b c d e")
	var got []string
	for ch := range seq {
		got = append(got, ch)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}
