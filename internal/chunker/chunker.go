// Package chunker splits extracted document text into word-bounded chunks.
package chunker

import (
	"iter"
	"strings"
)

const DefaultWordsPerChunk = 512

type Chunker struct {
	wordsPerChunk int
}

type Option func(*Chunker)

// WithWordsPerChunk sets the upper bound of words in a chunk. Values below 1
// are ignored.
func WithWordsPerChunk(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.wordsPerChunk = n
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{wordsPerChunk: DefaultWordsPerChunk}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chunker) WordsPerChunk() int {
	return c.wordsPerChunk
}

// Chunks yields consecutive, non-overlapping runs of at most WordsPerChunk
// words. Each range over the returned sequence starts again from the
// beginning of text.
func (c *Chunker) Chunks(text string) iter.Seq[string] {
	size := c.wordsPerChunk
	return func(yield func(string) bool) {
		words := strings.Fields(text)
		for start := 0; start < len(words); start += size {
			end := min(start+size, len(words))
			if !yield(strings.Join(words[start:end], " ")) {
				return
			}
		}
	}
}

func (c *Chunker) Split(text string) []string {
	var out []string
	for chunk := range c.Chunks(text) {
		out = append(out, chunk)
	}
	return out
}
