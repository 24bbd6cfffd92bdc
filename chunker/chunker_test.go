package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/akg/parser"
)

func TestChunkSimple(t *testing.T) {
	c := New(Config{MaxTokens: 512, Overlap: 64})
	chunks := c.Chunk([]parser.Section{{
		Heading: "Introduction",
		Content: "This is the introduction to the document.",
	}})
	require.Len(t, chunks, 1)
	assert.Equal(t, "Introduction\n\nThis is the introduction to the document.", chunks[0])
}

func TestChunkKeepsSectionOrder(t *testing.T) {
	c := New(Config{MaxTokens: 512})
	chunks := c.Chunk([]parser.Section{
		{Heading: "First", Content: "Alpha."},
		{Heading: "Heading only"},
		{Content: "   "},
		{Content: "Bravo."},
		{Heading: "Third", Content: "Charlie."},
	})
	assert.Equal(t, []string{"First\n\nAlpha.", "Bravo.", "Third\n\nCharlie."}, chunks)
}

func TestChunkLongContentWithOverlap(t *testing.T) {
	var paras []string
	for i := 0; i < 5; i++ {
		paras = append(paras, strings.TrimSpace(strings.Repeat(fmt.Sprintf("word%d ", i), 20)))
	}
	c := New(Config{MaxTokens: 50, Overlap: 10})
	chunks := c.Chunk([]parser.Section{{Heading: "Heading", Content: strings.Join(paras, "\n\n")}})

	require.Len(t, chunks, 5)
	for i, ch := range chunks {
		assert.True(t, strings.HasPrefix(ch, "Heading\n\n"), "chunk[%d] lacks the heading: %q", i, ch)
		assert.LessOrEqual(t, estimateTokens(ch), 50, "chunk[%d]", i)
		assert.Contains(t, ch, fmt.Sprintf("word%d", i))
	}
	// The second chunk opens with the tail of the first.
	assert.True(t, strings.HasPrefix(chunks[1], "Heading\n\nword0 word0"), chunks[1])
}

func TestChunkLongParagraphSplitsBySentence(t *testing.T) {
	words := []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf", "Hotel", "India", "Juliet"}
	var sentences []string
	for _, w := range words {
		sentences = append(sentences, w+" runs fast today.")
	}
	c := New(Config{MaxTokens: 20, Overlap: -1})
	chunks := c.ChunkText(strings.Join(sentences, " "))
	require.GreaterOrEqual(t, len(chunks), 2, "the paragraph should be split")

	all := strings.Join(chunks, " ")
	for _, w := range words {
		assert.Equal(t, 1, strings.Count(all, w+" runs"), "%q without overlap", w)
	}
	for i, ch := range chunks {
		assert.LessOrEqual(t, estimateTokens(ch), 20, "chunk[%d]", i)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	assert.Nil(t, New(Config{}).ChunkText("  \n "))
}

func TestNewDefaults(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantMax     int
		wantOverlap int
	}{
		{"zero value", Config{}, 1024, 128},
		{"custom", Config{MaxTokens: 256, Overlap: 32}, 256, 32},
		{"negative overlap disables it", Config{MaxTokens: 100, Overlap: -1}, 100, 0},
		{"overlap larger than chunk", Config{MaxTokens: 100, Overlap: 200}, 100, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.cfg)
			assert.Equal(t, tt.wantMax, c.cfg.MaxTokens)
			assert.Equal(t, tt.wantOverlap, c.cfg.Overlap)
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hello", 2},
		{"one two three", 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, estimateTokens(tt.text), tt.text)
	}
}

func TestSplitOnPunctuation(t *testing.T) {
	got := splitOnPunctuation("Hello world. Version 1.2 is out? Fine!")
	assert.Equal(t, []string{"Hello world.", "Version 1.2 is out?", "Fine!"}, got)
}

func TestExtractOverlap(t *testing.T) {
	assert.Equal(t, "d e", extractOverlap("a b c d e", 3))
	assert.Empty(t, extractOverlap("a b c", 0), "zero budget gives no overlap")
	assert.Equal(t, "a b", extractOverlap("a b", 100))
}

func TestSplitParagraphs(t *testing.T) {
	got := splitParagraphs("one\n\n\n\ntwo\n\n  \n\nthree")
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0])
	assert.Equal(t, "three", got[2])
}
