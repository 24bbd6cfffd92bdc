// Package chunker splits parsed sections into ordered text chunks that fit
// an extraction prompt.
package chunker

import (
	"math"
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/brunobiangulo/akg/parser"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens int // Maximum estimated tokens per chunk.
	Overlap   int // Token overlap between consecutive chunks of a section.
}

// Chunker converts parsed document sections into text chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with defaults; a negative Overlap
// disables overlap.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	switch {
	case cfg.Overlap == 0:
		cfg.Overlap = 128
	case cfg.Overlap < 0:
		cfg.Overlap = 0 // disabled
	}
	if cfg.Overlap >= cfg.MaxTokens {
		cfg.Overlap = cfg.MaxTokens / 4
	}
	return &Chunker{cfg: cfg}
}

// Chunk returns the chunks of every section in document order. Each chunk
// of a section starts with the section heading.
func (c *Chunker) Chunk(sections []parser.Section) []string {
	var out []string
	for _, sec := range sections {
		content := strings.TrimSpace(sec.Content)
		heading := strings.TrimSpace(sec.Heading)
		if content == "" {
			continue
		}
		budget := c.cfg.MaxTokens
		if heading != "" {
			budget -= estimateTokens(heading)
		}
		for _, frag := range c.split(content, budget) {
			if heading != "" {
				frag = heading + "\n\n" + frag
			}
			out = append(out, frag)
		}
	}
	return out
}

// ChunkText splits free text the same way as a single untitled section.
func (c *Chunker) ChunkText(text string) []string {
	return c.Chunk([]parser.Section{{Content: text}})
}

// split packs paragraphs into fragments of at most budget tokens. A
// paragraph that is too long on its own is packed sentence by sentence.
func (c *Chunker) split(text string, budget int) []string {
	if budget < 1 {
		budget = 1
	}
	if estimateTokens(text) <= budget {
		return []string{text}
	}
	overlap := min(c.cfg.Overlap, budget/2)

	var units []unit
	for _, para := range splitParagraphs(text) {
		if estimateTokens(para) <= budget {
			units = append(units, unit{text: para, sep: "\n\n"})
			continue
		}
		for _, s := range splitSentences(para) {
			units = append(units, unit{text: s, sep: " "})
		}
	}
	return pack(units, budget, overlap)
}

type unit struct {
	text string
	sep  string // joins this unit to the previous one
}

// pack greedily fills fragments with units. Each new fragment starts with
// the trailing overlap tokens of the previous one. A single unit larger
// than budget is emitted on its own.
func pack(units []unit, budget, overlap int) []string {
	var (
		out    []string
		cur    strings.Builder
		tokens int
	)
	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s == "" {
			return
		}
		out = append(out, s)
		cur.Reset()
		tokens = 0
		if tail := extractOverlap(s, overlap); tail != "" {
			cur.WriteString(tail)
			tokens = estimateTokens(tail)
		}
	}
	fresh := 0 // tokens added since the last flush
	for _, u := range units {
		n := estimateTokens(u.text)
		if tokens+n > budget && fresh > 0 {
			flush()
			fresh = 0
			if tokens+n > budget {
				cur.Reset()
				tokens = 0
			}
		}
		if cur.Len() > 0 {
			cur.WriteString(u.sep)
		}
		cur.WriteString(u.text)
		tokens += n
		fresh += n
	}
	if fresh > 0 {
		out = append(out, strings.TrimSpace(cur.String()))
	}
	return out
}

// estimateTokens approximates the token count of text using a simple
// word-based heuristic: tokens ~ words * 1.3.
func estimateTokens(text string) int {
	return int(math.Ceil(float64(len(strings.Fields(text))) * 1.3))
}

// splitParagraphs splits text on blank-line boundaries.
func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences segments text with prose, falling back to punctuation
// boundaries if segmentation fails.
func splitSentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false))
	if err == nil {
		var out []string
		for _, s := range doc.Sentences() {
			if t := strings.TrimSpace(s.Text); t != "" {
				out = append(out, t)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return splitOnPunctuation(text)
}

// splitOnPunctuation ends a sentence at '.', '?' or '!' followed by
// whitespace or the end of text.
func splitOnPunctuation(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '?', '!':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// extractOverlap returns the trailing words of text worth at most
// maxTokens tokens.
func extractOverlap(text string, maxTokens int) string {
	words := strings.Fields(text)
	n := min(int(float64(maxTokens)/1.3), len(words))
	if n <= 0 {
		return ""
	}
	return strings.Join(words[len(words)-n:], " ")
}
