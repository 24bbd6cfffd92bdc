package parser

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps file extensions (without the dot) to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the built-in text, markdown, pdf,
// xlsx and html parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&TextParser{}, &PDFParser{}, &XLSXParser{}, &HTMLParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser for format. Lookup ignores case and a leading dot.
func (r *Registry) Get(format string) (Parser, error) {
	key := strings.ToLower(strings.TrimPrefix(format, "."))
	p, ok := r.parsers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoParser, format)
	}
	return p, nil
}

// Register adds or replaces the parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(strings.TrimPrefix(format, "."))] = p
}

// Formats lists the registered formats, sorted.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
