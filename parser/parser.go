// Package parser turns document files into ordered text sections.
package parser

import (
	"context"
	"errors"
	"strings"
)

// ErrNoParser is returned by Registry.Get for a format nobody handles.
var ErrNoParser = errors.New("parser: no parser for format")

// Parse methods.
const (
	MethodNative   = "native"
	MethodMarkdown = "markdown"
)

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Title    string
	Sections []Section
	Method   string
	Metadata map[string]string
}

// Text joins the section headings and contents in order.
func (r *ParseResult) Text() string {
	var b strings.Builder
	for _, s := range r.Sections {
		if s.Heading != "" {
			b.WriteString(s.Heading)
			b.WriteByte('\n')
		}
		if s.Content != "" {
			b.WriteString(s.Content)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// Section represents a logical section of a parsed document.
type Section struct {
	Heading    string
	Content    string
	Level      int // 1 = top
	PageNumber int
	Type       string // "section", "table", "definition", "requirement", "paragraph", "annex"
	Metadata   map[string]string
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}
