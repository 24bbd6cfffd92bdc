package parser

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextParser handles plain text and markdown files. Markdown is split on
// ATX headings ("#", "##", ...).
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md", "markdown"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	content := strings.TrimSpace(string(data))
	res := &ParseResult{Method: MethodNative}
	if content == "" {
		return res, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".md" || ext == ".markdown" {
		res.Method = MethodMarkdown
		res.Sections = splitMarkdown(content)
		for _, s := range res.Sections {
			if s.Level == 1 && s.Heading != "" {
				res.Title = s.Heading
				break
			}
		}
	} else {
		res.Sections = []Section{{
			Heading: filepath.Base(path),
			Content: content,
			Level:   1,
			Type:    "paragraph",
		}}
	}
	if res.Title == "" {
		res.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return res, nil
}

// splitMarkdown cuts markdown text at ATX headings. Headings inside fenced
// code blocks are ignored.
func splitMarkdown(text string) []Section {
	var (
		sections []Section
		heading  string
		level    int
		body     strings.Builder
		fenced   bool
	)
	flush := func() {
		c := strings.TrimSpace(body.String())
		if c != "" || heading != "" {
			sections = append(sections, Section{
				Heading: heading,
				Content: c,
				Level:   level,
				Type:    classifySectionType(heading, c),
			})
		}
		body.Reset()
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
		}
		if !fenced {
			if lvl, h, ok := atxHeading(line); ok {
				flush()
				heading, level = h, lvl
				continue
			}
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

func atxHeading(line string) (int, string, bool) {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(line) || line[n] != ' ' {
		return 0, "", false
	}
	h := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line[n:]), "#"))
	if h == "" {
		return 0, "", false
	}
	return n, h, true
}
