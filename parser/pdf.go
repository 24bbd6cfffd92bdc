package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts page text with ledongthuc/pdf and splits each page on
// heading-like lines.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	res := &ParseResult{Method: MethodNative, Metadata: map[string]string{}}
	if title := strings.TrimSpace(reader.Trailer().Key("Info").Key("Title").Text()); title != "" {
		res.Title = title
	}

	pages := reader.NumPage()
	res.Metadata["pages"] = fmt.Sprintf("%d", pages)
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // unreadable page
		}
		res.Sections = append(res.Sections, splitPageIntoSections(text, i)...)
	}
	if len(res.Sections) == 0 {
		return nil, fmt.Errorf("no extractable text in PDF")
	}
	return res, nil
}

// splitPageIntoSections breaks page text into sections at heading lines.
// Text before the first heading becomes a section without a heading.
func splitPageIntoSections(text string, page int) []Section {
	var (
		out     []Section
		cur     = Section{PageNumber: page}
		content []string
	)
	emit := func() {
		if len(content) == 0 {
			return
		}
		cur.Content = strings.Join(content, "\n")
		cur.Type = classifySectionType(cur.Heading, cur.Content)
		out = append(out, cur)
		content = content[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case isLikelyHeading(line):
			emit()
			cur = Section{PageNumber: page, Heading: line, Level: detectHeadingLevel(line)}
		default:
			content = append(content, line)
		}
	}
	emit()
	return out
}

// headingPrefixes mark a line as a heading when followed by more text.
var headingPrefixes = []string{
	"section ", "article ", "chapter ", "part ", "appendix ", "annex ",
	"sección ", "seccion ", "capítulo ", "capitulo ", "anexo ",
}

// captionPrefixes only count when a number follows.
var captionPrefixes = []string{"table ", "figure ", "tabla ", "figura "}

func isLikelyHeading(line string) bool {
	if len(line) > 2 && len(line) < 100 && line == strings.ToUpper(line) && strings.ToLower(line) != line {
		return true
	}
	if line == "" || len(line) >= 120 {
		return false
	}
	if line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
		return true
	}
	lower := strings.ToLower(line)
	for _, p := range headingPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, p := range captionPrefixes {
		if strings.HasPrefix(lower, p) && len(lower) > len(p) && lower[len(p)] >= '0' && lower[len(p)] <= '9' {
			return true
		}
	}
	return false
}

// detectHeadingLevel counts the dots of a leading section number. Unnumbered
// all-caps headings are top level; anything else is level 2.
func detectHeadingLevel(heading string) int {
	num, _, _ := strings.Cut(heading, " ")
	if dots := strings.Count(num, "."); dots > 0 {
		return dots
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

var (
	definitionWords  = []string{"definition", "definición", "glossary", "glosario"}
	requirementWords = []string{"shall", "must", "requirement", "requisito", "especificación"}
)

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func classifySectionType(heading, content string) string {
	h, c := strings.ToLower(heading), strings.ToLower(content)
	switch {
	case containsAny(h, definitionWords) || containsAny(c, definitionWords[:2]):
		return "definition"
	case containsAny(h, requirementWords) || containsAny(c, requirementWords):
		return "requirement"
	case strings.Contains(h, "table") || strings.Contains(h, "tabla"),
		strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3:
		return "table"
	case strings.Contains(h, "anexo") || strings.Contains(h, "annex"):
		return "annex"
	}
	return "section"
}
