package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// HTMLParser reads the title with goquery and converts the page to
// markdown, which is then split on headings like a .md file.
type HTMLParser struct{}

func (p *HTMLParser) SupportedFormats() []string { return []string{"html", "htm"} }

func (p *HTMLParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading HTML file: %w", err)
	}
	return parseHTML(data)
}

func parseHTML(data []byte) (*ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	res := &ParseResult{Method: MethodMarkdown, Metadata: map[string]string{}}
	res.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if res.Title == "" {
		res.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		res.Metadata["description"] = strings.TrimSpace(desc)
	}

	doc.Find("script, style, noscript, nav, footer").Remove()
	body, err := doc.Find("body").Html()
	if err != nil {
		return nil, fmt.Errorf("rendering HTML body: %w", err)
	}
	md, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("converting HTML to markdown: %w", err)
	}
	if md = strings.TrimSpace(md); md != "" {
		res.Sections = splitMarkdown(md)
	}
	return res, nil
}
