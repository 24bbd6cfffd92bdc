package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser renders each non-empty sheet as a pipe table section.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xlsm"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	res := &ParseResult{Method: MethodNative}
	if props, err := f.GetDocProps(); err == nil && props != nil {
		res.Title = strings.TrimSpace(props.Title)
	}

	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		var b strings.Builder
		for _, row := range rows {
			if strings.TrimSpace(strings.Join(row, "")) == "" {
				continue
			}
			b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		if b.Len() == 0 {
			continue
		}
		res.Sections = append(res.Sections, Section{
			Heading: sheet,
			Content: strings.TrimRight(b.String(), "\n"),
			Type:    "table",
			Level:   1,
			Metadata: map[string]string{
				"sheet_name": sheet,
				"row_count":  fmt.Sprintf("%d", len(rows)),
			},
		})
	}

	if len(res.Sections) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}
	return res, nil
}
