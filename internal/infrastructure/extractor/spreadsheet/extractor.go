package spreadsheet

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Extractor flattens xlsx workbooks into tab-separated text, one sheet per
// section.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Tool() string { return "excelize" }

func (e *Extractor) ExtractPath(_ context.Context, path string) (string, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	var out strings.Builder
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString("# ")
		out.WriteString(sheet)
		out.WriteString("\n")
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			out.WriteString(line)
			out.WriteString("\n")
		}
	}
	return strings.TrimSpace(out.String()), nil
}
