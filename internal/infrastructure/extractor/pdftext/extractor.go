package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extractor pulls the embedded text layer out of a PDF. Scanned PDFs without
// a text layer come back empty and the dispatcher falls back.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Tool() string { return "pdftext" }

func (e *Extractor) ExtractPath(_ context.Context, path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	body, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
