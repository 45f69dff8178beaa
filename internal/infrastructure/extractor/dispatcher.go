// Package extractor routes files to the conversion path matching their
// declared type, with a one-shot fallback when the PDF-specialized path
// fails.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/docx"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/spreadsheet"
)

// PathExtractor is one concrete conversion path.
type PathExtractor interface {
	Tool() string
	ExtractPath(ctx context.Context, path string) (string, error)
}

type Dispatcher struct {
	paths    map[string]PathExtractor
	fallback PathExtractor
	logger   *slog.Logger
}

// NewDispatcher wires the default conversion paths: pdf, docx, xlsx, and
// plain text for txt/md.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	plain := plaintext.New()
	return &Dispatcher{
		paths: map[string]PathExtractor{
			"pdf":  pdftext.New(),
			"docx": docx.New(),
			"xlsx": spreadsheet.New(),
			"txt":  plain,
			"md":   plain,
		},
		fallback: plain,
		logger:   logger,
	}
}

func (d *Dispatcher) Validate(_ context.Context, filePath, fileType string) error {
	kind := normalizeType(fileType)
	if kind == "" {
		return domain.WrapError(domain.ErrValidation, "validate file", errors.New("missing file type"))
	}
	if _, ok := d.paths[kind]; !ok {
		return domain.WrapError(domain.ErrValidation, "validate file", fmt.Errorf("unsupported file type %q", fileType))
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return domain.WrapError(domain.ErrValidation, "validate file", fmt.Errorf("file not readable: %w", err))
	}
	if info.IsDir() {
		return domain.WrapError(domain.ErrValidation, "validate file", fmt.Errorf("%s is a directory", filePath))
	}
	if info.Size() == 0 {
		return domain.WrapError(domain.ErrValidation, "validate file", errors.New("file is empty"))
	}
	return nil
}

// Extract converts filePath via the path for its declared type. A failing
// PDF conversion falls back to the generic path once before giving up.
func (d *Dispatcher) Extract(ctx context.Context, filePath, fileType string) (domain.Extraction, error) {
	kind := normalizeType(fileType)
	path, ok := d.paths[kind]
	if !ok {
		return domain.Extraction{}, domain.WrapError(domain.ErrValidation, "extract text", fmt.Errorf("unsupported file type %q", fileType))
	}

	text, err := path.ExtractPath(ctx, filePath)
	if err == nil && text != "" {
		return domain.Extraction{Text: text, Tool: path.Tool()}, nil
	}
	if ctx.Err() != nil {
		return domain.Extraction{}, ctx.Err()
	}

	if kind == "pdf" && d.fallback != nil {
		d.logger.Warn("pdf conversion failed, trying generic path", "file", filePath, "error", err)
		fbText, fbErr := d.fallback.ExtractPath(ctx, filePath)
		if fbErr == nil && fbText != "" {
			return domain.Extraction{Text: fbText, Tool: path.Tool() + "+" + d.fallback.Tool()}, nil
		}
	}

	if err != nil {
		return domain.Extraction{}, domain.WrapError(domain.ErrConversion, "extract text", err)
	}
	// Conversion ran but produced nothing; the sequencer turns this into a
	// "no extractable content" failure.
	return domain.Extraction{Tool: path.Tool()}, nil
}

func normalizeType(fileType string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(fileType), "."))
}
