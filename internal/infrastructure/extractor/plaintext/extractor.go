package plaintext

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// Extractor reads UTF-8 text files (txt, md) as-is.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Tool() string { return "plaintext" }

func (e *Extractor) ExtractPath(_ context.Context, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source file: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("file is not valid utf-8 text")
	}
	return strings.TrimSpace(string(raw)), nil
}
