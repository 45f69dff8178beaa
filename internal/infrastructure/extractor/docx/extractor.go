package docx

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Extractor reads the main document part of a docx archive and flattens the
// paragraph runs into plain text.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Tool() string { return "docx" }

func (e *Extractor) ExtractPath(_ context.Context, path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}
	defer archive.Close()

	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		part, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open document part: %w", err)
		}
		defer part.Close()
		return flattenDocument(part)
	}
	return "", fmt.Errorf("docx archive has no word/document.xml")
}

// flattenDocument streams the WordprocessingML tokens, collecting text runs
// and turning paragraph ends into newlines.
func flattenDocument(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var out strings.Builder
	inText := false

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document xml: %w", err)
		}

		switch tok := token.(type) {
		case xml.StartElement:
			if tok.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch tok.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteString("\n")
			case "tab":
				out.WriteString("\t")
			}
		case xml.CharData:
			if inText {
				out.Write(tok)
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}
