// Package localfs writes processed artifacts into the output tree shared
// with the file-storage collaborator: converted text under output_md,
// summaries under summaries. The collaborator owns directory retention.
package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	textDir    = "output_md"
	summaryDir = "summaries"
)

type ArtifactStore struct {
	basePath string
}

func New(basePath string) (*ArtifactStore, error) {
	if basePath == "" {
		basePath = "./data/processed"
	}
	for _, sub := range []string{textDir, summaryDir} {
		if err := os.MkdirAll(filepath.Join(basePath, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir %s: %w", sub, err)
		}
	}
	return &ArtifactStore{basePath: basePath}, nil
}

func (s *ArtifactStore) SaveText(_ context.Context, fileID, text string) (string, error) {
	return s.write(filepath.Join(textDir, sanitizeKey(fileID)+".md"), text)
}

func (s *ArtifactStore) SaveSummary(_ context.Context, fileID, summary string) (string, error) {
	return s.write(filepath.Join(summaryDir, sanitizeKey(fileID)+"_summary.md"), summary)
}

func (s *ArtifactStore) write(rel, content string) (string, error) {
	path := filepath.Join(s.basePath, rel)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

func sanitizeKey(key string) string {
	key = filepath.Base(key)
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	if key == "" || key == "." {
		return "artifact"
	}
	return key
}
