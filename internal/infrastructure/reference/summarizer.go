package reference

import (
	"context"
	"strings"
)

const summarySentences = 3

// Summarizer extracts the leading sentences of the document. Deterministic
// and model-free, good enough for the offline backend.
type Summarizer struct{}

func NewSummarizer() *Summarizer { return &Summarizer{} }

func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	var sb strings.Builder
	count := 0
	for _, r := range text {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			count++
			if count >= summarySentences {
				break
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
