package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client

	// limiter throttles embedding traffic so large batches do not saturate
	// the backend.
	limiter *rate.Limiter
}

type ClientOptions struct {
	Timeout time.Duration
	// EmbedRequestsPerSecond caps embedding request rate; zero disables.
	EmbedRequestsPerSecond float64
	EmbedBurst             int
}

func New(baseURL, genModel, embedModel string) *Client {
	return NewWithOptions(baseURL, genModel, embedModel, ClientOptions{})
}

func NewWithOptions(baseURL, genModel, embedModel string, options ClientOptions) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if options.EmbedRequestsPerSecond > 0 {
		burst := options.EmbedBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.EmbedRequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// Embedder obtains fixed-dimension vectors from the ollama embed endpoint.
type Embedder struct {
	client *Client
	// batchSize bounds one embed request; longer chunk lists are split.
	batchSize int
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client, batchSize: 64}
}

func (e *Embedder) ModelName() string {
	return e.client.embedModel
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.client.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed returned %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

// Summarizer produces a bounded document summary with the generation model.
type Summarizer struct {
	client *Client
	// maxInputRunes truncates oversized documents before prompting.
	maxInputRunes int
}

func NewSummarizer(client *Client) *Summarizer {
	return &Summarizer{client: client, maxInputRunes: 12000}
}

func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	runes := []rune(text)
	if len(runes) > s.maxInputRunes {
		text = string(runes[:s.maxInputRunes])
	}

	reqBody := map[string]any{
		"model":  s.client.genModel,
		"prompt": buildSummaryPrompt(text),
		"stream": false,
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := s.client.postJSON(ctx, "/api/generate", reqBody, &response, "summarize"); err != nil {
		return "", err
	}
	summary := strings.TrimSpace(response.Response)
	if summary == "" {
		return "", fmt.Errorf("summarizer returned empty output")
	}
	return summary, nil
}
