package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pointNamespace makes point ids a pure function of (file_id, ordinal), so
// re-indexing the same file overwrites instead of duplicating.
var pointNamespace = uuid.MustParse("5e56a2f1-8db6-4f3c-9a9d-0c6a3f1c2b71")

// Client writes chunk vectors into one qdrant collection over its HTTP API.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// PointID derives the deterministic id for one (fileID, ordinal) pair.
func PointID(fileID string, ordinal int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", fileID, ordinal))).String()
}

// Upsert writes one chunk point. Idempotent: the same (fileID, ordinal)
// always maps to the same point id.
func (c *Client) Upsert(ctx context.Context, fileID string, ordinal int, vector []float32, chunkText string, meta map[string]string) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for file %s chunk %d", fileID, ordinal)
	}
	if err := c.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	payload := map[string]any{
		"file_id":       fileID,
		"chunk_ordinal": ordinal,
		"text":          chunkText,
	}
	for k, v := range meta {
		payload[k] = v
	}

	reqBody := map[string]any{
		"points": []map[string]any{
			{
				"id":      PointID(fileID, ordinal),
				"vector":  vector,
				"payload": payload,
			},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant upsert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError("qdrant upsert", resp)
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 if already exists (depends on version/config).
	if resp.StatusCode == http.StatusConflict {
		c.markCollectionEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		return statusError("qdrant ensure collection", resp)
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func statusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return fmt.Errorf("%s status: %s: %s", operation, resp.Status, msg)
	}
	return fmt.Errorf("%s status: %s", operation, resp.Status)
}
