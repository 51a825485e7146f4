package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/models"
)

// VectorStoreClient implements VectorStore against a vector search API over
// REST. A 404 on search means the collection is empty, not an error; a 429
// or 507 on upsert surfaces as a capacity rejection so the long-term tier
// can report it after rollback.
type VectorStoreClient struct {
	cfg        config.VectorConfig
	httpClient *http.Client
}

func NewVectorStoreClient(cfg config.VectorConfig) *VectorStoreClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VectorStoreClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type upsertVectorRequest struct {
	ID       string                 `json:"id"`
	Vector   []float32              `json:"vector"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type vectorSearchRequest struct {
	Vector []float32              `json:"vector"`
	TopK   int                    `json:"top_k"`
	Filter map[string]interface{} `json:"filter,omitempty"`
}

type vectorSearchResponse struct {
	Results []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"results"`
}

func (c *VectorStoreClient) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error {
	url := fmt.Sprintf("%s/api/v1/collections/%s/vectors", c.cfg.BaseURL, c.cfg.Collection)
	body, err := json.Marshal(upsertVectorRequest{ID: id, Vector: vector, Metadata: metadata})
	if err != nil {
		return fmt.Errorf("failed to marshal vector upsert: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusInsufficientStorage:
		return fmt.Errorf("%w: vector store rejected %s (status %d)", models.ErrCapacityExhausted, id, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("vector upsert failed with status %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return nil
}

func (c *VectorStoreClient) Delete(ctx context.Context, id string) error {
	url := fmt.Sprintf("%s/api/v1/collections/%s/vectors/%s", c.cfg.BaseURL, c.cfg.Collection, id)
	resp, err := c.do(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("vector delete failed with status %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return nil
}

func (c *VectorStoreClient) Search(ctx context.Context, vector []float32, k int, filter map[string]interface{}) ([]models.Candidate, error) {
	url := fmt.Sprintf("%s/api/v1/collections/%s/search", c.cfg.BaseURL, c.cfg.Collection)
	body, err := json.Marshal(vectorSearchRequest{Vector: vector, TopK: k, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vector search: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("vector search failed with status %d: %s", resp.StatusCode, readBody(resp.Body))
	}

	var result vectorSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode vector search response: %w", err)
	}
	out := make([]models.Candidate, len(result.Results))
	for i, r := range result.Results {
		out[i] = models.Candidate{ID: r.ID, Score: r.Score}
	}
	return out, nil
}

func (c *VectorStoreClient) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector store request failed: %w", err)
	}
	return resp, nil
}

func readBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(data)
}
