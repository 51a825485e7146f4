package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/models"
)

// GraphStoreClient implements GraphStore against a graph API over REST
type GraphStoreClient struct {
	cfg        config.GraphConfig
	httpClient *http.Client
}

func NewGraphStoreClient(cfg config.GraphConfig) *GraphStoreClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GraphStoreClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type upsertEntityRequest struct {
	ID    string                 `json:"id"`
	Type  string                 `json:"type"`
	Props map[string]interface{} `json:"props,omitempty"`
}

type upsertEdgeRequest struct {
	From  string                 `json:"from"`
	To    string                 `json:"to"`
	Type  string                 `json:"type"`
	Props map[string]interface{} `json:"props,omitempty"`
}

type graphSearchResponse struct {
	Results []struct {
		ID         string  `json:"id"`
		Centrality float64 `json:"centrality"`
	} `json:"results"`
}

type graphPathResponse struct {
	Edges []models.GraphEdge `json:"edges"`
}

func (c *GraphStoreClient) UpsertEntity(ctx context.Context, id string, entityType string, props map[string]interface{}) error {
	body, err := json.Marshal(upsertEntityRequest{ID: id, Type: entityType, Props: props})
	if err != nil {
		return fmt.Errorf("failed to marshal entity upsert: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/graph/entities", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("entity upsert failed with status %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return nil
}

func (c *GraphStoreClient) UpsertEdge(ctx context.Context, from, to string, edgeType string, props map[string]interface{}) error {
	body, err := json.Marshal(upsertEdgeRequest{From: from, To: to, Type: edgeType, Props: props})
	if err != nil {
		return fmt.Errorf("failed to marshal edge upsert: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/graph/edges", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("edge upsert failed with status %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return nil
}

func (c *GraphStoreClient) Search(ctx context.Context, query string, maxDepth int) ([]models.Candidate, error) {
	u := fmt.Sprintf("%s/api/v1/graph/search?query=%s&max_depth=%d",
		c.cfg.BaseURL, url.QueryEscape(query), maxDepth)

	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("graph search failed with status %d: %s", resp.StatusCode, readBody(resp.Body))
	}

	var result graphSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode graph search response: %w", err)
	}
	out := make([]models.Candidate, len(result.Results))
	for i, r := range result.Results {
		out[i] = models.Candidate{ID: r.ID, Score: r.Centrality}
	}
	return out, nil
}

func (c *GraphStoreClient) Path(ctx context.Context, a, b string, maxDepth int) ([]models.GraphEdge, error) {
	u := fmt.Sprintf("%s/api/v1/graph/path?from=%s&to=%s&max_depth=%d",
		c.cfg.BaseURL, url.QueryEscape(a), url.QueryEscape(b), maxDepth)

	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("graph path failed with status %d: %s", resp.StatusCode, readBody(resp.Body))
	}

	var result graphPathResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode graph path response: %w", err)
	}
	return result.Edges, nil
}

func (c *GraphStoreClient) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph store request failed: %w", err)
	}
	return resp, nil
}
