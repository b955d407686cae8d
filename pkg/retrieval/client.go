package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Client queries a retrieval service collection over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientHTTP overrides the HTTP client used for queries.
func WithClientHTTP(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a retrieval client for the given service base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// queryRequest is the retrieval service request payload.
type queryRequest struct {
	Query      string `json:"query"`
	Collection string `json:"collection"`
	TopK       int    `json:"topK"`
}

// queryResponse is the retrieval service response.
type queryResponse struct {
	Results []queryResult `json:"results"`
}

type queryResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// Query searches one collection and returns its scored chunks.
func (c *Client) Query(ctx context.Context, query, collection string, topK int) ([]Chunk, error) {
	payload := queryRequest{
		Query:      query,
		Collection: collection,
		TopK:       topK,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval service error: status %d", resp.StatusCode)
	}

	var queryResp queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	chunks := make([]Chunk, 0, len(queryResp.Results))
	for _, r := range queryResp.Results {
		chunks = append(chunks, Chunk{
			ID:         r.ID,
			Collection: collection,
			Text:       r.Content,
			Score:      r.Score,
			Metadata:   r.Metadata,
		})
	}
	return chunks, nil
}
