// Package summarizer turns an analysis into a short prose summary by calling
// a remote generative-text service. The core pipeline never depends on it:
// a dead or unconfigured summarizer must not block analysis or caching.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crxlens/crxlens/internal/analysis"
	"github.com/crxlens/crxlens/internal/listing"
)

// Summarizer produces a free-text summary for an analysis.
type Summarizer interface {
	Summarize(ctx context.Context, result *analysis.Result, meta *listing.Listing) (string, error)
}

// HTTPSummarizer posts the analysis to a remote summarization endpoint and
// decodes a structured JSON response. Responses are only ever treated as
// data, never interpreted.
type HTTPSummarizer struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPSummarizer builds a summarizer for the given endpoint. An empty URL
// yields a nil summarizer, which callers treat as "feature off".
func NewHTTPSummarizer(url, apiKey string, client *http.Client) *HTTPSummarizer {
	if url == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSummarizer{url: url, apiKey: apiKey, client: client}
}

type summarizeRequest struct {
	Analysis *analysis.Result `json:"analysis"`
	Listing  *listing.Listing `json:"listing,omitempty"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// Summarize sends the result (plus listing metadata when available) and
// returns the service's summary text.
func (s *HTTPSummarizer) Summarize(ctx context.Context, result *analysis.Result, meta *listing.Listing) (string, error) {
	payload, err := json.Marshal(summarizeRequest{Analysis: result, Listing: meta})
	if err != nil {
		return "", fmt.Errorf("encode summarize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create summarize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call summarizer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summarizer returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read summarizer response: %w", err)
	}

	var out summarizeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode summarizer response: %w", err)
	}
	return out.Summary, nil
}
