package search

import (
	"context"
	"net/http"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/models"
)

const tavilyBaseURL = "https://api.tavily.com"

// Tavily adapts the Tavily research search API.
type Tavily struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	maxResults int
	rpm        int
}

// NewTavily builds the Tavily adapter.
func NewTavily(apiKey string, cfg *config.BackendConfig) *Tavily {
	t := &Tavily{
		apiKey:     apiKey,
		baseURL:    tavilyBaseURL,
		client:     newHTTPClient(cfg.Timeout),
		maxResults: cfg.MaxResults,
		rpm:        int(cfg.RequestsPerMinute),
	}
	if cfg.BaseURL != "" {
		t.baseURL = cfg.BaseURL
	}
	return t
}

func (t *Tavily) Name() string { return config.BackendTavily }

func (t *Tavily) RateLimit() int { return t.rpm }

type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Topic      string `json:"topic,omitempty"`
	Days       int    `json:"days,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchHit, error) {
	body := tavilyRequest{
		Query:      req.Query,
		MaxResults: maxResultsOr(req.MaxResults, t.maxResults),
		Topic:      req.Topic,
	}
	if req.Topic == "news" {
		body.Days = req.Days
	}

	data, err := fetch(ctx, t.client, "tavily search", http.MethodPost, t.baseURL+"/search",
		map[string]string{"Authorization": "Bearer " + t.apiKey}, body)
	if err != nil {
		return nil, err
	}

	var parsed tavilyResponse
	if err := decodeJSON("tavily search", data, &parsed); err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		hits = append(hits, models.SearchHit{
			Title:   res.Title,
			URL:     res.URL,
			Content: res.Content,
			Score:   res.Score,
			Source:  config.BackendTavily,
		})
	}
	return hits, nil
}

// maxResultsOr picks the per-request cap, falling back to the backend
// default, and finally to five.
func maxResultsOr(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	if fallback > 0 {
		return fallback
	}
	return 5
}
