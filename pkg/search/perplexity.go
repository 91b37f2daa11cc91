package search

import (
	"context"
	"net/http"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/models"
)

const (
	perplexityBaseURL = "https://api.perplexity.ai"
	perplexityModel   = "sonar"
)

// Perplexity adapts the Perplexity chat-completions API as a search
// backend. The synthesized answer becomes the first hit and the cited
// sources follow it.
type Perplexity struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	maxResults int
	rpm        int
}

// NewPerplexity builds the Perplexity adapter.
func NewPerplexity(apiKey string, cfg *config.BackendConfig) *Perplexity {
	p := &Perplexity{
		apiKey:     apiKey,
		baseURL:    perplexityBaseURL,
		client:     newHTTPClient(cfg.Timeout),
		maxResults: cfg.MaxResults,
		rpm:        int(cfg.RequestsPerMinute),
	}
	if cfg.BaseURL != "" {
		p.baseURL = cfg.BaseURL
	}
	return p
}

func (p *Perplexity) Name() string { return config.BackendPerplexity }

func (p *Perplexity) RateLimit() int { return p.rpm }

type perplexityRequest struct {
	Model    string              `json:"model"`
	Messages []perplexityMessage `json:"messages"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	SearchResults []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"search_results"`
}

func (p *Perplexity) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchHit, error) {
	body := perplexityRequest{
		Model: perplexityModel,
		Messages: []perplexityMessage{
			{Role: "user", Content: req.Query},
		},
	}

	data, err := fetch(ctx, p.client, "perplexity search", http.MethodPost, p.baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + p.apiKey}, body)
	if err != nil {
		return nil, err
	}

	var parsed perplexityResponse
	if err := decodeJSON("perplexity search", data, &parsed); err != nil {
		return nil, err
	}

	limit := maxResultsOr(req.MaxResults, p.maxResults)
	hits := make([]models.SearchHit, 0, limit)
	if len(parsed.Choices) > 0 && parsed.Choices[0].Message.Content != "" {
		hits = append(hits, models.SearchHit{
			Title:   "Perplexity answer",
			Content: parsed.Choices[0].Message.Content,
			Source:  config.BackendPerplexity,
		})
	}
	for _, res := range parsed.SearchResults {
		if len(hits) >= limit {
			break
		}
		hits = append(hits, models.SearchHit{
			Title:  res.Title,
			URL:    res.URL,
			Source: config.BackendPerplexity,
		})
	}
	return hits, nil
}
