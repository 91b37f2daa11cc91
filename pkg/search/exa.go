package search

import (
	"context"
	"net/http"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/models"
)

const exaBaseURL = "https://api.exa.ai"

// Exa adapts the Exa neural search API.
type Exa struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	maxResults int
	rpm        int
}

// NewExa builds the Exa adapter.
func NewExa(apiKey string, cfg *config.BackendConfig) *Exa {
	e := &Exa{
		apiKey:     apiKey,
		baseURL:    exaBaseURL,
		client:     newHTTPClient(cfg.Timeout),
		maxResults: cfg.MaxResults,
		rpm:        int(cfg.RequestsPerMinute),
	}
	if cfg.BaseURL != "" {
		e.baseURL = cfg.BaseURL
	}
	return e
}

func (e *Exa) Name() string { return config.BackendExa }

func (e *Exa) RateLimit() int { return e.rpm }

type exaRequest struct {
	Query      string      `json:"query"`
	NumResults int         `json:"numResults"`
	Contents   exaContents `json:"contents"`
}

type exaContents struct {
	Text bool `json:"text"`
}

type exaResponse struct {
	Results []struct {
		Title string  `json:"title"`
		URL   string  `json:"url"`
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	} `json:"results"`
}

func (e *Exa) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchHit, error) {
	body := exaRequest{
		Query:      req.Query,
		NumResults: maxResultsOr(req.MaxResults, e.maxResults),
		Contents:   exaContents{Text: true},
	}

	data, err := fetch(ctx, e.client, "exa search", http.MethodPost, e.baseURL+"/search",
		map[string]string{"x-api-key": e.apiKey}, body)
	if err != nil {
		return nil, err
	}

	var parsed exaResponse
	if err := decodeJSON("exa search", data, &parsed); err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		hits = append(hits, models.SearchHit{
			Title:   res.Title,
			URL:     res.URL,
			Content: res.Text,
			Score:   res.Score,
			Source:  config.BackendExa,
		})
	}
	return hits, nil
}
