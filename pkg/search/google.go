package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/models"
)

const googleBaseURL = "https://www.googleapis.com/customsearch/v1"

// Google adapts the Google Custom Search JSON API. It needs both an
// API key and a programmable search engine ID.
type Google struct {
	apiKey     string
	engineID   string
	baseURL    string
	client     *http.Client
	maxResults int
	rpm        int
}

// NewGoogle builds the Google adapter. engineID is the cx parameter of
// the programmable search engine.
func NewGoogle(apiKey, engineID string, cfg *config.BackendConfig) *Google {
	g := &Google{
		apiKey:     apiKey,
		engineID:   engineID,
		baseURL:    googleBaseURL,
		client:     newHTTPClient(cfg.Timeout),
		maxResults: cfg.MaxResults,
		rpm:        int(cfg.RequestsPerMinute),
	}
	if cfg.BaseURL != "" {
		g.baseURL = cfg.BaseURL
	}
	return g
}

func (g *Google) Name() string { return config.BackendGoogle }

func (g *Google) RateLimit() int { return g.rpm }

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (g *Google) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchHit, error) {
	// The API caps num at 10 per request.
	num := maxResultsOr(req.MaxResults, g.maxResults)
	if num > 10 {
		num = 10
	}

	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.engineID)
	params.Set("q", req.Query)
	params.Set("num", strconv.Itoa(num))

	data, err := fetch(ctx, g.client, "google search", http.MethodGet, g.baseURL+"?"+params.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}

	var parsed googleResponse
	if err := decodeJSON("google search", data, &parsed); err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		hits = append(hits, models.SearchHit{
			Title:   item.Title,
			URL:     item.Link,
			Content: item.Snippet,
			Source:  config.BackendGoogle,
		})
	}
	return hits, nil
}
