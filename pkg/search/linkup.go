package search

import (
	"context"
	"net/http"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/models"
)

const linkupBaseURL = "https://api.linkup.so/v1"

// LinkUp adapts the Linkup search API.
type LinkUp struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	maxResults int
	rpm        int
}

// NewLinkUp builds the Linkup adapter.
func NewLinkUp(apiKey string, cfg *config.BackendConfig) *LinkUp {
	l := &LinkUp{
		apiKey:     apiKey,
		baseURL:    linkupBaseURL,
		client:     newHTTPClient(cfg.Timeout),
		maxResults: cfg.MaxResults,
		rpm:        int(cfg.RequestsPerMinute),
	}
	if cfg.BaseURL != "" {
		l.baseURL = cfg.BaseURL
	}
	return l
}

func (l *LinkUp) Name() string { return config.BackendLinkUp }

func (l *LinkUp) RateLimit() int { return l.rpm }

type linkupRequest struct {
	Query      string `json:"q"`
	Depth      string `json:"depth"`
	OutputType string `json:"outputType"`
}

type linkupResponse struct {
	Results []struct {
		Name    string `json:"name"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (l *LinkUp) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchHit, error) {
	body := linkupRequest{
		Query:      req.Query,
		Depth:      "standard",
		OutputType: "searchResults",
	}

	data, err := fetch(ctx, l.client, "linkup search", http.MethodPost, l.baseURL+"/search",
		map[string]string{"Authorization": "Bearer " + l.apiKey}, body)
	if err != nil {
		return nil, err
	}

	var parsed linkupResponse
	if err := decodeJSON("linkup search", data, &parsed); err != nil {
		return nil, err
	}

	limit := maxResultsOr(req.MaxResults, l.maxResults)
	hits := make([]models.SearchHit, 0, limit)
	for _, res := range parsed.Results {
		if len(hits) >= limit {
			break
		}
		hits = append(hits, models.SearchHit{
			Title:   res.Name,
			URL:     res.URL,
			Content: res.Content,
			Source:  config.BackendLinkUp,
		})
	}
	return hits, nil
}
