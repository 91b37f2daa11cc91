package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/models"
)

const pubmedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMed adapts the NCBI E-utilities API. Queries run in two steps:
// esearch resolves the query to article IDs, esummary fetches their
// titles and metadata.
type PubMed struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	maxResults int
	rpm        int
}

// NewPubMed builds the PubMed adapter. The API key is optional; NCBI
// grants a higher rate limit when one is present.
func NewPubMed(apiKey string, cfg *config.BackendConfig) *PubMed {
	p := &PubMed{
		apiKey:     apiKey,
		baseURL:    pubmedBaseURL,
		client:     newHTTPClient(cfg.Timeout),
		maxResults: cfg.MaxResults,
		rpm:        int(cfg.RequestsPerMinute),
	}
	if cfg.BaseURL != "" {
		p.baseURL = cfg.BaseURL
	}
	return p
}

func (p *PubMed) Name() string { return config.BackendPubMed }

func (p *PubMed) RateLimit() int { return p.rpm }

type pubmedSearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// The esummary result object mixes per-ID records with a "uids" array,
// so entries decode individually.
type pubmedSummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type pubmedSummary struct {
	Title   string `json:"title"`
	PubDate string `json:"pubdate"`
	Source  string `json:"source"`
}

func (p *PubMed) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchHit, error) {
	ids, err := p.searchIDs(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.SearchHit{}, nil
	}
	return p.summaries(ctx, ids)
}

func (p *PubMed) searchIDs(ctx context.Context, req models.SearchRequest) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", req.Query)
	params.Set("retmax", strconv.Itoa(maxResultsOr(req.MaxResults, p.maxResults)))
	params.Set("retmode", "json")
	params.Set("sort", "relevance")
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}

	data, err := fetch(ctx, p.client, "pubmed esearch", http.MethodGet,
		p.baseURL+"/esearch.fcgi?"+params.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}

	var parsed pubmedSearchResponse
	if err := decodeJSON("pubmed esearch", data, &parsed); err != nil {
		return nil, err
	}
	return parsed.ESearchResult.IDList, nil
}

func (p *PubMed) summaries(ctx context.Context, ids []string) ([]models.SearchHit, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "json")
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}

	data, err := fetch(ctx, p.client, "pubmed esummary", http.MethodGet,
		p.baseURL+"/esummary.fcgi?"+params.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}

	var parsed pubmedSummaryResponse
	if err := decodeJSON("pubmed esummary", data, &parsed); err != nil {
		return nil, err
	}

	// Iterate the ID list rather than the result map to keep
	// relevance order.
	hits := make([]models.SearchHit, 0, len(ids))
	for _, id := range ids {
		raw, ok := parsed.Result[id]
		if !ok {
			continue
		}
		var summary pubmedSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			continue
		}
		hit := models.SearchHit{
			Title:  summary.Title,
			URL:    "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
			Source: config.BackendPubMed,
		}
		if summary.Source != "" || summary.PubDate != "" {
			hit.Extra = map[string]any{
				"journal":  summary.Source,
				"pub_date": summary.PubDate,
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
