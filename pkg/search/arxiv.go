package search

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/models"
)

const arxivBaseURL = "http://export.arxiv.org/api/query"

// Arxiv adapts the arXiv Atom API. No API key is required.
type Arxiv struct {
	baseURL    string
	client     *http.Client
	maxResults int
	rpm        int
}

// NewArxiv builds the arXiv adapter.
func NewArxiv(cfg *config.BackendConfig) *Arxiv {
	a := &Arxiv{
		baseURL:    arxivBaseURL,
		client:     newHTTPClient(cfg.Timeout),
		maxResults: cfg.MaxResults,
		rpm:        int(cfg.RequestsPerMinute),
	}
	if cfg.BaseURL != "" {
		a.baseURL = cfg.BaseURL
	}
	return a
}

func (a *Arxiv) Name() string { return config.BackendArxiv }

func (a *Arxiv) RateLimit() int { return a.rpm }

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	Title   string      `xml:"title"`
	Summary string      `xml:"summary"`
	Links   []arxivLink `xml:"link"`
	ID      string      `xml:"id"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

func (a *Arxiv) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchHit, error) {
	params := url.Values{}
	params.Set("search_query", "all:"+req.Query)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResultsOr(req.MaxResults, a.maxResults)))
	params.Set("sortBy", "relevance")

	data, err := fetch(ctx, a.client, "arxiv search", http.MethodGet, a.baseURL+"?"+params.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}

	var feed arxivFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, faults.Transformation("arxiv search: decoding atom feed", err)
	}

	hits := make([]models.SearchHit, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		hits = append(hits, models.SearchHit{
			Title:   collapseWhitespace(entry.Title),
			URL:     entry.pageURL(),
			Content: collapseWhitespace(entry.Summary),
			Source:  config.BackendArxiv,
		})
	}
	return hits, nil
}

// pageURL prefers the abstract page link over the PDF alternate.
func (e arxivEntry) pageURL() string {
	for _, l := range e.Links {
		if l.Rel == "alternate" && l.Type == "text/html" {
			return l.Href
		}
	}
	return e.ID
}

// collapseWhitespace folds the newline-wrapped text arXiv returns into
// single-spaced prose.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
