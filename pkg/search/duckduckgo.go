package search

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/models"
)

const (
	duckduckgoBaseURL   = "https://html.duckduckgo.com/html/"
	duckduckgoUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// DuckDuckGo scrapes the HTML-only DuckDuckGo frontend. No API key is
// required, which makes it the fallback of last resort.
type DuckDuckGo struct {
	baseURL    string
	client     *http.Client
	maxResults int
	rpm        int
}

// NewDuckDuckGo builds the DuckDuckGo adapter.
func NewDuckDuckGo(cfg *config.BackendConfig) *DuckDuckGo {
	d := &DuckDuckGo{
		baseURL:    duckduckgoBaseURL,
		client:     newHTTPClient(cfg.Timeout),
		maxResults: cfg.MaxResults,
		rpm:        int(cfg.RequestsPerMinute),
	}
	if cfg.BaseURL != "" {
		d.baseURL = cfg.BaseURL
	}
	return d
}

func (d *DuckDuckGo) Name() string { return config.BackendDuckDuckGo }

func (d *DuckDuckGo) RateLimit() int { return d.rpm }

func (d *DuckDuckGo) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchHit, error) {
	params := url.Values{}
	params.Set("q", req.Query)

	data, err := fetch(ctx, d.client, "duckduckgo search", http.MethodGet, d.baseURL+"?"+params.Encode(),
		map[string]string{"User-Agent": duckduckgoUserAgent}, nil)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Transformation("duckduckgo search: parsing html", err)
	}

	limit := maxResultsOr(req.MaxResults, d.maxResults)
	hits := make([]models.SearchHit, 0, limit)
	doc.Find("div.result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		hits = append(hits, models.SearchHit{
			Title:   strings.TrimSpace(link.Text()),
			URL:     resolveDuckDuckGoURL(href),
			Content: strings.TrimSpace(sel.Find("a.result__snippet").First().Text()),
			Source:  config.BackendDuckDuckGo,
		})
		return len(hits) < limit
	})
	return hits, nil
}

// resolveDuckDuckGoURL unwraps the redirect DuckDuckGo puts in front of
// result links. The target is carried in the uddg query parameter.
func resolveDuckDuckGoURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
