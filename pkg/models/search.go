package models

// SearchHit is one normalized result from a search backend. Every
// backend adapter maps its native response into this shape.
type SearchHit struct {
	Title   string         `json:"title"`
	URL     string         `json:"url"`
	Content string         `json:"content,omitempty"`
	Score   float64        `json:"score,omitempty"`
	Source  string         `json:"source,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// SearchRequest is the backend-independent query shape.
type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Days       int    `json:"days,omitempty"`
}
