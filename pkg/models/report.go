// Package models defines the data structures shared across the flow,
// pipeline, search, and API layers.
package models

import (
	"encoding/json"
	"time"

	"github.com/probelab/delver/pkg/config"
)

// Metadata keys written by pipeline stages.
const (
	MetaIterations     = "iterations"
	MetaResearchMode   = "research_mode"
	MetaSearchAPI      = "search_api"
	MetaFallbackUsed   = "fallback_used"
	MetaSectionCursor  = "section_cursor"
	MetaSubQuestions   = "sub_questions"
	MetaContinuation   = "continuation_of"
	MetaStageErrSuffix = ".error"
)

// Section is one node of the report tree.
type Section struct {
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Subsections []*Section     `json:"subsections,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone deep-copies the section tree.
func (s *Section) Clone() *Section {
	if s == nil {
		return nil
	}
	out := &Section{
		Title:    s.Title,
		Content:  s.Content,
		Metadata: cloneMap(s.Metadata),
	}
	for _, sub := range s.Subsections {
		out.Subsections = append(out.Subsections, sub.Clone())
	}
	return out
}

// Query is one search query issued during a run.
type Query struct {
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SearchBatch groups the hits returned for one query by one backend.
type SearchBatch struct {
	Query     string      `json:"query"`
	Hits      []SearchHit `json:"hits"`
	BackendID string      `json:"backend_id"`
	CreatedAt time.Time   `json:"created_at"`
}

// Feedback carries reviewer feedback on a section.
type Feedback struct {
	SectionTitle string    `json:"section_title"`
	Text         string    `json:"text"`
	Score        float64   `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReportState is the mutable document a flow accumulates. It is created
// at admission, mutated only by the worker executing the flow, and
// frozen once the flow reaches a terminal status.
type ReportState struct {
	Topic         string                 `json:"topic"`
	PreviousTopic string                 `json:"previous_topic,omitempty"`
	Sections      []*Section             `json:"sections"`
	Queries       []Query                `json:"queries"`
	SearchResults []SearchBatch          `json:"search_results"`
	Feedback      *Feedback              `json:"feedback,omitempty"`
	Metadata      map[string]any         `json:"metadata"`
	Config        *config.ResearchConfig `json:"config,omitempty"`
	StartTime     time.Time              `json:"start_time"`
	LastUpdated   time.Time              `json:"last_updated"`
}

// NewReportState creates the state document for a topic.
func NewReportState(topic string, cfg *config.ResearchConfig) *ReportState {
	now := time.Now().UTC()
	return &ReportState{
		Topic:       topic,
		Metadata:    make(map[string]any),
		Config:      cfg,
		StartTime:   now,
		LastUpdated: now,
	}
}

// Touch advances the modification timestamp. LastUpdated never moves
// before StartTime.
func (r *ReportState) Touch() {
	now := time.Now().UTC()
	if now.After(r.LastUpdated) {
		r.LastUpdated = now
	}
}

// Section returns the top-level section with the given title, or nil.
func (r *ReportState) Section(title string) *Section {
	for _, s := range r.Sections {
		if s.Title == title {
			return s
		}
	}
	return nil
}

// UpsertSection replaces the content of an existing top-level section or
// appends a new one. Titles are unique within the top level.
func (r *ReportState) UpsertSection(title, content string) *Section {
	if s := r.Section(title); s != nil {
		s.Content = content
		r.Touch()
		return s
	}
	s := &Section{Title: title, Content: content}
	r.Sections = append(r.Sections, s)
	r.Touch()
	return s
}

// AppendSection appends a pre-built section, dropping any existing
// top-level section with the same title first.
func (r *ReportState) AppendSection(s *Section) {
	r.RemoveSection(s.Title)
	r.Sections = append(r.Sections, s)
	r.Touch()
}

// RemoveSection drops the top-level section with the given title.
// Returns true when a section was removed.
func (r *ReportState) RemoveSection(title string) bool {
	for i, s := range r.Sections {
		if s.Title == title {
			r.Sections = append(r.Sections[:i], r.Sections[i+1:]...)
			r.Touch()
			return true
		}
	}
	return false
}

// AddQuery records a query for later execution.
func (r *ReportState) AddQuery(text string, metadata map[string]any) {
	r.Queries = append(r.Queries, Query{
		Text:      text,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
	r.Touch()
}

// PendingQueries returns the queries that have no search batch yet.
func (r *ReportState) PendingQueries() []Query {
	executed := make(map[string]bool, len(r.SearchResults))
	for _, b := range r.SearchResults {
		executed[b.Query] = true
	}
	var pending []Query
	for _, q := range r.Queries {
		if !executed[q.Text] {
			pending = append(pending, q)
		}
	}
	return pending
}

// AddSearchBatch records the results of one executed query.
func (r *ReportState) AddSearchBatch(query, backendID string, hits []SearchHit) {
	r.SearchResults = append(r.SearchResults, SearchBatch{
		Query:     query,
		Hits:      hits,
		BackendID: backendID,
		CreatedAt: time.Now().UTC(),
	})
	r.Touch()
}

// Iterations reads the reflect-loop counter from metadata.
func (r *ReportState) Iterations() int {
	switch v := r.Metadata[MetaIterations].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// SetIterations writes the reflect-loop counter.
func (r *ReportState) SetIterations(n int) {
	r.Metadata[MetaIterations] = n
	r.Touch()
}

// SectionCursor reads the linear-mode section pointer from metadata.
func (r *ReportState) SectionCursor() int {
	switch v := r.Metadata[MetaSectionCursor].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// SetSectionCursor writes the linear-mode section pointer.
func (r *ReportState) SetSectionCursor(n int) {
	r.Metadata[MetaSectionCursor] = n
	r.Touch()
}

// SetStageError records a non-fatal stage failure marker.
func (r *ReportState) SetStageError(stage string, err error) {
	r.Metadata[stage+MetaStageErrSuffix] = err.Error()
	r.Touch()
}

// MarshalSnapshot renders the state as the indented JSON written to
// flow snapshot files.
func (r *ReportState) MarshalSnapshot() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Clone deep-copies the state. Config is shared; it is read-only after
// flow creation.
func (r *ReportState) Clone() *ReportState {
	if r == nil {
		return nil
	}
	out := &ReportState{
		Topic:         r.Topic,
		PreviousTopic: r.PreviousTopic,
		Metadata:      cloneMap(r.Metadata),
		Config:        r.Config,
		StartTime:     r.StartTime,
		LastUpdated:   r.LastUpdated,
	}
	for _, s := range r.Sections {
		out.Sections = append(out.Sections, s.Clone())
	}
	out.Queries = append(out.Queries, r.Queries...)
	for _, b := range r.SearchResults {
		nb := b
		nb.Hits = append([]SearchHit(nil), b.Hits...)
		out.SearchResults = append(out.SearchResults, nb)
	}
	if r.Feedback != nil {
		f := *r.Feedback
		out.Feedback = &f
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
