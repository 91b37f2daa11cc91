// Package research implements the pipeline stages, prompts, and
// topologies that turn a topic into a written report.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/llm"
	"github.com/probelab/delver/pkg/models"
	"github.com/probelab/delver/pkg/reporter"
	"github.com/probelab/delver/pkg/search"
)

// Pipeline node names. The topology builders wire these; flow events
// carry them as stage identifiers.
const (
	StageInitialize       = "initialize"
	StagePlanReport       = "plan_report"
	StageInitialSearches  = "execute_initial_searches"
	StageGenerateQueries  = "generate_queries"
	StageExecuteSearches  = "execute_searches"
	StageWriteSection     = "write_section"
	StageSynthesize       = "synthesize_knowledge"
	StageUpdateReport     = "update_report"
	StageReflect          = "reflect_on_research"
	StageFinalize         = "finalize_report"
	StageSupervisorPlan   = "supervisor_plan"
	StageResearcher       = "researcher_investigate"
	StageIntegrateReport  = "integrate_report"
)

// Working section titles. Research Plan, Knowledge Synthesis, and
// Reflection are scaffolding the finalize stage strips from the
// finished report.
const (
	SectionIntroduction       = "Introduction"
	SectionConclusion         = "Conclusion"
	SectionResearchPlan       = "Research Plan"
	SectionKnowledgeSynthesis = "Knowledge Synthesis"
	SectionReflection         = "Reflection"
)

// sourceLimit caps how many hits a prompt carries.
const sourceLimit = 10

// Stages holds the stage implementations and their collaborators.
// Every stage mutates the state in place and returns an error only
// for failures that should abort the flow; degraded outcomes are
// recorded as metadata markers instead.
type Stages struct {
	search   *search.Registry
	client   *llm.Client
	reporter *reporter.Reporter
	logger   *slog.Logger
}

// NewStages wires the stage set.
func NewStages(registry *search.Registry, client *llm.Client, rep *reporter.Reporter) *Stages {
	return &Stages{
		search:   registry,
		client:   client,
		reporter: rep,
		logger:   slog.Default().With("component", "research"),
	}
}

// Initialize stamps provenance metadata and, for the iterative
// topology, installs the Research Plan working section.
func (s *Stages) Initialize(_ context.Context, state *models.ReportState) error {
	cfg := state.Config
	state.Metadata[models.MetaResearchMode] = string(cfg.ResearchMode)
	state.Metadata[models.MetaSearchAPI] = cfg.SearchAPI
	state.SetIterations(0)

	if state.PreviousTopic != "" && state.Metadata[models.MetaContinuation] == nil {
		state.Metadata[models.MetaContinuation] = state.PreviousTopic
	}
	if cfg.ResearchMode == config.ModeIterative && state.Section(SectionResearchPlan) == nil {
		plan := &models.Section{Title: SectionResearchPlan, Content: cfg.ReportStructure}
		state.Sections = append([]*models.Section{plan}, state.Sections...)
		state.Touch()
	}
	return nil
}

// PlanReport asks the planner for a section outline and queues the
// seed queries. A failed or unparseable plan degrades to the default
// skeleton rather than aborting the flow.
func (s *Stages) PlanReport(ctx context.Context, state *models.ReportState) error {
	cfg := state.Config
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(state.Sections) == 0 {
		resp, err := s.generate(ctx, cfg.PlannerModel, plannerInstructions,
			planReportPrompt(state.Topic, cfg.ReportStructure))
		var outline []*models.Section
		if err != nil {
			s.recordNonFatal(state, StagePlanReport, err)
		} else {
			outline = ParseSections(resp)
		}
		if len(outline) == 0 {
			outline = defaultSkeleton(state.Topic)
		}
		state.Sections = outline
		state.Touch()
	}

	state.SetSectionCursor(0)
	addQueries(state, s.seedQueries(state), StagePlanReport)
	return nil
}

// seedQueries derives one query per researchable section, padded with
// topic templates, capped at the configured count.
func (s *Stages) seedQueries(state *models.ReportState) []string {
	cfg := state.Config
	var queries []string
	for _, sec := range state.Sections {
		if sec.Title == SectionIntroduction || sec.Title == SectionConclusion || sec.Title == SectionResearchPlan {
			continue
		}
		queries = append(queries, state.Topic+" "+sec.Title)
		if len(queries) >= cfg.NumberOfQueries {
			return queries
		}
	}
	return padQueries(queries, state.Topic, cfg.NumberOfQueries)
}

// ExecuteInitialSearches runs the seed queries through the search
// registry.
func (s *Stages) ExecuteInitialSearches(ctx context.Context, state *models.ReportState) error {
	return s.runPendingSearches(ctx, state)
}

// ExecuteSearches runs the queries generated since the last search
// pass.
func (s *Stages) ExecuteSearches(ctx context.Context, state *models.ReportState) error {
	return s.runPendingSearches(ctx, state)
}

// runPendingSearches executes every query without a batch yet. The
// registry swallows backend failures (empty hits, nil error), so the
// only errors surfacing here are the context's own.
func (s *Stages) runPendingSearches(ctx context.Context, state *models.ReportState) error {
	cfg := state.Config
	for _, q := range state.PendingQueries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		hits, backend, err := s.search.Execute(ctx, models.SearchRequest{
			Query:      q.Text,
			Topic:      state.Topic,
			MaxResults: 5,
		}, cfg)
		if err != nil {
			return err
		}
		state.AddSearchBatch(q.Text, backend, hits)
		if backend != "" && backend != cfg.SearchAPI {
			state.Metadata[models.MetaFallbackUsed] = true
		}
	}
	return nil
}

// GenerateQueries asks the planner for the next round of queries.
// Model failure degrades to template queries.
func (s *Stages) GenerateQueries(ctx context.Context, state *models.ReportState) error {
	cfg := state.Config
	if err := ctx.Err(); err != nil {
		return err
	}

	focus := ""
	if cursor := state.SectionCursor(); cfg.ResearchMode.IsLinear() && cursor < len(state.Sections) {
		focus = state.Sections[cursor].Title
	}

	resp, err := s.generate(ctx, cfg.PlannerModel, plannerInstructions,
		generateQueriesPrompt(state.Topic, focus, renderSections(state.Sections), cfg.NumberOfQueries))

	var queries []string
	if err != nil {
		s.recordNonFatal(state, StageGenerateQueries, err)
	} else {
		queries = parseLines(resp, cfg.NumberOfQueries)
	}
	if focus != "" {
		queries = padQueries(queries, state.Topic+" "+focus, cfg.NumberOfQueries)
	} else {
		queries = padQueries(queries, state.Topic, cfg.NumberOfQueries)
	}
	addQueries(state, queries, StageGenerateQueries)
	return nil
}

// WriteSection drafts the section at the cursor from the accumulated
// search results, then advances the cursor.
func (s *Stages) WriteSection(ctx context.Context, state *models.ReportState) error {
	cfg := state.Config
	cursor := state.SectionCursor()
	if cursor >= len(state.Sections) {
		return faults.InvalidState("section cursor out of range").
			With("cursor", cursor).
			With("sections", len(state.Sections))
	}
	sec := state.Sections[cursor]

	content, err := s.generate(ctx, cfg.WriterModel, writerInstructions,
		writeSectionPrompt(state.Topic, sec.Title, sec.Content, formatSources(state.SearchResults, sourceLimit)))
	if err != nil {
		return fmt.Errorf("writing section %q: %w", sec.Title, err)
	}
	sec.Content = content
	state.SetSectionCursor(cursor + 1)
	return nil
}

// SynthesizeKnowledge merges the current synthesis with the newest
// search results. Failure leaves the previous synthesis standing.
func (s *Stages) SynthesizeKnowledge(ctx context.Context, state *models.ReportState) error {
	cfg := state.Config
	current := ""
	if sec := state.Section(SectionKnowledgeSynthesis); sec != nil {
		current = sec.Content
	}

	content, err := s.generate(ctx, cfg.WriterModel, writerInstructions,
		synthesizePrompt(state.Topic, current, formatSources(state.SearchResults, sourceLimit)))
	if err != nil {
		s.recordNonFatal(state, StageSynthesize, err)
		return nil
	}
	state.UpsertSection(SectionKnowledgeSynthesis, content)
	return nil
}

// UpdateReport rewrites the full report from the synthesis. The
// Research Plan section survives the rewrite verbatim. An unparseable
// rewrite keeps the previous sections.
func (s *Stages) UpdateReport(ctx context.Context, state *models.ReportState) error {
	cfg := state.Config
	synthesis := ""
	if sec := state.Section(SectionKnowledgeSynthesis); sec != nil {
		synthesis = sec.Content
	}
	plan := state.Section(SectionResearchPlan).Clone()

	resp, err := s.generate(ctx, cfg.WriterModel, writerInstructions,
		updateReportPrompt(state.Topic, cfg.ReportStructure, renderSections(state.Sections), synthesis))
	if err != nil {
		return fmt.Errorf("updating report: %w", err)
	}

	parsed := ParseSections(resp)
	if len(parsed) == 0 {
		s.recordNonFatal(state, StageUpdateReport, faults.Transformation("parse updated report",
			fmt.Errorf("no sections in model output")))
		return nil
	}
	state.Sections = parsed
	if plan != nil {
		state.RemoveSection(SectionResearchPlan)
		state.Sections = append([]*models.Section{plan}, state.Sections...)
	}
	state.Touch()
	return nil
}

// ReflectOnResearch critiques the draft and advances the iteration
// counter. The counter advances even when the critique fails so the
// loop always terminates.
func (s *Stages) ReflectOnResearch(ctx context.Context, state *models.ReportState) error {
	cfg := state.Config
	resp, err := s.generate(ctx, cfg.PlannerModel, reflectionInstructions,
		reflectPrompt(state.Topic, renderSections(state.Sections)))
	if err != nil {
		s.recordNonFatal(state, StageReflect, err)
	} else {
		state.UpsertSection(SectionReflection, resp)
	}
	state.SetIterations(state.Iterations() + 1)
	return nil
}

// FinalizeReport strips the working sections and fills in missing
// Introduction and Conclusion bookends.
func (s *Stages) FinalizeReport(ctx context.Context, state *models.ReportState) error {
	state.RemoveSection(SectionResearchPlan)
	state.RemoveSection(SectionKnowledgeSynthesis)
	state.RemoveSection(SectionReflection)

	cfg := state.Config
	body := renderSections(state.Sections)

	if state.Section(SectionIntroduction) == nil {
		content, err := s.generate(ctx, cfg.WriterModel, writerInstructions,
			introductionPrompt(state.Topic, body))
		if err != nil {
			s.recordNonFatal(state, StageFinalize, err)
			content = "This report examines " + state.Topic + "."
		}
		intro := &models.Section{Title: SectionIntroduction, Content: content}
		state.Sections = append([]*models.Section{intro}, state.Sections...)
		state.Touch()
	}
	if state.Section(SectionConclusion) == nil {
		content, err := s.generate(ctx, cfg.WriterModel, writerInstructions,
			conclusionPrompt(state.Topic, body))
		if err != nil {
			s.recordNonFatal(state, StageFinalize, err)
			content = "The sections above summarize the current state of " + state.Topic + "."
		}
		state.UpsertSection(SectionConclusion, content)
	}
	return nil
}

// SupervisorPlan decomposes the topic into sub-questions and installs
// one empty section per question. Failure degrades to a single
// sub-question covering the whole topic.
func (s *Stages) SupervisorPlan(ctx context.Context, state *models.ReportState) error {
	cfg := state.Config
	resp, err := s.generate(ctx, cfg.SupervisorModel, supervisorInstructions,
		supervisorPlanPrompt(state.Topic, cfg.MaxConcurrentResearchers))

	var questions []string
	if err != nil {
		s.recordNonFatal(state, StageSupervisorPlan, err)
	} else {
		questions = parseLines(resp, cfg.MaxConcurrentResearchers)
	}
	if len(questions) == 0 {
		questions = []string{state.Topic}
	}

	state.Metadata[models.MetaSubQuestions] = questions
	for _, q := range questions {
		if state.Section(q) == nil {
			state.Sections = append(state.Sections, &models.Section{Title: q})
		}
	}
	state.Touch()
	return nil
}

// SubQuestions reads the supervisor's decomposition back out of
// metadata, tolerating the []any shape a JSON round-trip produces.
func SubQuestions(state *models.ReportState) []string {
	switch v := state.Metadata[models.MetaSubQuestions].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if q, ok := item.(string); ok {
				out = append(out, q)
			}
		}
		return out
	default:
		return nil
	}
}

// BranchResult is what one researcher branch produces. Branches never
// touch shared state; MergeBranches folds these in.
type BranchResult struct {
	Question string
	Content  string
	Batches  []models.SearchBatch
}

// ResearchBranch investigates one sub-question: search it, then have
// the researcher model write the findings. Runs concurrently with
// other branches, so it reads the state but never mutates it.
func (s *Stages) ResearchBranch(ctx context.Context, state *models.ReportState, question string) (*BranchResult, error) {
	cfg := state.Config
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits, backend, err := s.search.Execute(ctx, models.SearchRequest{
		Query:      question,
		Topic:      state.Topic,
		MaxResults: 5,
	}, cfg)
	if err != nil {
		return nil, err
	}
	batch := models.SearchBatch{Query: question, BackendID: backend, Hits: hits}

	content, err := s.generate(ctx, cfg.ResearcherModel, researcherInstructions,
		researcherPrompt(state.Topic, question, formatSources([]models.SearchBatch{batch}, sourceLimit)))
	if err != nil {
		return nil, fmt.Errorf("researching %q: %w", question, err)
	}

	return &BranchResult{Question: question, Content: content, Batches: []models.SearchBatch{batch}}, nil
}

// MergeBranches folds researcher results back into the state in
// branch order.
func (s *Stages) MergeBranches(state *models.ReportState, results []any) error {
	for _, item := range results {
		br, ok := item.(*BranchResult)
		if !ok {
			return faults.InvalidState("unexpected research branch result type")
		}
		for _, b := range br.Batches {
			state.AddSearchBatch(b.Query, b.BackendID, b.Hits)
		}
		state.UpsertSection(br.Question, br.Content)
	}
	return nil
}

// IntegrateReport has the supervisor compose the final report from
// the researchers' sections. An unparseable composition keeps the
// per-question sections and adds template bookends.
func (s *Stages) IntegrateReport(ctx context.Context, state *models.ReportState) error {
	cfg := state.Config
	resp, err := s.generate(ctx, cfg.SupervisorModel, supervisorInstructions,
		integratePrompt(state.Topic, renderSections(state.Sections)))
	if err != nil {
		return fmt.Errorf("integrating report: %w", err)
	}

	parsed := ParseSections(resp)
	if len(parsed) == 0 {
		s.recordNonFatal(state, StageIntegrateReport, faults.Transformation("parse integrated report",
			fmt.Errorf("no sections in model output")))
	} else {
		state.Sections = parsed
		state.Touch()
	}

	if state.Section(SectionIntroduction) == nil {
		intro := &models.Section{Title: SectionIntroduction, Content: "This report examines " + state.Topic + "."}
		state.Sections = append([]*models.Section{intro}, state.Sections...)
		state.Touch()
	}
	if state.Section(SectionConclusion) == nil {
		state.UpsertSection(SectionConclusion, "The sections above summarize the current state of "+state.Topic+".")
	}
	return nil
}

// generate runs one model call through the resilient client.
func (s *Stages) generate(ctx context.Context, spec, system, user string) (string, error) {
	resp, err := s.client.Generate(ctx, spec, llm.Request{
		Messages: []llm.Message{llm.System(system), llm.User(user)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// recordNonFatal marks a degraded stage outcome on the state and
// reports it without failing the flow.
func (s *Stages) recordNonFatal(state *models.ReportState, stage string, err error) {
	state.SetStageError(stage, err)
	s.reporter.Report(err,
		reporter.WithComponent("research."+stage),
		reporter.WithContext(map[string]any{"topic": state.Topic}))
	s.logger.Warn("Stage degraded", "stage", stage, "error", err)
}

func defaultSkeleton(topic string) []*models.Section {
	return []*models.Section{
		{Title: SectionIntroduction},
		{Title: "Overview of " + topic},
		{Title: "Key Aspects"},
		{Title: SectionConclusion},
	}
}

// padQueries extends the list with topic template queries until it
// reaches n entries.
func padQueries(queries []string, topic string, n int) []string {
	templates := []string{
		topic,
		topic + " overview",
		topic + " key developments",
		topic + " challenges",
		topic + " examples",
	}
	for _, t := range templates {
		if len(queries) >= n {
			break
		}
		duplicate := false
		for _, q := range queries {
			if strings.EqualFold(q, t) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			queries = append(queries, t)
		}
	}
	return queries
}

// addQueries records the queries that are not already on the state,
// case-insensitively. Returns how many were added.
func addQueries(state *models.ReportState, texts []string, stage string) int {
	existing := make(map[string]bool, len(state.Queries))
	for _, q := range state.Queries {
		existing[strings.ToLower(q.Text)] = true
	}
	added := 0
	for _, text := range texts {
		text = strings.TrimSpace(text)
		key := strings.ToLower(text)
		if text == "" || existing[key] {
			continue
		}
		existing[key] = true
		state.AddQuery(text, map[string]any{"stage": stage})
		added++
	}
	return added
}
