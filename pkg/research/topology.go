package research

import (
	"context"
	"fmt"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/models"
	"github.com/probelab/delver/pkg/pipeline"
)

// Routing labels used by the conditional edges below.
const (
	labelNextSection      = "next_section"
	labelDone             = "done"
	labelContinueResearch = "continue_research"
	labelFinalizeReport   = "finalize_report"
)

// Topology is a built research graph plus the step accounting the
// engine needs. EstimatedSteps feeds progress reporting; MaxSteps is
// the hard cap handed to the engine.
type Topology struct {
	Graph          *pipeline.Graph[*models.ReportState]
	EstimatedSteps int
	MaxSteps       int
}

// Build assembles the graph for the configured research mode.
func Build(s *Stages, cfg *config.ResearchConfig) (Topology, error) {
	switch cfg.ResearchMode {
	case config.ModeLinear:
		return buildLinear(s)
	case config.ModeIterative:
		return buildIterative(s, cfg)
	case config.ModeMultiAgent:
		return buildMultiAgent(s)
	default:
		return Topology{}, faults.Validation(fmt.Sprintf("unknown research mode %q", cfg.ResearchMode))
	}
}

// buildLinear walks the planned sections one cursor position at a
// time: each loop generates queries focused on the current section,
// searches, and writes it before advancing.
func buildLinear(s *Stages) (Topology, error) {
	graph, err := pipeline.NewBuilder[*models.ReportState]().
		AddStage(StageInitialize, s.Initialize).
		AddStage(StagePlanReport, s.PlanReport).
		AddStage(StageInitialSearches, s.ExecuteInitialSearches).
		AddStage(StageGenerateQueries, s.GenerateQueries).
		AddStage(StageExecuteSearches, s.ExecuteSearches).
		AddStage(StageWriteSection, s.WriteSection).
		SetStart(StageInitialize).
		To(StageInitialize, StagePlanReport).
		To(StagePlanReport, StageInitialSearches).
		To(StageInitialSearches, StageGenerateQueries).
		To(StageGenerateQueries, StageExecuteSearches).
		To(StageExecuteSearches, StageWriteSection).
		Route(StageWriteSection, sectionsRemainRouter, map[string]string{
			labelNextSection: StageGenerateQueries,
			labelDone:        pipeline.End,
		}).
		Build()
	if err != nil {
		return Topology{}, err
	}
	// Section count is only known after planning; estimate against the
	// default skeleton and cap generously since plans vary.
	return Topology{
		Graph:          graph,
		EstimatedSteps: 3 + 3*len(defaultSkeleton("")),
		MaxSteps:       100,
	}, nil
}

// buildIterative loops generate -> search -> synthesize -> update ->
// reflect until the iteration counter reaches max_search_depth, then
// finalizes.
func buildIterative(s *Stages, cfg *config.ResearchConfig) (Topology, error) {
	graph, err := pipeline.NewBuilder[*models.ReportState]().
		AddStage(StageInitialize, s.Initialize).
		AddStage(StageGenerateQueries, s.GenerateQueries).
		AddStage(StageExecuteSearches, s.ExecuteSearches).
		AddStage(StageSynthesize, s.SynthesizeKnowledge).
		AddStage(StageUpdateReport, s.UpdateReport).
		AddStage(StageReflect, s.ReflectOnResearch).
		AddStage(StageFinalize, s.FinalizeReport).
		SetStart(StageInitialize).
		To(StageInitialize, StageGenerateQueries).
		To(StageGenerateQueries, StageExecuteSearches).
		To(StageExecuteSearches, StageSynthesize).
		To(StageSynthesize, StageUpdateReport).
		To(StageUpdateReport, StageReflect).
		Route(StageReflect, depthRouter(cfg.MaxSearchDepth), map[string]string{
			labelContinueResearch: StageGenerateQueries,
			labelFinalizeReport:   StageFinalize,
		}).
		To(StageFinalize, pipeline.End).
		Build()
	if err != nil {
		return Topology{}, err
	}
	depth := cfg.MaxSearchDepth
	if depth < 1 {
		// Reflect runs at least once before the depth check can trip.
		depth = 1
	}
	return Topology{
		Graph:          graph,
		EstimatedSteps: 2 + 5*depth,
		MaxSteps:       5*(depth+1) + 4,
	}, nil
}

// buildMultiAgent fans one researcher branch out per supervisor
// sub-question and integrates the merged sections into the report.
func buildMultiAgent(s *Stages) (Topology, error) {
	graph, err := pipeline.NewBuilder[*models.ReportState]().
		AddStage(StageInitialize, s.Initialize).
		AddStage(StageSupervisorPlan, s.SupervisorPlan).
		AddFanOut(StageResearcher, pipeline.FanOut[*models.ReportState]{
			Select: selectSubQuestions,
			Run: func(ctx context.Context, state *models.ReportState, item any, _ int) (any, error) {
				question, _ := item.(string)
				return s.ResearchBranch(ctx, state, question)
			},
			Merge: s.MergeBranches,
			Next:  StageIntegrateReport,
		}).
		AddStage(StageIntegrateReport, s.IntegrateReport).
		SetStart(StageInitialize).
		To(StageInitialize, StageSupervisorPlan).
		To(StageIntegrateReport, pipeline.End).
		Build()
	if err != nil {
		return Topology{}, err
	}
	return Topology{Graph: graph, EstimatedSteps: 4, MaxSteps: 8}, nil
}

// sectionsRemainRouter keeps the linear loop going until the write
// cursor has passed every planned section.
func sectionsRemainRouter(state *models.ReportState) string {
	if state.SectionCursor() < len(state.Sections) {
		return labelNextSection
	}
	return labelDone
}

// depthRouter continues the iterative loop until the reflect stage has
// run maxDepth times.
func depthRouter(maxDepth int) pipeline.Router[*models.ReportState] {
	return func(state *models.ReportState) string {
		if state.Iterations() < maxDepth {
			return labelContinueResearch
		}
		return labelFinalizeReport
	}
}

func selectSubQuestions(state *models.ReportState) []any {
	questions := SubQuestions(state)
	items := make([]any, len(questions))
	for i, q := range questions {
		items[i] = q
	}
	return items
}
