package research

import (
	"fmt"
	"strings"

	"github.com/probelab/delver/pkg/models"
)

// plannerInstructions is the system prompt for outline and query
// planning calls.
const plannerInstructions = `You are a research planner. You design report outlines and targeted search queries for a research topic.

Be specific and concrete. Prefer queries that retrieve factual, current information over broad ones. Follow the output format exactly; do not add commentary around it.`

// writerInstructions is the system prompt for section and report
// writing calls.
const writerInstructions = `You are a research writer. You turn search results and accumulated notes into clear, well-organized report prose.

Ground every claim in the provided sources. Write in complete paragraphs, use markdown formatting, and never invent citations.`

// supervisorInstructions is the system prompt for multi-agent
// decomposition and integration calls.
const supervisorInstructions = `You are a research supervisor coordinating a team of researchers. You decompose topics into independent sub-questions and integrate their findings into one coherent report.

Follow the output format exactly; do not add commentary around it.`

// researcherInstructions is the system prompt for a single
// sub-question investigation.
const researcherInstructions = `You are a researcher investigating one specific question. Answer it thoroughly using the provided sources, in markdown prose, grounding every claim in them.`

// reflectionInstructions is the system prompt for research critique
// calls.
const reflectionInstructions = `You are a research reviewer. You identify what a draft report still lacks: unanswered questions, missing perspectives, thin evidence.

Be brief and concrete. Name the gaps, not the strengths.`

// planReportPrompt asks the planner for a section outline.
func planReportPrompt(topic, structure string) string {
	var sb strings.Builder
	sb.WriteString("Plan a research report on the following topic.\n\n")
	sb.WriteString("## Topic\n")
	sb.WriteString(topic)
	sb.WriteString("\n\n## Required Structure\n")
	sb.WriteString(structure)
	sb.WriteString("\n\n## Output Format\n")
	sb.WriteString("Emit one markdown section heading per planned section, in order, as `## <section title>` lines. ")
	sb.WriteString("Under each heading write one sentence describing what the section should cover. ")
	sb.WriteString("Do not include a document title line.")
	return sb.String()
}

// generateQueriesPrompt asks the planner for search queries. focus
// names the section being researched and may be empty.
func generateQueriesPrompt(topic, focus, report string, n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate exactly %d web search queries to research the topic below.\n\n", n)
	sb.WriteString("## Topic\n")
	sb.WriteString(topic)
	if focus != "" {
		sb.WriteString("\n\n## Current Section\n")
		sb.WriteString(focus)
	}
	if report != "" {
		sb.WriteString("\n\n## Report So Far\n")
		sb.WriteString(report)
	}
	sb.WriteString("\n\n## Output Format\n")
	sb.WriteString("One query per line. No numbering, no bullets, no commentary.")
	return sb.String()
}

// writeSectionPrompt asks the writer to draft one section.
func writeSectionPrompt(topic, title, description, sources string) string {
	var sb strings.Builder
	sb.WriteString("Write the report section described below.\n\n")
	sb.WriteString("## Report Topic\n")
	sb.WriteString(topic)
	sb.WriteString("\n\n## Section\n")
	sb.WriteString(title)
	if description != "" {
		sb.WriteString("\n")
		sb.WriteString(description)
	}
	sb.WriteString("\n\n")
	sb.WriteString(sources)
	sb.WriteString("\n## Output Format\n")
	sb.WriteString("The section body only, in markdown prose. No heading line, no preamble.")
	return sb.String()
}

// synthesizePrompt asks the writer to merge current knowledge with new
// search results.
func synthesizePrompt(topic, current, sources string) string {
	var sb strings.Builder
	sb.WriteString("Synthesize what is known about the topic so far.\n\n")
	sb.WriteString("## Topic\n")
	sb.WriteString(topic)
	if current != "" {
		sb.WriteString("\n\n## Current Knowledge\n")
		sb.WriteString(current)
	}
	sb.WriteString("\n\n")
	sb.WriteString(sources)
	sb.WriteString("\n## Output Format\n")
	sb.WriteString("A consolidated synthesis in markdown prose, merging current knowledge with the new sources. No heading line.")
	return sb.String()
}

// updateReportPrompt asks the writer to rewrite the whole report.
func updateReportPrompt(topic, structure, report, synthesis string) string {
	var sb strings.Builder
	sb.WriteString("Rewrite the research report using everything known so far.\n\n")
	sb.WriteString("## Topic\n")
	sb.WriteString(topic)
	sb.WriteString("\n\n## Required Structure\n")
	sb.WriteString(structure)
	if report != "" {
		sb.WriteString("\n\n## Current Report\n")
		sb.WriteString(report)
	}
	if synthesis != "" {
		sb.WriteString("\n\n## Knowledge Synthesis\n")
		sb.WriteString(synthesis)
	}
	sb.WriteString("\n\n## Output Format\n")
	sb.WriteString("The full report as markdown `## <section>` headings with prose under each. ")
	sb.WriteString("Do not include a document title line. Preserve any `## Research Plan` section exactly as given.")
	return sb.String()
}

// reflectPrompt asks the reviewer to critique the draft.
func reflectPrompt(topic, report string) string {
	var sb strings.Builder
	sb.WriteString("Review this draft research report and identify the most important gaps.\n\n")
	sb.WriteString("## Topic\n")
	sb.WriteString(topic)
	sb.WriteString("\n\n## Draft Report\n")
	sb.WriteString(report)
	sb.WriteString("\n\n## Output Format\n")
	sb.WriteString("A short critique in markdown prose naming the concrete gaps that further research should close.")
	return sb.String()
}

// supervisorPlanPrompt asks the supervisor to decompose the topic.
func supervisorPlanPrompt(topic string, n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Decompose the research topic below into at most %d independent sub-questions that together cover it.\n\n", n)
	sb.WriteString("## Topic\n")
	sb.WriteString(topic)
	sb.WriteString("\n\n## Output Format\n")
	sb.WriteString("One sub-question per line. No numbering, no bullets, no commentary.")
	return sb.String()
}

// researcherPrompt asks one researcher to answer a sub-question.
func researcherPrompt(topic, question, sources string) string {
	var sb strings.Builder
	sb.WriteString("Investigate the question below as part of a report on the topic.\n\n")
	sb.WriteString("## Report Topic\n")
	sb.WriteString(topic)
	sb.WriteString("\n\n## Question\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString(sources)
	sb.WriteString("\n## Output Format\n")
	sb.WriteString("Your findings in markdown prose. No heading line, no preamble.")
	return sb.String()
}

// integratePrompt asks the supervisor to compose the final report.
func integratePrompt(topic, findings string) string {
	var sb strings.Builder
	sb.WriteString("Compose the final research report from the researchers' findings below.\n\n")
	sb.WriteString("## Topic\n")
	sb.WriteString(topic)
	sb.WriteString("\n\n## Findings\n")
	sb.WriteString(findings)
	sb.WriteString("\n\n## Output Format\n")
	sb.WriteString("The full report as markdown `## <section>` headings with prose under each, ")
	sb.WriteString("opening with an Introduction section and closing with a Conclusion section. ")
	sb.WriteString("Do not include a document title line.")
	return sb.String()
}

// introductionPrompt and conclusionPrompt fill the bookend sections
// when a finished report lacks them.
func introductionPrompt(topic, report string) string {
	var sb strings.Builder
	sb.WriteString("Write a short introduction for this report.\n\n")
	sb.WriteString("## Topic\n")
	sb.WriteString(topic)
	sb.WriteString("\n\n## Report\n")
	sb.WriteString(report)
	sb.WriteString("\n\n## Output Format\n")
	sb.WriteString("One or two paragraphs of markdown prose. No heading line.")
	return sb.String()
}

func conclusionPrompt(topic, report string) string {
	var sb strings.Builder
	sb.WriteString("Write a concise conclusion for this report.\n\n")
	sb.WriteString("## Topic\n")
	sb.WriteString(topic)
	sb.WriteString("\n\n## Report\n")
	sb.WriteString(report)
	sb.WriteString("\n\n## Output Format\n")
	sb.WriteString("One or two paragraphs of markdown prose distilling the report's main findings. No heading line.")
	return sb.String()
}

// formatSources renders search batches as a numbered source list for
// model prompts, most recent batches first, capped at limit hits.
func formatSources(batches []models.SearchBatch, limit int) string {
	if limit <= 0 {
		limit = 10
	}
	var sb strings.Builder
	sb.WriteString("## Sources\n")

	n := 0
	for i := len(batches) - 1; i >= 0 && n < limit; i-- {
		for _, hit := range batches[i].Hits {
			if n >= limit {
				break
			}
			n++
			fmt.Fprintf(&sb, "\n### Source %d: %s\n", n, hit.Title)
			if hit.URL != "" {
				fmt.Fprintf(&sb, "URL: %s\n", hit.URL)
			}
			if hit.Content != "" {
				sb.WriteString(hit.Content)
				sb.WriteString("\n")
			}
		}
	}
	if n == 0 {
		sb.WriteString("\nNo sources available. Write from general knowledge and say so where it matters.\n")
	}
	return sb.String()
}
