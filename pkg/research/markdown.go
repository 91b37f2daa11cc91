package research

import (
	"strings"

	"github.com/probelab/delver/pkg/models"
)

// ParseSections splits markdown text into top-level sections. Lines
// starting with "# " or "## " open a new section, "### " opens a
// subsection of the current one, and everything else accumulates as
// content of the innermost open node. Returns nil when the text
// contains no headings, which callers treat as a parse failure.
func ParseSections(text string) []*models.Section {
	var sections []*models.Section
	var current *models.Section
	var sub *models.Section

	flushInto := func(target *models.Section, lines []string) {
		content := strings.TrimSpace(strings.Join(lines, "\n"))
		if target != nil && content != "" {
			target.Content = content
		}
	}

	var buf []string
	target := func() *models.Section {
		if sub != nil {
			return sub
		}
		return current
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		switch {
		case strings.HasPrefix(trimmed, "### "):
			flushInto(target(), buf)
			buf = nil
			sub = &models.Section{Title: headingTitle(trimmed)}
			if current == nil {
				// Orphan subsection heading; promote it.
				current = sub
				sub = nil
				sections = append(sections, current)
			} else {
				current.Subsections = append(current.Subsections, sub)
			}
		case strings.HasPrefix(trimmed, "## "), strings.HasPrefix(trimmed, "# "):
			flushInto(target(), buf)
			buf = nil
			sub = nil
			current = &models.Section{Title: headingTitle(trimmed)}
			sections = append(sections, current)
		default:
			buf = append(buf, line)
		}
	}
	flushInto(target(), buf)
	return sections
}

func headingTitle(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, "#"))
}

// RenderReport formats the state's sections as one markdown document
// with the topic as the title.
func RenderReport(state *models.ReportState) string {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(state.Topic)
	sb.WriteString("\n")

	for _, s := range state.Sections {
		sb.WriteString("\n## ")
		sb.WriteString(s.Title)
		sb.WriteString("\n")
		if s.Content != "" {
			sb.WriteString("\n")
			sb.WriteString(s.Content)
			sb.WriteString("\n")
		}
		for _, sub := range s.Subsections {
			sb.WriteString("\n### ")
			sb.WriteString(sub.Title)
			sb.WriteString("\n")
			if sub.Content != "" {
				sb.WriteString("\n")
				sb.WriteString(sub.Content)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

// renderSections formats sections without the document title, used to
// show the current draft to a model.
func renderSections(sections []*models.Section) string {
	var sb strings.Builder
	for i, s := range sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## ")
		sb.WriteString(s.Title)
		sb.WriteString("\n")
		if s.Content != "" {
			sb.WriteString("\n")
			sb.WriteString(s.Content)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// parseLines extracts one entry per non-empty line, stripping list
// numbering, bullets, and surrounding quotes. Used for query lists and
// sub-question lists.
func parseLines(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		entry := strings.TrimSpace(line)
		if entry == "" || strings.HasPrefix(entry, "```") || strings.HasPrefix(entry, "#") {
			continue
		}
		entry = stripListMarker(entry)
		entry = strings.Trim(entry, `"'`)
		if entry == "" {
			continue
		}
		out = append(out, entry)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// stripListMarker removes a leading "1.", "2)", "-", "*" style marker.
func stripListMarker(line string) string {
	trimmed := strings.TrimLeft(line, "-*• \t")
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i > 0 && i < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')') {
		trimmed = trimmed[i+1:]
	}
	return strings.TrimSpace(trimmed)
}
