package reporter

import (
	"sort"
	"time"

	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/models"
)

const maxGroupSamples = 3

// Group is one bucket returned by Visualize.
type Group struct {
	Key       string                `json:"key"`
	Count     int                   `json:"count"`
	FirstSeen time.Time             `json:"first_seen"`
	LastSeen  time.Time             `json:"last_seen"`
	Samples   []*models.ErrorReport `json:"samples,omitempty"`
}

// TrendInterval is one time bucket returned by Trends.
type TrendInterval struct {
	Start  time.Time               `json:"start"`
	End    time.Time               `json:"end"`
	Counts map[faults.Severity]int `json:"counts"`
	Total  int                     `json:"total"`
}

// Stats returns totals, per-axis counters, and live alert rule state.
func (r *Reporter) Stats() *models.ErrorStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &models.ErrorStats{
		Total:      r.total,
		ByKind:     make(map[faults.Kind]int, len(r.byKind)),
		BySeverity: make(map[faults.Severity]int, len(r.bySeverity)),
		ByCategory: make(map[faults.Category]int, len(r.byCategory)),
		Alerts:     r.alertSnapshots(),
	}
	for k, v := range r.byKind {
		stats.ByKind[k] = v
	}
	for k, v := range r.bySeverity {
		stats.BySeverity[k] = v
	}
	for k, v := range r.byCategory {
		stats.ByCategory[k] = v
	}
	return stats
}

// Visualize groups buffered errors newer than since by kind, category, or
// severity. maxErrors > 0 restricts the scan to the most recent maxErrors
// matching reports. Groups come back ordered by count descending.
func (r *Reporter) Visualize(groupBy string, since time.Time, maxErrors int) ([]Group, error) {
	var keyOf func(*models.ErrorReport) string
	switch groupBy {
	case "kind", "error_type", "":
		keyOf = func(rep *models.ErrorReport) string { return string(rep.ErrorType) }
	case "category":
		keyOf = func(rep *models.ErrorReport) string { return string(rep.Category) }
	case "severity":
		keyOf = func(rep *models.ErrorReport) string { return string(rep.Severity) }
	default:
		return nil, faults.Newf(faults.KindValidation, "unknown group_by %q, want kind, category, or severity", groupBy)
	}

	r.mu.Lock()
	reports := r.snapshot()
	r.mu.Unlock()

	matching := make([]*models.ErrorReport, 0, len(reports))
	for _, report := range reports {
		if report.Timestamp.Before(since) {
			continue
		}
		matching = append(matching, report)
	}
	if maxErrors > 0 && len(matching) > maxErrors {
		matching = matching[len(matching)-maxErrors:]
	}

	groups := make(map[string]*Group)
	for _, report := range matching {
		key := keyOf(report)
		group, ok := groups[key]
		if !ok {
			group = &Group{Key: key, FirstSeen: report.Timestamp, LastSeen: report.Timestamp}
			groups[key] = group
		}
		group.Count++
		if report.Timestamp.Before(group.FirstSeen) {
			group.FirstSeen = report.Timestamp
		}
		if report.Timestamp.After(group.LastSeen) {
			group.LastSeen = report.Timestamp
		}
		if len(group.Samples) < maxGroupSamples {
			group.Samples = append(group.Samples, report)
		}
	}

	out := make([]Group, 0, len(groups))
	for _, group := range groups {
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// Trends partitions [since, now] into equal intervals and counts buffered
// errors per severity per interval.
func (r *Reporter) Trends(since time.Time, interval time.Duration) ([]TrendInterval, error) {
	if interval <= 0 {
		return nil, faults.Validation("trend interval must be positive")
	}
	now := r.clock()
	if !since.Before(now) {
		return nil, faults.Validation("trend window start must be in the past")
	}

	span := now.Sub(since)
	buckets := int(span / interval)
	if span%interval != 0 {
		buckets++
	}

	out := make([]TrendInterval, buckets)
	for i := range out {
		start := since.Add(time.Duration(i) * interval)
		end := start.Add(interval)
		if end.After(now) {
			end = now
		}
		out[i] = TrendInterval{
			Start:  start,
			End:    end,
			Counts: make(map[faults.Severity]int),
		}
	}

	r.mu.Lock()
	reports := r.snapshot()
	r.mu.Unlock()

	for _, report := range reports {
		if report.Timestamp.Before(since) || report.Timestamp.After(now) {
			continue
		}
		idx := int(report.Timestamp.Sub(since) / interval)
		if idx >= len(out) {
			idx = len(out) - 1
		}
		out[idx].Counts[report.Severity]++
		out[idx].Total++
	}
	return out, nil
}
