package reporter

import (
	"time"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/models"
)

// Alert is a fired rule delivered to channels.
type Alert struct {
	Rule      string
	Count     int
	Threshold int
	Window    time.Duration
	Kinds     []string
	Channels  []string
	FiredAt   time.Time
	// Sample is the report that tripped the rule.
	Sample *models.ErrorReport
}

// alertRule is the runtime form of a configured rule.
type alertRule struct {
	cfg         config.AlertRuleConfig
	minSeverity faults.Severity
	kinds       map[faults.Kind]bool
	categories  map[faults.Category]bool
	lastFiredAt time.Time
	lastCount   int
}

func newAlertRule(cfg config.AlertRuleConfig) (*alertRule, error) {
	if cfg.Name == "" {
		return nil, faults.Validation("alert rule requires a name")
	}
	if cfg.CountThreshold < 1 {
		return nil, faults.Validation("alert rule count_threshold must be at least 1")
	}
	if cfg.Window <= 0 {
		return nil, faults.Validation("alert rule window must be positive")
	}

	minSeverity := faults.Severity(cfg.MinSeverity)
	if cfg.MinSeverity == "" {
		minSeverity = faults.SeverityError
	} else if !minSeverity.IsValid() {
		return nil, faults.Newf(faults.KindValidation, "alert rule %q has unknown severity %q", cfg.Name, cfg.MinSeverity)
	}

	rule := &alertRule{
		cfg:         cfg,
		minSeverity: minSeverity,
	}
	if len(cfg.Kinds) > 0 {
		rule.kinds = make(map[faults.Kind]bool, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			kind := faults.Kind(k)
			if !kind.IsValid() {
				return nil, faults.Newf(faults.KindValidation, "alert rule %q has unknown kind %q", cfg.Name, k)
			}
			rule.kinds[kind] = true
		}
	}
	if len(cfg.Categories) > 0 {
		rule.categories = make(map[faults.Category]bool, len(cfg.Categories))
		for _, c := range cfg.Categories {
			category := faults.Category(c)
			if !category.IsValid() {
				return nil, faults.Newf(faults.KindValidation, "alert rule %q has unknown category %q", cfg.Name, c)
			}
			rule.categories[category] = true
		}
	}
	return rule, nil
}

func (a *alertRule) matches(report *models.ErrorReport) bool {
	if !report.Severity.AtLeast(a.minSeverity) {
		return false
	}
	if a.kinds != nil && !a.kinds[report.ErrorType] {
		return false
	}
	if a.categories != nil && !a.categories[report.Category] {
		return false
	}
	return true
}

// evaluateRules checks every rule against the trailing window after the
// given report was appended, marks fired rules, and returns the alerts to
// dispatch. Caller holds r.mu; dispatch happens after it is released.
func (r *Reporter) evaluateRules(latest *models.ErrorReport) []Alert {
	if len(r.rules) == 0 {
		return nil
	}

	now := r.clock()
	reports := r.snapshot()

	var fired []Alert
	for _, rule := range r.rules {
		if !rule.matches(latest) {
			continue
		}

		cutoff := now.Add(-rule.cfg.Window)
		count := 0
		for _, report := range reports {
			if report.Timestamp.Before(cutoff) {
				continue
			}
			if rule.matches(report) {
				count++
			}
		}
		rule.lastCount = count
		if count < rule.cfg.CountThreshold {
			continue
		}
		// One firing per window.
		if !rule.lastFiredAt.IsZero() && now.Sub(rule.lastFiredAt) < rule.cfg.Window {
			continue
		}
		rule.lastFiredAt = now
		fired = append(fired, Alert{
			Rule:      rule.cfg.Name,
			Count:     count,
			Threshold: rule.cfg.CountThreshold,
			Window:    rule.cfg.Window,
			Kinds:     append([]string(nil), rule.cfg.Kinds...),
			Channels:  append([]string(nil), rule.cfg.Channels...),
			FiredAt:   now,
			Sample:    latest,
		})
	}
	return fired
}

// AddRule installs an alert rule. The rule is validated first.
func (r *Reporter) AddRule(cfg config.AlertRuleConfig) error {
	rule, err := newAlertRule(cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	return nil
}

// RemoveRule removes the rule at the given position in Rules() order.
func (r *Reporter) RemoveRule(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.rules) {
		return faults.Newf(faults.KindNotFound, "no alert rule at index %d", index)
	}
	r.rules = append(r.rules[:index], r.rules[index+1:]...)
	return nil
}

// Rules returns the configured alert rules in evaluation order.
func (r *Reporter) Rules() []config.AlertRuleConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]config.AlertRuleConfig, len(r.rules))
	for i, rule := range r.rules {
		out[i] = rule.cfg
	}
	return out
}

// ReplaceRules swaps the full rule set, keeping last-fired state for rules
// whose name survives so a hot reload does not re-fire suppressed alerts.
func (r *Reporter) ReplaceRules(cfgs []config.AlertRuleConfig) error {
	rules := make([]*alertRule, 0, len(cfgs))
	for _, cfg := range cfgs {
		rule, err := newAlertRule(cfg)
		if err != nil {
			return err
		}
		rules = append(rules, rule)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous := make(map[string]time.Time, len(r.rules))
	for _, rule := range r.rules {
		previous[rule.cfg.Name] = rule.lastFiredAt
	}
	for _, rule := range rules {
		if firedAt, ok := previous[rule.cfg.Name]; ok {
			rule.lastFiredAt = firedAt
		}
	}
	r.rules = rules
	return nil
}

// RegisterChannel adds (or replaces) an alert dispatch channel.
func (r *Reporter) RegisterChannel(ch Channel) {
	if ch == nil {
		return
	}
	r.channelMu.Lock()
	defer r.channelMu.Unlock()
	r.channels[ch.Name()] = ch
}

// alertSnapshots captures live rule state. Caller holds r.mu.
func (r *Reporter) alertSnapshots() map[string]*models.AlertSnapshot {
	if len(r.rules) == 0 {
		return nil
	}
	out := make(map[string]*models.AlertSnapshot, len(r.rules))
	for _, rule := range r.rules {
		snap := &models.AlertSnapshot{
			Rule:      rule.cfg.Name,
			Threshold: rule.cfg.CountThreshold,
			Window:    rule.cfg.Window.String(),
			Count:     rule.lastCount,
		}
		if len(rule.cfg.Kinds) == 1 {
			snap.Kind = faults.Kind(rule.cfg.Kinds[0])
		}
		if !rule.lastFiredAt.IsZero() {
			firedAt := rule.lastFiredAt
			snap.LastFiredAt = &firedAt
		}
		out[rule.cfg.Name] = snap
	}
	return out
}

