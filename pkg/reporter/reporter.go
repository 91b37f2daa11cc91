// Package reporter collects classified errors into a bounded in-memory ring,
// aggregates counters, persists selected reports to disk, and drives alert
// rules. Reporting never fails the caller: persistence and dispatch problems
// are logged and swallowed.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/events"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/masking"
	"github.com/probelab/delver/pkg/metrics"
	"github.com/probelab/delver/pkg/models"
)

const defaultMaxErrors = 1000

// Option customizes a single Report call.
type Option func(*reportOptions)

type reportOptions struct {
	component string
	context   map[string]any
	severity  faults.Severity
	category  faults.Category
	save      *bool
}

// WithComponent tags the report with the emitting component.
func WithComponent(name string) Option {
	return func(o *reportOptions) { o.component = name }
}

// WithContext attaches caller context to the report. Values are masked
// before they are logged or persisted.
func WithContext(ctx map[string]any) Option {
	return func(o *reportOptions) { o.context = ctx }
}

// WithSeverity overrides the severity carried by the error.
func WithSeverity(s faults.Severity) Option {
	return func(o *reportOptions) { o.severity = s }
}

// WithCategory overrides the category carried by the error.
func WithCategory(c faults.Category) Option {
	return func(o *reportOptions) { o.category = c }
}

// WithSave forces the report to be persisted (or not), overriding the
// severity-based default.
func WithSave(save bool) Option {
	return func(o *reportOptions) { o.save = &save }
}

// Reporter is the error collection hub. Safe for concurrent use.
type Reporter struct {
	cfg       *config.ReporterConfig
	env       config.Environment
	masker    *masking.Masker
	publisher *events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clock     func() time.Time

	mu         sync.Mutex
	ring       []*models.ErrorReport
	next       int
	size       int
	total      int
	byKind     map[faults.Kind]int
	bySeverity map[faults.Severity]int
	byCategory map[faults.Category]int
	rules      []*alertRule

	channelMu sync.RWMutex
	channels  map[string]Channel
}

// New creates a reporter from configuration. The publisher and metrics may
// be nil; reporting then skips event emission and instrumentation. Alert
// rules from cfg.Rules are installed immediately.
func New(cfg *config.ReporterConfig, env config.Environment, publisher *events.Publisher, m *metrics.Metrics) *Reporter {
	if cfg == nil {
		cfg = config.DefaultReporterConfig()
	}
	maxErrors := cfg.MaxErrors
	if maxErrors <= 0 {
		maxErrors = defaultMaxErrors
	}

	r := &Reporter{
		cfg:        cfg,
		env:        env,
		masker:     masking.NewMasker(),
		publisher:  publisher,
		metrics:    m,
		logger:     slog.Default().With("component", "error_reporter"),
		clock:      time.Now,
		ring:       make([]*models.ErrorReport, maxErrors),
		byKind:     make(map[faults.Kind]int),
		bySeverity: make(map[faults.Severity]int),
		byCategory: make(map[faults.Category]int),
		channels:   map[string]Channel{},
	}
	r.RegisterChannel(NewLogChannel())

	for _, rule := range cfg.Rules {
		if err := r.AddRule(rule); err != nil {
			r.logger.Warn("Skipping invalid alert rule", "rule", rule.Name, "error", err)
		}
	}
	return r
}

// Report records err and returns the captured report. It appends to the
// ring, updates counters, optionally persists the report, publishes an
// error.reported event, and evaluates alert rules. Alert dispatch and all
// I/O happen outside the reporter lock.
func (r *Reporter) Report(err error, opts ...Option) *models.ErrorReport {
	if r == nil || err == nil {
		return nil
	}

	var o reportOptions
	for _, opt := range opts {
		opt(&o)
	}

	report := r.buildReport(err, &o)

	r.mu.Lock()
	r.append(report)
	fired := r.evaluateRules(report)
	r.mu.Unlock()

	r.metrics.RecordErrorReported(string(report.ErrorType), string(report.Severity))

	if r.shouldPersist(report, o.save) {
		if path, perr := r.persist(report); perr != nil {
			r.logger.Error("Failed to persist error report", "error", perr)
		} else {
			r.logger.Debug("Error report persisted", "path", path)
		}
	}

	if r.publisher != nil {
		r.publisher.PublishErrorReported(events.ErrorReportedPayload{
			ErrorType: string(report.ErrorType),
			Severity:  string(report.Severity),
			Category:  string(report.Category),
			Message:   report.Message,
			Component: o.component,
		})
	}

	r.logReport(report, o.component)
	for _, alert := range fired {
		r.dispatch(alert)
	}
	return report
}

func (r *Reporter) buildReport(err error, o *reportOptions) *models.ErrorReport {
	kind := faults.KindOf(err)
	if kind == "" {
		// Errors outside the taxonomy are reported as permanent failures.
		kind = faults.KindPermanent
	}

	severity := o.severity
	if severity == "" {
		severity = faults.SeverityOf(err)
	}
	category := o.category
	if category == "" {
		category = faults.CategoryOf(err)
	}

	report := &models.ErrorReport{
		ErrorType: kind,
		Message:   r.masker.MaskString(err.Error()),
		Severity:  severity,
		Category:  category,
		Timestamp: r.clock().UTC(),
	}

	if e, ok := faults.AsError(err); ok {
		if details := e.Details(); len(details) > 0 {
			report.Details = r.masker.MaskMap(details)
		}
		if cause := e.Unwrap(); cause != nil {
			report.Cause = r.masker.MaskString(cause.Error())
		}
	}
	if len(o.context) > 0 {
		ctx := r.masker.MaskMap(o.context)
		if o.component != "" {
			ctx["component"] = o.component
		}
		report.Context = ctx
	} else if o.component != "" {
		report.Context = map[string]any{"component": o.component}
	}

	if r.env.IsDevelopment() {
		report.Traceback = string(debug.Stack())
	}
	return report
}

// append stores the report in the circular ring. Caller holds r.mu.
func (r *Reporter) append(report *models.ErrorReport) {
	r.ring[r.next] = report
	r.next = (r.next + 1) % len(r.ring)
	if r.size < len(r.ring) {
		r.size++
	}

	r.total++
	r.byKind[report.ErrorType]++
	r.bySeverity[report.Severity]++
	r.byCategory[report.Category]++
}

// snapshot returns the buffered reports oldest first. Caller holds r.mu.
func (r *Reporter) snapshot() []*models.ErrorReport {
	out := make([]*models.ErrorReport, 0, r.size)
	start := r.next - r.size
	if start < 0 {
		start += len(r.ring)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.ring[(start+i)%len(r.ring)])
	}
	return out
}

func (r *Reporter) shouldPersist(report *models.ErrorReport, save *bool) bool {
	if r.cfg.PersistDir == "" {
		return false
	}
	if save != nil {
		return *save
	}
	min := faults.Severity(r.cfg.PersistMinSeverity)
	if !min.IsValid() {
		min = faults.SeverityError
	}
	return report.Severity.AtLeast(min)
}

func (r *Reporter) logReport(report *models.ErrorReport, component string) {
	attrs := []any{
		"error_type", string(report.ErrorType),
		"severity", string(report.Severity),
		"category", string(report.Category),
	}
	if component != "" {
		attrs = append(attrs, "error_component", component)
	}
	switch report.Severity {
	case faults.SeverityDebug:
		r.logger.Debug(report.Message, attrs...)
	case faults.SeverityInfo:
		r.logger.Info(report.Message, attrs...)
	case faults.SeverityWarning:
		r.logger.Warn(report.Message, attrs...)
	default:
		r.logger.Error(report.Message, attrs...)
	}
}

// Total returns the number of reports ever accepted.
func (r *Reporter) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Recent returns up to n buffered reports, newest first.
func (r *Reporter) Recent(n int) []*models.ErrorReport {
	r.mu.Lock()
	reports := r.snapshot()
	r.mu.Unlock()

	if n <= 0 || n > len(reports) {
		n = len(reports)
	}
	out := make([]*models.ErrorReport, 0, n)
	for i := len(reports) - 1; i >= len(reports)-n; i-- {
		out = append(out, reports[i])
	}
	return out
}

// dispatch delivers a fired alert to its channels, publishes alert.fired,
// and records the firing. Never called under r.mu.
func (r *Reporter) dispatch(alert Alert) {
	r.metrics.RecordAlertFired(alert.Rule)

	if r.publisher != nil {
		payload := events.AlertFiredPayload{
			Rule:      alert.Rule,
			Count:     alert.Count,
			Threshold: alert.Threshold,
			WindowSec: int(alert.Window.Seconds()),
			Channels:  alert.Channels,
		}
		if len(alert.Kinds) == 1 {
			payload.ErrorType = alert.Kinds[0]
		}
		r.publisher.PublishAlertFired(payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, name := range alert.Channels {
		r.channelMu.RLock()
		channel, ok := r.channels[name]
		r.channelMu.RUnlock()
		if !ok {
			r.logger.Warn("Alert rule references unknown channel",
				"rule", alert.Rule, "channel", name)
			continue
		}
		if err := channel.Notify(ctx, alert); err != nil {
			r.logger.Error("Alert channel delivery failed",
				"rule", alert.Rule, "channel", name, "error", err)
		}
	}
}

func errorFileName(report *models.ErrorReport) string {
	// ISO 8601 basic format keeps the name filesystem-safe.
	stamp := report.Timestamp.UTC().Format("20060102T150405.000000000Z")
	return fmt.Sprintf("error_%s_%s.json", report.ErrorType, stamp)
}
