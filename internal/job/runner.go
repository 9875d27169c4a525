// Package job runs monitoring passes over the target list and schedules
// them on a fixed interval.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"msgwatch/internal/capture"
	"msgwatch/internal/domain"
	"msgwatch/internal/extract"
	"msgwatch/internal/metrics"
	"msgwatch/internal/notify"
	"msgwatch/internal/store"

	"github.com/oklog/ulid/v2"
)

// Interceptor captures the listened response of one target.
type Interceptor interface {
	Intercept(ctx context.Context, target domain.MonitorTarget) (*capture.Response, error)
}

// Persister stores one record and reports what happened. It never fails.
type Persister interface {
	Persist(ctx context.Context, rec domain.MessageRecord) store.Outcome
}

// RunStats summarizes one pass over the targets. Written counts records
// that are in the store afterwards, whether new or already present.
type RunStats struct {
	ID         string
	Started    time.Time
	Duration   time.Duration
	Targets    int
	OK         int
	Fail       int
	Skipped    int
	Written    int
	Duplicates int
	Rejected   int // permission or missing-resource outcomes
	Errors     int // Failed outcomes
}

func (s RunStats) summary() metrics.RunSummary {
	return metrics.RunSummary{
		ID:         s.ID,
		Started:    s.Started,
		Duration:   s.Duration,
		Targets:    s.Targets,
		OK:         s.OK,
		Fail:       s.Fail,
		Skipped:    s.Skipped,
		Written:    s.Written,
		Duplicates: s.Duplicates,
		Rejected:   s.Rejected,
		Errors:     s.Errors,
	}
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Interceptor Interceptor
	Extractor   *extract.Extractor
	Persister   Persister
	Alerter     notify.Alerter // optional
	Logger      *slog.Logger
}

// Runner processes targets strictly one after another.
type Runner struct {
	interceptor Interceptor
	extractor   *extract.Extractor
	persister   Persister
	alerter     notify.Alerter
	logger      *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Extractor == nil {
		cfg.Extractor = extract.New()
	}
	if cfg.Alerter == nil {
		cfg.Alerter = notify.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		interceptor: cfg.Interceptor,
		extractor:   cfg.Extractor,
		persister:   cfg.Persister,
		alerter:     cfg.Alerter,
		logger:      cfg.Logger,
	}
}

type targetResult int

const (
	resultOK targetResult = iota
	resultFail
	resultSkipped
)

// RunOnce visits every target and persists what it extracts. A failing or
// panicking target never stops the run. Cancelling ctx stops before the
// next target; targets not reached are not counted.
func (r *Runner) RunOnce(ctx context.Context, targets []domain.MonitorTarget) RunStats {
	stats := RunStats{
		ID:      ulid.Make().String(),
		Started: time.Now(),
		Targets: len(targets),
	}
	log := r.logger.With("run", stats.ID)
	log.Info("run started", "targets", len(targets))

	for i, t := range targets {
		if ctx.Err() != nil {
			log.Warn("run interrupted", "done", i, "targets", len(targets))
			break
		}
		tlog := log.With("target", fmt.Sprintf("%d/%d", i+1, len(targets)), "typename", t.TypeName, "url", t.URL)

		switch r.processTarget(ctx, tlog, t, &stats) {
		case resultOK:
			stats.OK++
			metrics.TargetsOK.Inc()
		case resultFail:
			stats.Fail++
			metrics.TargetsFailed.Inc()
		case resultSkipped:
			stats.Skipped++
			metrics.TargetsSkipped.Inc()
		}
	}

	stats.Duration = time.Since(stats.Started)
	metrics.RunsTotal.Inc()
	metrics.RunDuration.Observe(stats.Duration.Seconds())
	metrics.Board.RecordRun(stats.summary())

	log.Info("run finished",
		"ok", stats.OK,
		"fail", stats.Fail,
		"skipped", stats.Skipped,
		"written", stats.Written,
		"duplicates", stats.Duplicates,
		"rejected", stats.Rejected,
		"duration", stats.Duration.Round(time.Millisecond),
	)

	if text := alertText(stats); text != "" {
		if err := r.alerter.Alert(ctx, text); err != nil {
			log.Warn("alert not delivered", "err", err)
		} else {
			metrics.AlertsTotal.Inc()
		}
	}
	return stats
}

func (r *Runner) processTarget(ctx context.Context, log *slog.Logger, t domain.MonitorTarget, stats *RunStats) (res targetResult) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("target panicked", "panic", p)
			res = resultFail
		}
	}()

	if !t.Valid() {
		log.Warn("skipping target without url")
		return resultSkipped
	}
	log.Info("visiting target")

	resp, err := r.interceptor.Intercept(ctx, t)
	if err != nil {
		log.Warn("capture failed", "err", err)
		return resultFail
	}

	msg, err := extract.Parse(resp.Latest())
	if err != nil {
		log.Warn("cannot extract latest item", "err", err)
		return resultFail
	}

	// Records of a captured target are written even if the run is being
	// cancelled; cancellation only stops before the next target.
	writeCtx := context.WithoutCancel(ctx)
	records := r.extractor.Extract(msg, t.TypeName)
	metrics.RecordsExtracted.Add(int64(len(records)))
	for _, rec := range records {
		switch outcome := r.persister.Persist(writeCtx, rec); {
		case outcome == store.SkippedDuplicate:
			stats.Written++
			stats.Duplicates++
		case outcome.Stored():
			stats.Written++
		case outcome.Misconfigured():
			stats.Rejected++
		default:
			stats.Errors++
		}
	}
	log.Info("target done", "records", len(records), "attempts", resp.Attempts)
	return resultOK
}

// alertText returns the operator message for a run that needs attention,
// or "" when it does not.
func alertText(s RunStats) string {
	var reasons []string
	if s.Rejected > 0 {
		reasons = append(reasons, fmt.Sprintf("%d record(s) rejected by the store (permission or missing table)", s.Rejected))
	}
	if s.OK == 0 && s.Fail > 0 {
		reasons = append(reasons, fmt.Sprintf("all %d visited target(s) failed", s.Fail))
	}
	if len(reasons) == 0 {
		return ""
	}
	return fmt.Sprintf("msgwatch run %s needs attention:\n- %s\nok=%d fail=%d skipped=%d written=%d",
		s.ID, strings.Join(reasons, "\n- "), s.OK, s.Fail, s.Skipped, s.Written)
}
