package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jing2uo/datascan/gate"
	"github.com/jing2uo/datascan/logx"
	"github.com/jing2uo/datascan/model"
	"github.com/jing2uo/datascan/scan"
	"github.com/jing2uo/datascan/schedule"
)

type Mode string

const (
	// ModeBatch loops over windows until the stream has nothing left to do.
	ModeBatch Mode = "batch"
	// ModeStep runs a single window and returns.
	ModeStep Mode = "step"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBatch, ModeStep:
		return Mode(s), nil
	case "":
		return ModeBatch, nil
	}
	return "", fmt.Errorf("unknown run mode: %q", s)
}

type Outcome string

const (
	OutcomeExhausted Outcome = "exhausted"
	OutcomeUpToDate  Outcome = "up_to_date"
	OutcomeDenied    Outcome = "denied"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
	OutcomeStepped   Outcome = "stepped"
)

// UnitError is a unit that failed reconciliation.
type UnitError struct {
	Unit time.Time
	Err  error
}

func (e UnitError) Error() string {
	return fmt.Sprintf("unit %s: %v", e.Unit.Format(time.DateOnly), e.Err)
}

func (e UnitError) Unwrap() error { return e.Err }

// PassResult summarizes one Run of a stream.
type PassResult struct {
	Stream   schedule.Stream
	RunID    string
	Outcome  Outcome
	Decision gate.Decision
	Windows  int
	Units    int
	Failed   []UnitError
	Cursor   time.Time
	Tally    scan.Tally
}

type Admitter interface {
	Admit(ctx context.Context) gate.Decision
}

type Planner interface {
	Next(ctx context.Context, st schedule.Stream, latest time.Time) (schedule.Window, error)
	CommitWindow(ctx context.Context, w schedule.Window, done int) (time.Time, error)
}

// Edge tells which trading day has final data.
type Edge interface {
	LatestConfirmed(now time.Time, readyAt time.Duration) (time.Time, error)
}

// IssueLog keeps failed units for later inspection.
type IssueLog interface {
	Push(ctx context.Context, key, value string) error
}

type RunnerConfig struct {
	Mode Mode `yaml:"mode"`
	// StopFile ends a pass between units once it exists.
	StopFile string `yaml:"stop_file"`
	// ReadyAt is when a trading day's data is final.
	ReadyAt time.Duration `yaml:"ready_at"`
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Mode: ModeBatch, ReadyAt: 16 * time.Hour}
}

type Runner struct {
	gate   Admitter
	plan   Planner
	edge   Edge
	issues IssueLog
	exec   *TaskExecutor
	cfg    RunnerConfig
	logger *slog.Logger
	now    func() time.Time
}

type RunnerOption func(*Runner)

func WithClock(now func() time.Time) RunnerOption { return func(r *Runner) { r.now = now } }

func WithLogger(l *slog.Logger) RunnerOption { return func(r *Runner) { r.logger = l } }

func NewRunner(g Admitter, plan Planner, edge Edge, rec Reconciler, issues IssueLog, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	r := &Runner{
		gate:   g,
		plan:   plan,
		edge:   edge,
		issues: issues,
		exec:   NewTaskExecutor(rec, RegisteredTasks()),
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run drives one stream: gate, window, units, cursor, until the stream is
// exhausted or up to date, the gate denies, a unit fails or the pass is
// interrupted. with names minute frames a day stream reconciles in the
// same unit. Only scheduling and cursor errors are returned; unit
// failures are reported in the result.
func (r *Runner) Run(ctx context.Context, st schedule.Stream, with ...model.FrameType) (PassResult, error) {
	logger, runID := logx.WithRun(r.logger)
	logger = logger.With("stream", st.String())
	res := PassResult{Stream: st, RunID: runID}
	names := TaskNames(st.Frame, with...)

	for {
		if out, stop := r.interrupted(ctx); stop {
			res.Outcome = out
			break
		}

		res.Decision = r.gate.Admit(ctx)
		if !res.Decision.Allowed {
			res.Outcome = OutcomeDenied
			break
		}

		latest, err := r.edge.LatestConfirmed(r.now(), r.cfg.ReadyAt)
		if err != nil {
			return res, fmt.Errorf("failed to find latest confirmed day: %w", err)
		}
		w, err := r.plan.Next(ctx, st, latest)
		if err != nil {
			return res, fmt.Errorf("failed to plan %s: %w", st, err)
		}
		if w.Exhausted {
			res.Outcome = OutcomeExhausted
			break
		}
		if w.Empty() {
			res.Outcome = OutcomeUpToDate
			break
		}
		res.Windows++
		logger.Info("window planned", "units", formatDays(w.Units), "first", w.First, "latest", latest.Format(time.DateOnly))

		done, interrupt := r.runWindow(ctx, logger, st, w, names, &res)

		cur, err := r.plan.CommitWindow(context.WithoutCancel(ctx), w, done)
		if err != nil {
			return res, err
		}
		if !cur.IsZero() {
			res.Cursor = cur
		}

		switch {
		case len(res.Failed) > 0:
			res.Outcome = OutcomeFailed
		case interrupt != "":
			res.Outcome = interrupt
		case r.cfg.Mode == ModeStep:
			res.Outcome = OutcomeStepped
		default:
			continue
		}
		break
	}

	logger.Info("pass finished", "outcome", res.Outcome, "windows", res.Windows,
		"units", res.Units, "failed", len(res.Failed), "tally", res.Tally.String())
	return res, nil
}

// runWindow reconciles the units of w in order and returns how many of
// them succeeded before the first failure. Units after a failure still
// run but are not committed.
func (r *Runner) runWindow(ctx context.Context, logger *slog.Logger, st schedule.Stream, w schedule.Window, names []string, res *PassResult) (int, Outcome) {
	done := 0
	prefix := true
	for i, unit := range w.Units {
		if i > 0 {
			if out, stop := r.interrupted(ctx); stop {
				return done, out
			}
		}

		ulog := logger.With("unit", unit.Format(time.DateOnly))
		err := r.runUnit(ctx, ulog, st, unit, names, res)
		res.Units++
		if err != nil {
			res.Tally.Failed++
			res.Failed = append(res.Failed, UnitError{Unit: unit, Err: err})
			ulog.Error("unit failed", "error", err)
			r.recordIssue(ctx, ulog, st, unit, res.RunID, err)
			prefix = false
			continue
		}
		if prefix {
			done++
		}
	}
	return done, ""
}

func (r *Runner) runUnit(ctx context.Context, logger *slog.Logger, st schedule.Stream, unit time.Time, names []string, res *PassResult) error {
	args := &TaskArgs{Stream: st.Frame, Unit: unit, Logger: logger}
	// cancellation is only observed between units
	results, err := r.exec.Run(context.WithoutCancel(ctx), names, args)

	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, name := range names {
		tr := results[name]
		if tr == nil {
			continue
		}
		res.Tally.Add(tr.Report)
		switch tr.State {
		case StateFailed:
			errs = append(errs, fmt.Errorf("%s: %w", name, tr.Error))
		case StateBlocked:
			errs = append(errs, fmt.Errorf("%s: %s", name, tr.Message))
		case StateCompleted:
			if tr.Report != nil {
				logger.Info("unit checked", "task", name, "report", tr.Report)
			}
		}
	}
	return errors.Join(errs...)
}

type issue struct {
	Stream string `json:"stream"`
	Unit   string `json:"unit"`
	RunID  string `json:"run_id"`
	At     string `json:"at"`
	Error  string `json:"error"`
}

func (r *Runner) recordIssue(ctx context.Context, logger *slog.Logger, st schedule.Stream, unit time.Time, runID string, cause error) {
	if r.issues == nil {
		return
	}
	data, _ := json.Marshal(issue{
		Stream: st.String(),
		Unit:   unit.Format(time.DateOnly),
		RunID:  runID,
		At:     r.now().Format(time.DateTime),
		Error:  cause.Error(),
	})
	if err := r.issues.Push(context.WithoutCancel(ctx), schedule.IssuesKey, string(data)); err != nil {
		logger.Warn("failed to record issue", "error", err)
	}
}

func (r *Runner) interrupted(ctx context.Context) (Outcome, bool) {
	if ctx.Err() != nil {
		return OutcomeCancelled, true
	}
	if r.cfg.StopFile != "" {
		if _, err := os.Stat(r.cfg.StopFile); err == nil {
			r.logger.Info("stop file found", "path", r.cfg.StopFile)
			return OutcomeStopped, true
		}
	}
	return "", false
}

func formatDays(days []time.Time) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.Format(time.DateOnly)
	}
	return out
}
