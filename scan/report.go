package scan

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrEmptyLocal        = errors.New("empty local universe")
	ErrEmptyReference    = errors.New("empty reference universe")
	ErrNoDownload        = errors.New("no securities downloaded")
	ErrUniverseMismatch  = errors.New("universe mismatch")
	ErrValidation        = errors.New("reference data rejected")
	ErrDependencyMissing = errors.New("dependency not reconciled")
)

// Rejection is a downloaded series dropped by validation.
type Rejection struct {
	Code   string
	Reason string
}

// Report accumulates the outcome of one unit of one frame.
type Report struct {
	Scope     string
	Unit      time.Time
	Local     int
	Reference int

	Verdict    Verdict
	Mismatches []Mismatch
	Divergent  []string
	Rejected   []Rejection
	Unresolved []string

	Deleted  int
	Inserted int
	Bars     int
	Repaired bool
}

func newReport(scope string, unit time.Time) *Report {
	return &Report{Scope: scope, Unit: unit}
}

// LogValue keeps unit log lines compact.
func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("scope", r.Scope),
		slog.String("unit", r.Unit.Format(time.DateOnly)),
		slog.Int("local", r.Local),
		slog.Int("reference", r.Reference),
		slog.Int("extra", len(r.Verdict.Extra)),
		slog.Int("missing", len(r.Verdict.Missing)),
		slog.Int("mismatch", len(r.Mismatches)),
		slog.Int("rejected", len(r.Rejected)),
		slog.Int("unresolved", len(r.Unresolved)),
		slog.Int("deleted", r.Deleted),
		slog.Int("inserted", r.Inserted),
	)
}

// Tally sums reports over a pass.
type Tally struct {
	Units      int
	Failed     int
	Extra      int
	Missing    int
	Mismatches int
	Rejected   int
	Deleted    int
	Inserted   int
}

func (t *Tally) Add(r *Report) {
	if r == nil {
		return
	}
	t.Units++
	t.Extra += len(r.Verdict.Extra)
	t.Missing += len(r.Verdict.Missing)
	t.Mismatches += len(r.Mismatches)
	t.Rejected += len(r.Rejected)
	t.Deleted += r.Deleted
	t.Inserted += r.Inserted
}

func (t *Tally) Merge(o Tally) {
	t.Units += o.Units
	t.Failed += o.Failed
	t.Extra += o.Extra
	t.Missing += o.Missing
	t.Mismatches += o.Mismatches
	t.Rejected += o.Rejected
	t.Deleted += o.Deleted
	t.Inserted += o.Inserted
}

func (t Tally) String() string {
	return fmt.Sprintf("units=%d failed=%d extra=%d missing=%d mismatch=%d rejected=%d deleted=%d inserted=%d",
		t.Units, t.Failed, t.Extra, t.Missing, t.Mismatches, t.Rejected, t.Deleted, t.Inserted)
}
