package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jing2uo/datascan/model"
)

// probeHour and probeMinute pick the bar every minute frame carries at
// the end of the morning session.
const (
	probeHour   = 11
	probeMinute = 30
)

// Minute reconciles one day of an intraday frame against the local
// daily bars of the same date, which must already be reconciled.
func (r *Reconciler) Minute(ctx context.Context, frame model.Frame, date time.Time) (*Report, error) {
	rep := newReport(string(frame.Type), date)
	day := date.Format(time.DateOnly)

	dayCodes, err := r.store.Codes(ctx, model.FrameDay, model.DayRange(date))
	if err != nil {
		return rep, fmt.Errorf("query local day codes: %w", err)
	}
	if len(dayCodes) == 0 {
		return rep, fmt.Errorf("%s %s: no day bars: %w", frame.Type, day, ErrDependencyMissing)
	}
	universe := NewCodeSet(dayCodes...)
	rep.Reference = universe.Len()

	if r.opts.MinuteMode.setDiff() {
		if err := r.minuteSetDiff(ctx, frame, date, universe, rep); err != nil {
			return rep, err
		}
	}
	if r.opts.MinuteMode.sample() {
		if err := r.minuteSample(ctx, frame, date, universe, rep); err != nil {
			return rep, err
		}
	}
	r.logger.Info("minute unit checked", "report", rep)
	return rep, nil
}

func (r *Reconciler) minuteSetDiff(ctx context.Context, frame model.Frame, date time.Time, universe CodeSet, rep *Report) error {
	day := date.Format(time.DateOnly)
	probe := model.At(date, probeHour, probeMinute)

	codes, err := r.store.Codes(ctx, frame.Type, model.TimeRange{Start: probe, End: probe})
	if err != nil {
		return fmt.Errorf("query local %s codes: %w", frame.Type, err)
	}
	rep.Local = len(codes)
	if len(codes) == 0 && !(r.opts.Repair && r.opts.BackfillEmptyLocal) {
		return fmt.Errorf("%s %s: %w", frame.Type, day, ErrEmptyLocal)
	}

	// every difference is hard: the day bars are the universe
	rep.Verdict = Policy{}.Evaluate(Diff(NewCodeSet(codes...), universe), nil)
	if rep.Verdict.OK() {
		return nil
	}
	if !r.opts.Repair {
		return fmt.Errorf("%s %s extra=%d missing=%d: %w",
			frame.Type, day, len(rep.Verdict.Extra), len(rep.Verdict.Missing), ErrUniverseMismatch)
	}

	span := model.DayRange(date)
	if len(rep.Verdict.Extra) > 0 {
		if err := r.store.Delete(ctx, frame.Type, span, rep.Verdict.Extra); err != nil {
			return fmt.Errorf("delete extra %s bars: %w", frame.Type, err)
		}
		rep.Deleted = len(rep.Verdict.Extra)
	}
	if len(rep.Verdict.Missing) == 0 {
		rep.Repaired = true
		return nil
	}

	fetched, rejected, err := r.fetch.Bars(ctx, frame, rep.Verdict.Missing, date, date)
	rep.Rejected = append(rep.Rejected, rejected...)
	if err != nil {
		return err
	}
	var bars []model.Bar
	for _, code := range rep.Verdict.Missing {
		series, ok := fetched[code]
		if !ok {
			rep.Unresolved = append(rep.Unresolved, code)
			continue
		}
		bars = append(bars, series...)
	}
	if err := r.store.Persist(ctx, frame.Type, bars); err != nil {
		return fmt.Errorf("persist %s bars: %w", frame.Type, err)
	}
	rep.Inserted = len(fetched)
	rep.Bars += len(bars)
	rep.Repaired = true
	if len(rep.Unresolved) > 0 {
		r.logger.Warn("minute bars unavailable", "frame", frame.Type, "date", day, "codes", rep.Unresolved)
	}
	return nil
}

func (r *Reconciler) minuteSample(ctx context.Context, frame model.Frame, date time.Time, universe CodeSet, rep *Report) error {
	s, ok := r.opts.Sampling[frame.Type]
	if !ok || s.Securities <= 0 {
		return nil
	}
	codes := r.pick(universe.Sorted(), s.Securities)

	fetched, rejected, err := r.fetch.Bars(ctx, frame, codes, date, date)
	rep.Rejected = append(rep.Rejected, rejected...)
	if err != nil {
		if errors.Is(err, ErrNoDownload) {
			r.logger.Warn("no sample downloaded", "frame", frame.Type, "date", date.Format(time.DateOnly))
			return nil
		}
		return err
	}

	local, err := r.store.Query(ctx, model.Query{Frame: frame.Type, Range: model.DayRange(date), Codes: codes})
	if err != nil {
		return fmt.Errorf("query local %s bars: %w", frame.Type, err)
	}
	localBars := groupByCode(local)

	divergent := NewCodeSet(rep.Divergent...)
	for _, code := range sortedKeys(fetched) {
		ref := r.pickBars(fetched[code], s.Bars)
		localAt := make(map[time.Time]model.Bar, len(localBars[code]))
		for _, b := range localBars[code] {
			localAt[b.Frame.UTC()] = b
		}
		for _, rb := range ref {
			lb, ok := localAt[rb.Frame.UTC()]
			if !ok {
				rep.Mismatches = append(rep.Mismatches, presence(code, rb.Frame, false))
				divergent.Add(code)
				continue
			}
			if ms := CompareBars(frame, lb, rb, false); len(ms) > 0 {
				rep.Mismatches = append(rep.Mismatches, ms...)
				divergent.Add(code)
			}
		}
	}
	rep.Divergent = divergent.Sorted()
	for _, m := range rep.Mismatches {
		r.logger.Warn("sampled bar mismatch", "mismatch", m.String())
	}

	if !r.opts.Repair || !r.opts.OverwriteDivergent {
		return nil
	}
	var bars []model.Bar
	n := 0
	for _, code := range rep.Divergent {
		if series, ok := fetched[code]; ok {
			bars = append(bars, series...)
			n++
		}
	}
	if len(bars) == 0 {
		return nil
	}
	if err := r.store.Persist(ctx, frame.Type, bars); err != nil {
		return fmt.Errorf("persist %s bars: %w", frame.Type, err)
	}
	rep.Inserted += n
	rep.Bars += len(bars)
	rep.Repaired = true
	return nil
}

// pick samples k codes without replacement, keeping their order.
func (r *Reconciler) pick(codes []string, k int) []string {
	if k >= len(codes) {
		return codes
	}
	idx := r.rng.Perm(len(codes))[:k]
	sort.Ints(idx)
	out := make([]string, k)
	for i, j := range idx {
		out[i] = codes[j]
	}
	return out
}

func (r *Reconciler) pickBars(bars []model.Bar, k int) []model.Bar {
	if k <= 0 || k >= len(bars) {
		return bars
	}
	idx := r.rng.Perm(len(bars))[:k]
	sort.Ints(idx)
	out := make([]model.Bar, k)
	for i, j := range idx {
		out[i] = bars[j]
	}
	return out
}
