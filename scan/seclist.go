package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/jing2uo/datascan/model"
)

// SecurityList checks the stored list against the reference list for
// date and returns the reference universe.
func (r *Reconciler) SecurityList(ctx context.Context, date time.Time) (Universe, *Report, error) {
	rep := newReport("security_list", date)

	ref, err := r.provider.Securities(ctx, date)
	if err != nil {
		return Universe{}, rep, fmt.Errorf("reference securities: %w", err)
	}
	refU := NewUniverse(listedOn(ref, date))
	rep.Reference = refU.Len()
	if refU.Len() < r.opts.MinUniverse {
		return Universe{}, rep, fmt.Errorf("%d securities on %s: %w", refU.Len(), date.Format(time.DateOnly), ErrEmptyReference)
	}

	localU, err := r.localSecurities(ctx, date)
	if err != nil {
		return refU, rep, err
	}
	rep.Local = localU.Len()
	if localU.Len() < r.opts.MinUniverse && !(r.opts.Repair && r.opts.BackfillEmptyLocal) {
		return refU, rep, fmt.Errorf("%d securities on %s: %w", localU.Len(), date.Format(time.DateOnly), ErrEmptyLocal)
	}

	rep.Verdict = r.opts.Policy.Evaluate(Diff(localU.All(), refU.All()), refU.IsIndex)
	if !rep.Verdict.OK() && r.opts.Repair {
		r.logger.Info("security list out of sync, refreshing",
			"date", date.Format(time.DateOnly),
			"extra", len(rep.Verdict.HardExtra), "missing", len(rep.Verdict.HardMissing))

		full, err := r.provider.Securities(ctx, time.Time{})
		if err != nil {
			return refU, rep, fmt.Errorf("reference security history: %w", err)
		}
		if err := r.secs.ReplaceSecurities(ctx, full); err != nil {
			return refU, rep, fmt.Errorf("replace security list: %w", err)
		}
		rep.Repaired = true
		rep.Deleted = len(rep.Verdict.Extra)
		rep.Inserted = len(rep.Verdict.Missing)

		if localU, err = r.localSecurities(ctx, date); err != nil {
			return refU, rep, err
		}
		rep.Local = localU.Len()
		after := r.opts.Policy.Evaluate(Diff(localU.All(), refU.All()), refU.IsIndex)
		if !after.OK() {
			rep.Verdict = after
		}
	}

	if !rep.Verdict.OK() {
		return refU, rep, fmt.Errorf("security list %s extra=%v missing=%v: %w",
			date.Format(time.DateOnly), rep.Verdict.HardExtra, rep.Verdict.HardMissing, ErrUniverseMismatch)
	}
	r.logger.Info("security list checked", "report", rep)
	return refU, rep, nil
}

func (r *Reconciler) localSecurities(ctx context.Context, date time.Time) (Universe, error) {
	local, err := r.secs.Securities(ctx, date)
	if err != nil {
		return Universe{}, fmt.Errorf("local securities: %w", err)
	}
	return NewUniverse(listedOn(local, date)), nil
}

func listedOn(secs []model.Security, date time.Time) []model.Security {
	out := secs[:0:0]
	for _, s := range secs {
		if s.ListedOn(date) {
			out = append(out, s)
		}
	}
	return out
}
