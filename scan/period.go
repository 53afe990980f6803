package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/jing2uo/datascan/model"
)

// Period reconciles the week or month bar labelled by the period's last
// trading day. The universe is everything listed on the period's first
// or last trading day.
func (r *Reconciler) Period(ctx context.Context, frame model.Frame, label time.Time) (*Report, error) {
	first, last, err := r.cal.PeriodBounds(label, frame.Unit)
	if err != nil {
		return newReport(string(frame.Type), label), err
	}

	var u Universe
	for i, d := range []time.Time{first, last} {
		if i == 1 && d.Equal(first) {
			break
		}
		secs, err := r.provider.Securities(ctx, d)
		if err != nil {
			return newReport(string(frame.Type), last), fmt.Errorf("reference securities %s: %w", d.Format(time.DateOnly), err)
		}
		if i == 0 {
			u = NewUniverse(listedOn(secs, d))
		} else {
			u = u.Merge(NewUniverse(listedOn(secs, d)))
		}
	}

	return r.reconcile(ctx, unit{
		frame:    frame,
		label:    last,
		first:    first,
		last:     last,
		universe: u,
	})
}
