package scan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jing2uo/datascan/model"
)

func newMinuteFixture(t *testing.T, skip ...string) *dayFixture {
	t.Helper()
	f := newDayFixture(t)
	f.local()
	drop := NewCodeSet(skip...)
	for _, code := range codesOf(f.secs) {
		bars := minuteBars(code, monday, 5)
		f.provider.put(model.FrameMin5, bars...)
		if !drop.Has(code) {
			f.store.put(model.FrameMin5, bars...)
		}
	}
	return f
}

func TestMinuteSetDiffRepair(t *testing.T) {
	f := newMinuteFixture(t, "600009.XSHG")
	f.store.put(model.FrameMin5, minuteBars("600999.XSHG", monday, 5)...)

	r := f.reconciler(t, nil)
	rep, err := r.Minute(context.Background(), model.MustFrame(model.FrameMin5), monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"600999.XSHG"}, rep.Verdict.Extra)
	assert.Equal(t, []string{"600009.XSHG"}, rep.Verdict.Missing)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 48, rep.Bars)

	rep, err = r.Minute(context.Background(), model.MustFrame(model.FrameMin5), monday)
	require.NoError(t, err)
	assert.True(t, rep.Verdict.Equal())
	assert.False(t, rep.Repaired)

	bars, _ := f.store.Query(context.Background(), model.Query{Frame: model.FrameMin5, Range: model.DayRange(monday)})
	assert.Len(t, bars, 12*48)
}

func TestMinuteSetDiffCheckOnly(t *testing.T) {
	f := newMinuteFixture(t, "000300.XSHG")

	r := f.reconciler(t, func(o *Options) { o.Repair = false })
	rep, err := r.Minute(context.Background(), model.MustFrame(model.FrameMin5), monday)
	assert.ErrorIs(t, err, ErrUniverseMismatch)
	assert.Equal(t, []string{"000300.XSHG"}, rep.Verdict.HardMissing)
}

func TestMinuteNeedsDayBars(t *testing.T) {
	f := newMinuteFixture(t)
	f.store.bars[model.FrameDay] = nil

	_, err := f.reconciler(t, nil).Minute(context.Background(), model.MustFrame(model.FrameMin5), monday)
	assert.ErrorIs(t, err, ErrDependencyMissing)
}

func TestMinuteEmptyLocal(t *testing.T) {
	f := newMinuteFixture(t, codesOf(fixtureSecurities())...)

	_, err := f.reconciler(t, nil).Minute(context.Background(), model.MustFrame(model.FrameMin5), monday)
	assert.ErrorIs(t, err, ErrEmptyLocal)

	rep, err := f.reconciler(t, func(o *Options) { o.BackfillEmptyLocal = true }).
		Minute(context.Background(), model.MustFrame(model.FrameMin5), monday)
	require.NoError(t, err)
	assert.Equal(t, 12, rep.Inserted)
}

func TestMinuteSample(t *testing.T) {
	f := newMinuteFixture(t)
	for i, b := range f.store.bars[model.FrameMin5] {
		if b.Code == "600003.XSHG" {
			f.store.bars[model.FrameMin5][i].Close += 1
		}
	}

	sampled := func(o *Options) {
		o.MinuteMode = MinuteSample
		o.Sampling = map[model.FrameType]Sample{model.FrameMin5: {Securities: 12, Bars: 4}}
	}
	r := f.reconciler(t, sampled)
	rep, err := r.Minute(context.Background(), model.MustFrame(model.FrameMin5), monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"600003.XSHG"}, rep.Divergent)
	assert.Len(t, rep.Mismatches, 4)
	assert.Zero(t, f.store.persists)

	r = f.reconciler(t, func(o *Options) {
		sampled(o)
		o.OverwriteDivergent = true
	})
	rep, err = r.Minute(context.Background(), model.MustFrame(model.FrameMin5), monday)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)

	rep, err = r.Minute(context.Background(), model.MustFrame(model.FrameMin5), monday)
	require.NoError(t, err)
	assert.Empty(t, rep.Divergent)
}

func TestMinuteSampleMissingBar(t *testing.T) {
	f := newMinuteFixture(t)
	kept := f.store.bars[model.FrameMin5][:0]
	for _, b := range f.store.bars[model.FrameMin5] {
		if b.Code == "600001.XSHG" && b.Frame.Hour() >= 13 {
			continue
		}
		kept = append(kept, b)
	}
	f.store.bars[model.FrameMin5] = kept

	r := f.reconciler(t, func(o *Options) {
		o.MinuteMode = MinuteBoth
		o.Sampling = map[model.FrameType]Sample{model.FrameMin5: {Securities: 12, Bars: 48}}
	})
	rep, err := r.Minute(context.Background(), model.MustFrame(model.FrameMin5), monday)
	require.NoError(t, err)
	// the probe bar is still there, only sampling sees the gap
	assert.True(t, rep.Verdict.Equal())
	assert.Equal(t, []string{"600001.XSHG"}, rep.Divergent)
	assert.Len(t, rep.Mismatches, 24)
	for _, m := range rep.Mismatches {
		assert.Equal(t, FieldPresence, m.Field)
	}
}

func TestPickKeepsOrder(t *testing.T) {
	f := newDayFixture(t)
	r := f.reconciler(t, nil)
	codes := codesOf(f.secs)

	got := r.pick(codes, 5)
	assert.Len(t, got, 5)
	assert.IsNonDecreasing(t, got)
	assert.Subset(t, codes, got)
	assert.Equal(t, codes, r.pick(codes, 20))
}
