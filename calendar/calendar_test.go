package calendar_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jing2uo/datascan/calendar"
	"github.com/jing2uo/datascan/calendar/calendartest"
	"github.com/jing2uo/datascan/model"
)

var d = calendartest.Date

func TestIsTradingDay(t *testing.T) {
	cal := calendartest.SpringFestival2023(t)

	assert.False(t, cal.IsTradingDay(d(2023, 1, 2)))
	assert.True(t, cal.IsTradingDay(d(2023, 1, 3)))
	assert.False(t, cal.IsTradingDay(d(2023, 1, 25)))
	assert.False(t, cal.IsTradingDay(d(2023, 1, 21)))
	assert.True(t, cal.IsTradingDay(time.Date(2023, 1, 20, 14, 30, 0, 0, time.UTC)))
}

func TestShiftDays(t *testing.T) {
	cal := calendartest.SpringFestival2023(t)

	cases := []struct {
		from time.Time
		n    int
		want time.Time
	}{
		{d(2023, 1, 21), 0, d(2023, 1, 20)},
		{d(2023, 1, 20), 0, d(2023, 1, 20)},
		{d(2023, 1, 20), 1, d(2023, 1, 30)},
		{d(2023, 1, 30), -1, d(2023, 1, 20)},
		{d(2023, 1, 25), 1, d(2023, 1, 30)},
		{d(2023, 1, 6), -5, d(2022, 12, 29)},
		{d(2023, 1, 3), -1, d(2022, 12, 30)},
	}
	for _, c := range cases {
		got, err := cal.Shift(c.from, c.n, model.UnitDay)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "shift %s by %d", c.from.Format(time.DateOnly), c.n)
	}
}

func TestShiftOutOfRange(t *testing.T) {
	cal := calendartest.SpringFestival2023(t)

	_, err := cal.Shift(d(2022, 12, 1), -1, model.UnitDay)
	assert.True(t, errors.Is(err, calendar.ErrOutOfRange))

	_, err = cal.Shift(d(2022, 11, 1), 0, model.UnitDay)
	assert.True(t, errors.Is(err, calendar.ErrOutOfRange))

	_, err = cal.Shift(d(2023, 3, 31), 1, model.UnitDay)
	assert.True(t, errors.Is(err, calendar.ErrOutOfRange))
}

func TestWeekFrames(t *testing.T) {
	cal := calendartest.SpringFestival2023(t)

	got, err := cal.Floor(d(2023, 1, 25), model.UnitWeek)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 1, 20), got)

	got, err = cal.Shift(d(2023, 1, 20), 1, model.UnitWeek)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 2, 3), got, "closed week has no frame")

	weeks := cal.Enumerate(d(2023, 1, 1), d(2023, 2, 5), model.UnitWeek)
	assert.Equal(t, []time.Time{d(2023, 1, 6), d(2023, 1, 13), d(2023, 1, 20), d(2023, 2, 3)}, weeks)
}

func TestMonthFrames(t *testing.T) {
	cal := calendartest.SpringFestival2023(t)

	got, err := cal.Floor(d(2023, 2, 15), model.UnitMonth)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 1, 31), got)

	got, err = cal.Shift(d(2023, 1, 31), 1, model.UnitMonth)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 2, 28), got)
}

func TestEnumerateDays(t *testing.T) {
	cal := calendartest.SpringFestival2023(t)

	days := cal.Enumerate(d(2023, 1, 16), d(2023, 1, 31), model.UnitDay)
	want := []time.Time{
		d(2023, 1, 16), d(2023, 1, 17), d(2023, 1, 18), d(2023, 1, 19), d(2023, 1, 20),
		d(2023, 1, 30), d(2023, 1, 31),
	}
	assert.Equal(t, want, days)
	assert.Empty(t, cal.Enumerate(d(2023, 1, 31), d(2023, 1, 16), model.UnitDay))
	assert.Empty(t, cal.Enumerate(d(2023, 1, 23), d(2023, 1, 27), model.UnitDay))
}

func TestPeriodBounds(t *testing.T) {
	cal := calendartest.SpringFestival2023(t)

	first, last, err := cal.PeriodBounds(d(2023, 1, 31), model.UnitWeek)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 1, 30), first)
	assert.Equal(t, d(2023, 2, 3), last)

	first, last, err = cal.PeriodBounds(d(2023, 1, 4), model.UnitWeek)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 1, 3), first)
	assert.Equal(t, d(2023, 1, 6), last)

	first, last, err = cal.PeriodBounds(d(2023, 2, 10), model.UnitMonth)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 2, 1), first)
	assert.Equal(t, d(2023, 2, 28), last)

	_, _, err = cal.PeriodBounds(d(2023, 1, 25), model.UnitWeek)
	assert.ErrorIs(t, err, calendar.ErrOutOfRange)

	first, last, err = cal.PeriodBounds(d(2023, 1, 19), model.UnitDay)
	require.NoError(t, err)
	assert.Equal(t, first, last)
}

func TestLatestConfirmed(t *testing.T) {
	cal := calendartest.SpringFestival2023(t)
	ready := 16 * time.Hour

	got, err := cal.LatestConfirmed(time.Date(2023, 1, 20, 15, 0, 0, 0, time.UTC), ready)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 1, 19), got)

	got, err = cal.LatestConfirmed(time.Date(2023, 1, 20, 16, 30, 0, 0, time.UTC), ready)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 1, 20), got)

	got, err = cal.LatestConfirmed(time.Date(2023, 1, 25, 10, 0, 0, 0, time.UTC), ready)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 1, 20), got)
}

type failingSource struct{}

func (failingSource) TradeDays(context.Context) ([]time.Time, error) {
	return nil, errors.New("provider down")
}

func TestLoadFallsBack(t *testing.T) {
	days := calendartest.Weekdays(d(2023, 1, 2), d(2023, 1, 31))

	cal, err := calendar.Load(context.Background(), failingSource{}, nil, days)
	require.NoError(t, err)
	assert.Equal(t, d(2023, 1, 2), cal.First())
	assert.Equal(t, d(2023, 1, 31), cal.Last())

	_, err = calendar.Load(context.Background(), failingSource{})
	assert.ErrorContains(t, err, "provider down")

	_, err = calendar.Load(context.Background(), calendar.Static{})
	assert.ErrorIs(t, err, calendar.ErrEmpty)
}

func TestNewDeduplicatesAndSorts(t *testing.T) {
	cal, err := calendar.New([]time.Time{d(2023, 1, 5), d(2023, 1, 3), d(2023, 1, 5).Add(10 * time.Hour), d(2023, 1, 4)})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{d(2023, 1, 3), d(2023, 1, 4), d(2023, 1, 5)}, cal.Enumerate(d(2023, 1, 1), d(2023, 1, 31), model.UnitDay))
}
