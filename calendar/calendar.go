// Package calendar answers trading-day arithmetic over a sorted list of
// trading days. Week and month frames are labelled by the last trading day
// of the period.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jing2uo/datascan/model"
)

var (
	ErrOutOfRange = errors.New("date out of calendar range")
	ErrEmpty      = errors.New("empty trading calendar")
)

// Source provides the raw trading days.
type Source interface {
	TradeDays(ctx context.Context) ([]time.Time, error)
}

type Calendar struct {
	days   []time.Time
	weeks  []time.Time
	months []time.Time
	index  map[time.Time]int
}

// Load builds a calendar from the first source that returns trading days.
func Load(ctx context.Context, sources ...Source) (*Calendar, error) {
	var errs []error
	for _, src := range sources {
		if src == nil {
			continue
		}
		days, err := src.TradeDays(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(days) == 0 {
			errs = append(errs, ErrEmpty)
			continue
		}
		return New(days)
	}
	if len(errs) == 0 {
		return nil, ErrEmpty
	}
	return nil, fmt.Errorf("failed to load trading calendar: %w", errors.Join(errs...))
}

func New(days []time.Time) (*Calendar, error) {
	if len(days) == 0 {
		return nil, ErrEmpty
	}

	seen := make(map[time.Time]bool, len(days))
	sorted := make([]time.Time, 0, len(days))
	for _, d := range days {
		d = model.Day(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	c := &Calendar{days: sorted, index: make(map[time.Time]int, len(sorted))}
	for i, d := range sorted {
		c.index[d] = i
		last := i == len(sorted)-1
		if last || weekKey(sorted[i+1]) != weekKey(d) {
			c.weeks = append(c.weeks, d)
		}
		if last || sorted[i+1].Month() != d.Month() || sorted[i+1].Year() != d.Year() {
			c.months = append(c.months, d)
		}
	}
	return c, nil
}

func weekKey(d time.Time) int {
	y, w := d.ISOWeek()
	return y*100 + w
}

func (c *Calendar) frames(unit model.Unit) []time.Time {
	switch unit {
	case model.UnitWeek:
		return c.weeks
	case model.UnitMonth:
		return c.months
	default:
		return c.days
	}
}

// First and Last bound the calendar.
func (c *Calendar) First() time.Time { return c.days[0] }
func (c *Calendar) Last() time.Time  { return c.days[len(c.days)-1] }

func (c *Calendar) IsTradingDay(t time.Time) bool {
	_, ok := c.index[model.Day(t)]
	return ok
}

// floorIndex returns the index of the last frame <= d, or -1.
func floorIndex(frames []time.Time, d time.Time) int {
	i := sort.Search(len(frames), func(i int) bool { return frames[i].After(d) })
	return i - 1
}

// Floor returns the latest frame of the unit that is not after t. For a
// week or month still in progress this is the previous period's frame.
func (c *Calendar) Floor(t time.Time, unit model.Unit) (time.Time, error) {
	frames := c.frames(unit)
	i := floorIndex(frames, model.Day(t))
	if i < 0 {
		return time.Time{}, fmt.Errorf("floor %s of %s: %w", unit, t.Format(time.DateOnly), ErrOutOfRange)
	}
	return frames[i], nil
}

// Shift moves n frames from Floor(t, unit). Shift(t, 0, unit) snaps a
// non-trading day back to the previous trading day.
func (c *Calendar) Shift(t time.Time, n int, unit model.Unit) (time.Time, error) {
	frames := c.frames(unit)
	i := floorIndex(frames, model.Day(t))
	if i < 0 {
		return time.Time{}, fmt.Errorf("shift %s by %d %s: %w", t.Format(time.DateOnly), n, unit, ErrOutOfRange)
	}
	j := i + n
	if j < 0 || j >= len(frames) {
		return time.Time{}, fmt.Errorf("shift %s by %d %s: %w", t.Format(time.DateOnly), n, unit, ErrOutOfRange)
	}
	return frames[j], nil
}

// Enumerate lists the frames of unit within [from, to], ascending.
func (c *Calendar) Enumerate(from, to time.Time, unit model.Unit) []time.Time {
	from, to = model.Day(from), model.Day(to)
	if to.Before(from) {
		return nil
	}
	frames := c.frames(unit)
	lo := sort.Search(len(frames), func(i int) bool { return !frames[i].Before(from) })
	hi := sort.Search(len(frames), func(i int) bool { return frames[i].After(to) })
	if lo >= hi {
		return nil
	}
	out := make([]time.Time, hi-lo)
	copy(out, frames[lo:hi])
	return out
}

// PeriodBounds returns the first and last trading day of the period of
// unit containing t.
func (c *Calendar) PeriodBounds(t time.Time, unit model.Unit) (time.Time, time.Time, error) {
	d := model.Day(t)
	var start, end time.Time
	switch unit {
	case model.UnitWeek:
		offset := (int(d.Weekday()) + 6) % 7
		start = d.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 6)
	case model.UnitMonth:
		start = time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, -1)
	default:
		if !c.IsTradingDay(d) {
			return time.Time{}, time.Time{}, fmt.Errorf("%s is not a trading day: %w", d.Format(time.DateOnly), ErrOutOfRange)
		}
		return d, d, nil
	}

	days := c.Enumerate(start, end, model.UnitDay)
	if len(days) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("no trading day in %s of %s: %w", unit, d.Format(time.DateOnly), ErrOutOfRange)
	}
	return days[0], days[len(days)-1], nil
}

// LatestConfirmed is the newest trading day whose data is final at now:
// today once readyAt has passed, otherwise the previous trading day.
func (c *Calendar) LatestConfirmed(now time.Time, readyAt time.Duration) (time.Time, error) {
	today := model.Day(now)
	sinceMidnight := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute + time.Duration(now.Second())*time.Second
	if c.IsTradingDay(today) && sinceMidnight >= readyAt {
		return today, nil
	}
	return c.Floor(today.AddDate(0, 0, -1), model.UnitDay)
}

// Static is a fixed list of trading days.
type Static []time.Time

func (s Static) TradeDays(ctx context.Context) ([]time.Time, error) {
	return s, nil
}
