package schedule

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jing2uo/datascan/calendar/calendartest"
	"github.com/jing2uo/datascan/cursor"
	"github.com/jing2uo/datascan/model"
)

var (
	day        = Stream{Frame: model.FrameDay, Scan: Recent}
	dayHist    = Stream{Frame: model.FrameDay, Scan: Historical}
	minute     = Stream{Frame: model.FrameMin1, Scan: Recent, Leader: model.FrameDay}
	minuteHist = Stream{Frame: model.FrameMin1, Scan: Historical, Leader: model.FrameDay}
)

func date(m time.Month, d int) time.Time {
	if m == time.December {
		return calendartest.Date(2022, m, d)
	}
	return calendartest.Date(2023, m, d)
}

func newScheduler(t *testing.T, mutate func(*Config)) (*Scheduler, *cursor.Memory) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	store := cursor.NewMemory()
	return New(calendartest.SpringFestival2023(t), store, cfg, WithRand(rand.New(rand.NewPCG(7, 11)))), store
}

func setCursor(t *testing.T, store *cursor.Memory, st Stream, d time.Time) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), st.Key(), d.Format(time.DateOnly)))
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "datascan:cursor:1d:recent", day.Key())
	assert.Equal(t, "datascan:cursor:1m:historical", minuteHist.Key())
}

func TestRecentTooCloseToLiveEdge(t *testing.T) {
	s, store := newScheduler(t, nil)
	setCursor(t, store, day, date(time.January, 16))

	w, err := s.Next(context.Background(), day, date(time.January, 19))
	require.NoError(t, err)
	assert.True(t, w.Empty())
	assert.False(t, w.Exhausted)
}

func TestRecentAdvancing(t *testing.T) {
	s, store := newScheduler(t, nil)
	setCursor(t, store, day, date(time.January, 9))

	w, err := s.Next(context.Background(), day, date(time.January, 20))
	require.NoError(t, err)
	require.Len(t, w.Units, 2)
	assert.True(t, w.Units[0].Before(w.Units[1]))
	assert.True(t, w.Units[0].After(date(time.January, 9)))
	assert.False(t, w.Units[1].After(date(time.January, 20)))
	assert.Equal(t, date(time.January, 20), w.Next)
	assert.False(t, w.First)
}

func TestRecentWithoutSampling(t *testing.T) {
	s, store := newScheduler(t, func(c *Config) { c.SampleSize = 0 })
	setCursor(t, store, day, date(time.January, 9))

	w, err := s.Next(context.Background(), day, date(time.January, 20))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(time.January, 10), date(time.January, 11), date(time.January, 12), date(time.January, 13),
		date(time.January, 16), date(time.January, 17), date(time.January, 18), date(time.January, 19),
		date(time.January, 20),
	}, w.Units)
}

func TestFirstRunRecent(t *testing.T) {
	s, _ := newScheduler(t, func(c *Config) { c.SampleSize = 0 })

	w, err := s.Next(context.Background(), day, date(time.January, 20))
	require.NoError(t, err)
	assert.True(t, w.First)
	assert.Equal(t, []time.Time{
		date(time.January, 13), date(time.January, 16), date(time.January, 17),
		date(time.January, 18), date(time.January, 19), date(time.January, 20),
	}, w.Units)
	assert.Equal(t, date(time.January, 20), w.Next)
}

func TestFirstRunHistorical(t *testing.T) {
	s, _ := newScheduler(t, func(c *Config) { c.SampleSize = 0 })

	w, err := s.Next(context.Background(), dayHist, date(time.January, 20))
	require.NoError(t, err)
	assert.True(t, w.First)
	assert.Equal(t, []time.Time{
		date(time.January, 12), date(time.January, 11), date(time.January, 10),
		date(time.January, 9), date(time.January, 6),
	}, w.Units)
	assert.Equal(t, date(time.January, 6), w.Next)
}

func TestFirstRunSampled(t *testing.T) {
	s, _ := newScheduler(t, nil)

	w, err := s.Next(context.Background(), dayHist, date(time.January, 20))
	require.NoError(t, err)
	require.Len(t, w.Units, 2)
	assert.True(t, w.Units[0].After(w.Units[1]))
}

func TestFirstRunAnchor(t *testing.T) {
	s, _ := newScheduler(t, func(c *Config) {
		c.SampleSize = 0
		c.Anchor = date(time.February, 4) // Saturday
	})

	w, err := s.Next(context.Background(), day, date(time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, date(time.February, 3), w.Next)
	assert.Len(t, w.Units, 6)
}

func TestHistoricalExhaustion(t *testing.T) {
	s, store := newScheduler(t, func(c *Config) {
		c.SampleSize = 0
		c.Epoch = date(time.January, 5)
	})
	setCursor(t, store, dayHist, date(time.January, 9))
	ctx := context.Background()

	w, err := s.Next(ctx, dayHist, date(time.January, 20))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(time.January, 6), date(time.January, 5)}, w.Units)
	assert.False(t, w.Exhausted)

	_, err = s.CommitWindow(ctx, w, len(w.Units))
	require.NoError(t, err)

	w, err = s.Next(ctx, dayHist, date(time.January, 20))
	require.NoError(t, err)
	assert.True(t, w.Exhausted)
	assert.True(t, w.Empty())
}

func TestCommitMonotonic(t *testing.T) {
	s, _ := newScheduler(t, nil)
	ctx := context.Background()

	ok, err := s.Commit(ctx, day, date(time.January, 16))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Commit(ctx, day, date(time.January, 13))
	require.NoError(t, err)
	assert.False(t, ok)
	c, _, _ := s.Cursor(ctx, day)
	assert.Equal(t, date(time.January, 16), c)

	_, err = s.Commit(ctx, dayHist, date(time.January, 16))
	require.NoError(t, err)
	ok, err = s.Commit(ctx, dayHist, date(time.January, 17))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Commit(ctx, dayHist, date(time.January, 13))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCommitWindowPrefix(t *testing.T) {
	s, store := newScheduler(t, func(c *Config) { c.SampleSize = 0 })
	ctx := context.Background()
	setCursor(t, store, day, date(time.January, 9))

	w, err := s.Next(ctx, day, date(time.January, 20))
	require.NoError(t, err)

	got, err := s.CommitWindow(ctx, w, 0)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = s.CommitWindow(ctx, w, 3)
	require.NoError(t, err)
	assert.Equal(t, date(time.January, 12), got)

	got, err = s.CommitWindow(ctx, w, len(w.Units))
	require.NoError(t, err)
	assert.Equal(t, date(time.January, 20), got)
}

func TestRecentCursorNeverPassesLatest(t *testing.T) {
	s, _ := newScheduler(t, nil)
	ctx := context.Background()

	var prev time.Time
	for latest := date(time.January, 4); latest.Before(date(time.March, 31)); latest = latest.AddDate(0, 0, 1) {
		w, err := s.Next(ctx, day, latest)
		require.NoError(t, err)
		if w.Empty() {
			continue
		}
		_, err = s.CommitWindow(ctx, w, len(w.Units))
		require.NoError(t, err)

		c, ok, err := s.Cursor(ctx, day)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, c.After(prev), "cursor %s not after %s", c, prev)
		assert.False(t, c.After(latest))
		for _, u := range w.Units {
			assert.True(t, u.After(prev))
		}
		prev = c
	}
	assert.Equal(t, date(time.March, 29), prev)
}

func TestHistoricalCursorNeverPassesEpoch(t *testing.T) {
	epoch := date(time.December, 5)
	s, _ := newScheduler(t, func(c *Config) { c.Epoch = epoch })
	ctx := context.Background()

	prev := date(time.March, 31)
	for i := 0; i < 100; i++ {
		w, err := s.Next(ctx, dayHist, date(time.March, 1))
		require.NoError(t, err)
		if w.Exhausted {
			break
		}
		require.False(t, w.Empty())
		_, err = s.CommitWindow(ctx, w, len(w.Units))
		require.NoError(t, err)

		c, _, _ := s.Cursor(ctx, dayHist)
		assert.True(t, c.Before(prev))
		assert.False(t, c.Before(epoch))
		prev = c
	}
	assert.Equal(t, epoch, prev)
}

func TestFollowerWaitsForLeader(t *testing.T) {
	s, store := newScheduler(t, func(c *Config) { c.SampleSize = 0 })
	ctx := context.Background()

	w, err := s.Next(ctx, minute, date(time.January, 20))
	require.NoError(t, err)
	assert.True(t, w.Empty())

	setCursor(t, store, day, date(time.January, 13))
	setCursor(t, store, minute, date(time.January, 5))
	w, err = s.Next(ctx, minute, date(time.January, 20))
	require.NoError(t, err)
	assert.Equal(t, date(time.January, 13), w.Next)
	assert.Len(t, w.Units, 6)
}

func TestHistoricalFollowerStopsAtLeader(t *testing.T) {
	s, store := newScheduler(t, func(c *Config) { c.SampleSize = 0 })
	ctx := context.Background()

	setCursor(t, store, dayHist, date(time.January, 10))
	setCursor(t, store, minuteHist, date(time.January, 12))
	w, err := s.Next(ctx, minuteHist, date(time.January, 20))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(time.January, 11), date(time.January, 10)}, w.Units)

	setCursor(t, store, minuteHist, date(time.January, 10))
	w, err = s.Next(ctx, minuteHist, date(time.January, 20))
	require.NoError(t, err)
	assert.True(t, w.Empty())
	assert.False(t, w.Exhausted)
}

func TestLag(t *testing.T) {
	s, _ := newScheduler(t, func(c *Config) { c.Lag = 1 })

	w, err := s.Next(context.Background(), day, date(time.January, 20))
	require.NoError(t, err)
	assert.Equal(t, date(time.January, 19), w.Next)
}

func TestWeekStream(t *testing.T) {
	s, store := newScheduler(t, nil)
	week := Stream{Frame: model.FrameWeek, Scan: Recent}
	setCursor(t, store, week, date(time.January, 6))

	w, err := s.Next(context.Background(), week, date(time.January, 20))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(time.January, 13), date(time.January, 20)}, w.Units)

	// the week of Jan 30 is still open on Feb 1
	setCursor(t, store, week, date(time.January, 20))
	w, err = s.Next(context.Background(), week, date(time.February, 1))
	require.NoError(t, err)
	assert.True(t, w.Empty())
}

func TestParseScanType(t *testing.T) {
	st, err := ParseScanType("historical")
	require.NoError(t, err)
	assert.Equal(t, Historical, st)
	_, err = ParseScanType("sideways")
	assert.Error(t, err)
}

func TestParseStream(t *testing.T) {
	st, err := ParseStream(minuteHist.String())
	require.NoError(t, err)
	assert.Equal(t, Stream{Frame: model.FrameMin1, Scan: Historical}, st)

	for _, bad := range []string{"1d", "2d/recent", "1d/sideways"} {
		_, err := ParseStream(bad)
		assert.Error(t, err, bad)
	}
}
