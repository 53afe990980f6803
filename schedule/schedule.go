// Package schedule picks the next units a scan stream should reconcile
// and keeps the per-stream cursor moving in one direction only.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/jing2uo/datascan/calendar"
	"github.com/jing2uo/datascan/model"
)

type ScanType string

const (
	// Recent follows the live edge forward.
	Recent ScanType = "recent"
	// Historical walks backward toward the epoch.
	Historical ScanType = "historical"
)

func ParseScanType(s string) (ScanType, error) {
	switch ScanType(s) {
	case Recent, Historical:
		return ScanType(s), nil
	}
	return "", fmt.Errorf("unknown scan type: %q", s)
}

const (
	// CursorPrefix starts the key of every stream cursor.
	CursorPrefix = "datascan:cursor"
	// IssuesKey lists the units that failed reconciliation.
	IssuesKey = "datascan:data_integrity_results"
)

// Stream is one cursor: a frame scanned in one direction. A stream with
// a Leader never gets ahead of the leader's cursor.
type Stream struct {
	Frame  model.FrameType
	Scan   ScanType
	Leader model.FrameType
}

func (s Stream) Key() string {
	return fmt.Sprintf("%s:%s:%s", CursorPrefix, s.Frame, s.Scan)
}

func (s Stream) String() string { return fmt.Sprintf("%s/%s", s.Frame, s.Scan) }

func (s Stream) leader() (Stream, bool) {
	if s.Leader == "" || s.Leader == s.Frame {
		return Stream{}, false
	}
	return Stream{Frame: s.Leader, Scan: s.Scan}, true
}

func (s Stream) unit() (model.Unit, error) {
	f, err := model.FrameOf(s.Frame)
	if err != nil {
		return 0, err
	}
	return f.Unit, nil
}

type Calendar interface {
	Floor(t time.Time, unit model.Unit) (time.Time, error)
	Shift(t time.Time, n int, unit model.Unit) (time.Time, error)
	Enumerate(from, to time.Time, unit model.Unit) []time.Time
}

// Store persists cursors as dates.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type Config struct {
	// Anchor seeds the first window; zero means the current bound.
	Anchor time.Time `yaml:"anchor"`
	// Epoch is the oldest unit a historical scan visits.
	Epoch time.Time `yaml:"epoch"`
	// MinRun is the number of new trading days a recent scan waits for.
	MinRun int `yaml:"min_run"`
	// MinRunPeriod is MinRun for week and month streams.
	MinRunPeriod int `yaml:"min_run_period"`
	// SampleSize bounds the units per window, zero scans every candidate.
	SampleSize int `yaml:"sample_size"`
	// Lag keeps recent scans this many units behind the latest confirmed one.
	Lag int `yaml:"lag"`
}

func DefaultConfig() Config {
	return Config{
		Epoch:        time.Date(2005, 1, 4, 0, 0, 0, 0, time.UTC),
		MinRun:       5,
		MinRunPeriod: 1,
		SampleSize:   2,
	}
}

// Window is what a stream should do next.
type Window struct {
	Stream Stream
	// Units are ordered in the stream's direction.
	Units []time.Time
	// Next is the cursor once every unit succeeded.
	Next      time.Time
	First     bool
	Exhausted bool
}

func (w Window) Empty() bool { return len(w.Units) == 0 }

type Scheduler struct {
	cal   Calendar
	store Store
	cfg   Config
	rng   *rand.Rand
}

type Option func(*Scheduler)

// WithRand makes sampling deterministic.
func WithRand(rng *rand.Rand) Option { return func(s *Scheduler) { s.rng = rng } }

func New(cal Calendar, store Store, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cal:   cal,
		store: store,
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Cursor returns the stored cursor of a stream.
func (s *Scheduler) Cursor(ctx context.Context, st Stream) (time.Time, bool, error) {
	v, ok, err := s.store.Get(ctx, st.Key())
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid cursor %s=%q: %w", st.Key(), v, err)
	}
	return t, true, nil
}

// Next computes the window of st given the latest confirmed trading day.
func (s *Scheduler) Next(ctx context.Context, st Stream, latest time.Time) (Window, error) {
	w := Window{Stream: st}
	unit, err := st.unit()
	if err != nil {
		return w, err
	}

	bound, wait, err := s.bound(ctx, st, unit, latest)
	if err != nil || wait {
		return w, err
	}
	// a historical follower waits at its leader's cursor instead of
	// running out at the epoch
	floor := model.Day(s.cfg.Epoch)
	led := false
	if lead, ok := st.leader(); ok && st.Scan == Historical {
		c, found, err := s.Cursor(ctx, lead)
		if err != nil {
			return w, err
		}
		if !found {
			return w, nil
		}
		if c.After(floor) {
			floor, led = c, true
		}
	}

	cur, found, err := s.Cursor(ctx, st)
	if err != nil {
		return w, err
	}
	if !found {
		w.First = true
		return s.first(st, unit, bound, floor, led)
	}

	var candidates []time.Time
	switch st.Scan {
	case Recent:
		from, err := s.cal.Shift(cur, 1, unit)
		if errors.Is(err, calendar.ErrOutOfRange) {
			return w, nil
		}
		if err != nil {
			return w, err
		}
		candidates = s.cal.Enumerate(from, bound, unit)
		if len(candidates) < s.minRun(unit) {
			return w, nil
		}
	case Historical:
		if !cur.After(floor) {
			w.Exhausted = !led
			return w, nil
		}
		from, err := s.cal.Shift(cur, -6, unit)
		if err != nil {
			from = floor
		}
		to, err := s.cal.Shift(cur, -1, unit)
		if err != nil {
			w.Exhausted = !led
			return w, nil
		}
		if from.Before(floor) {
			from = floor
		}
		candidates = s.cal.Enumerate(from, to, unit)
		if len(candidates) == 0 {
			w.Exhausted = !led
			return w, nil
		}
	default:
		return w, fmt.Errorf("unknown scan type: %q", st.Scan)
	}

	return s.window(st, candidates), nil
}

func (s *Scheduler) first(st Stream, unit model.Unit, bound, floor time.Time, led bool) (Window, error) {
	anchor := bound
	if !s.cfg.Anchor.IsZero() && s.cfg.Anchor.Before(bound) {
		anchor = s.cfg.Anchor
	}
	anchor, err := s.cal.Floor(anchor, unit)
	if err != nil {
		return Window{Stream: st, First: true}, err
	}

	var from, to time.Time
	switch st.Scan {
	case Recent:
		from, to = anchor, anchor
		if f, err := s.cal.Shift(anchor, -5, unit); err == nil {
			from = f
		}
	default:
		t, err := s.cal.Shift(anchor, -6, unit)
		if err != nil {
			return Window{Stream: st, First: true, Exhausted: !led}, nil
		}
		to = t
		from = floor
		if f, err := s.cal.Shift(anchor, -10, unit); err == nil && f.After(floor) {
			from = f
		}
	}

	candidates := s.cal.Enumerate(from, to, unit)
	w := s.window(st, candidates)
	w.First = true
	if st.Scan == Historical && len(candidates) == 0 {
		w.Exhausted = !led
	}
	return w, nil
}

// window samples candidates and orders them in the stream's direction.
func (s *Scheduler) window(st Stream, candidates []time.Time) Window {
	w := Window{Stream: st}
	if len(candidates) == 0 {
		return w
	}
	var units []time.Time
	if n := s.cfg.SampleSize; n > 0 && n < len(candidates) {
		units = make([]time.Time, 0, n)
		for _, i := range s.rng.Perm(len(candidates))[:n] {
			units = append(units, candidates[i])
		}
	} else {
		units = append([]time.Time(nil), candidates...)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Before(units[j]) })
	w.Next = candidates[len(candidates)-1]
	if st.Scan == Historical {
		for i, j := 0, len(units)-1; i < j; i, j = i+1, j-1 {
			units[i], units[j] = units[j], units[i]
		}
		w.Next = candidates[0]
	}
	w.Units = units
	return w
}

// bound is the newest unit a stream may reach. A recent follower waits
// until its leader has a cursor.
func (s *Scheduler) bound(ctx context.Context, st Stream, unit model.Unit, latest time.Time) (time.Time, bool, error) {
	b, err := s.cal.Floor(latest, unit)
	if err != nil {
		return time.Time{}, false, err
	}
	if s.cfg.Lag > 0 {
		if b, err = s.cal.Shift(b, -s.cfg.Lag, unit); err != nil {
			return time.Time{}, false, err
		}
	}
	if lead, ok := st.leader(); ok && st.Scan == Recent {
		c, found, err := s.Cursor(ctx, lead)
		if err != nil {
			return time.Time{}, false, err
		}
		if !found {
			return time.Time{}, true, nil
		}
		if c.Before(b) {
			b = c
		}
	}
	return b, false, nil
}

func (s *Scheduler) minRun(unit model.Unit) int {
	if unit == model.UnitDay {
		return max(s.cfg.MinRun, 1)
	}
	return max(s.cfg.MinRunPeriod, 1)
}

// Commit records unit as processed. The cursor only moves forward for
// recent streams and only backward for historical ones.
func (s *Scheduler) Commit(ctx context.Context, st Stream, unit time.Time) (bool, error) {
	unit = model.Day(unit)
	cur, found, err := s.Cursor(ctx, st)
	if err != nil {
		return false, err
	}
	if found {
		if st.Scan == Recent && !unit.After(cur) {
			return false, nil
		}
		if st.Scan == Historical && !unit.Before(cur) {
			return false, nil
		}
	}
	if err := s.store.Set(ctx, st.Key(), unit.Format(time.DateOnly)); err != nil {
		return false, fmt.Errorf("failed to save cursor %s: %w", st.Key(), err)
	}
	return true, nil
}

// CommitWindow advances the cursor over the first done units of w. When
// the whole window succeeded the cursor jumps to w.Next.
func (s *Scheduler) CommitWindow(ctx context.Context, w Window, done int) (time.Time, error) {
	if done <= 0 || w.Empty() {
		return time.Time{}, nil
	}
	target := w.Units[min(done, len(w.Units))-1]
	if done >= len(w.Units) && !w.Next.IsZero() {
		target = w.Next
	}
	if _, err := s.Commit(ctx, w.Stream, target); err != nil {
		return time.Time{}, err
	}
	return target, nil
}

// ParseStream reads "<frame>/<scan>", the form Stream.String writes.
func ParseStream(s string) (Stream, error) {
	frame, scan, ok := strings.Cut(s, "/")
	if !ok {
		return Stream{}, fmt.Errorf("stream %q: want <frame>/<scan>", s)
	}
	ft, err := model.ParseFrameType(frame)
	if err != nil {
		return Stream{}, err
	}
	st, err := ParseScanType(scan)
	if err != nil {
		return Stream{}, err
	}
	return Stream{Frame: ft, Scan: st}, nil
}
