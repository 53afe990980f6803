package scan

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/jing2uo/datascan/model"
	"github.com/jing2uo/datascan/utils"
)

type MinuteMode string

const (
	MinuteSetDiff MinuteMode = "setdiff"
	MinuteSample  MinuteMode = "sample"
	MinuteBoth    MinuteMode = "both"
)

func (m MinuteMode) setDiff() bool { return m == MinuteSetDiff || m == MinuteBoth || m == "" }
func (m MinuteMode) sample() bool  { return m == MinuteSample || m == MinuteBoth }

// Sample sizes one spot check of a minute frame.
type Sample struct {
	Securities int `yaml:"securities"`
	Bars       int `yaml:"bars"`
}

func DefaultSampling() map[model.FrameType]Sample {
	return map[model.FrameType]Sample{
		model.FrameMin1:  {Securities: 10, Bars: 20},
		model.FrameMin5:  {Securities: 20, Bars: 10},
		model.FrameMin15: {Securities: 30, Bars: 8},
		model.FrameMin30: {Securities: 40, Bars: 6},
		model.FrameMin60: {Securities: 50, Bars: 4},
	}
}

type Options struct {
	// Repair deletes extras and persists missing reference data.
	Repair bool
	// OverwriteDivergent also replaces codes whose fields disagree.
	OverwriteDivergent bool
	// BackfillEmptyLocal lets an empty local unit be filled instead of failing.
	BackfillEmptyLocal bool
	// Mirror writes repaired units to blob storage when a Mirror is set.
	Mirror      bool
	MinUniverse int
	MinuteMode  MinuteMode
	Sampling    map[model.FrameType]Sample
	Policy      Policy
	// FetchConcurrency is the number of reference batches requested at once.
	// Calls are sequential by default so quota accounting stays exact.
	FetchConcurrency int
}

func DefaultOptions() Options {
	return Options{
		Repair:      true,
		Mirror:      true,
		MinUniverse: 10,
		MinuteMode:  MinuteSetDiff,
		Sampling:    DefaultSampling(),
		Policy:      DefaultPolicy(),

		FetchConcurrency: 1,
	}
}

// Reconciler compares local units against the reference provider and
// optionally repairs them.
type Reconciler struct {
	store    BarStore
	secs     SecurityStore
	provider Provider
	cal      Calendar
	mirror   Mirror
	fetch    *Fetcher
	opts     Options
	logger   *slog.Logger
	rng      *rand.Rand
}

type Option func(*Reconciler)

func WithMirror(m Mirror) Option { return func(r *Reconciler) { r.mirror = m } }

func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.logger = l } }

// WithRand fixes the sampler, mostly for tests.
func WithRand(rng *rand.Rand) Option { return func(r *Reconciler) { r.rng = rng } }

func New(store BarStore, secs SecurityStore, provider Provider, cal Calendar, opts Options, options ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		secs:     secs,
		provider: provider,
		cal:      cal,
		opts:     opts,
		logger:   slog.Default(),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, o := range options {
		o(r)
	}
	if r.opts.Sampling == nil {
		r.opts.Sampling = DefaultSampling()
	}
	r.fetch = NewFetcher(provider, r.logger, utils.WithConcurrency(r.opts.FetchConcurrency))
	return r
}

func (r *Reconciler) Options() Options { return r.opts }

// Reconcile dispatches one unit of a frame. u is only used by the day
// frame and may be empty, in which case the reference list is fetched.
func (r *Reconciler) Reconcile(ctx context.Context, ft model.FrameType, at time.Time, u Universe) (*Report, error) {
	frame, err := model.FrameOf(ft)
	if err != nil {
		return nil, err
	}
	switch {
	case frame.Minute:
		return r.Minute(ctx, frame, at)
	case frame.Unit == model.UnitDay:
		return r.Day(ctx, at, u)
	default:
		return r.Period(ctx, frame, at)
	}
}

// Day reconciles the daily bars of date, price limits included.
func (r *Reconciler) Day(ctx context.Context, date time.Time, u Universe) (*Report, error) {
	if u.Len() == 0 {
		secs, err := r.provider.Securities(ctx, date)
		if err != nil {
			return newReport(string(model.FrameDay), date), fmt.Errorf("reference securities: %w", err)
		}
		u = NewUniverse(listedOn(secs, date))
	}
	return r.reconcile(ctx, unit{
		frame:    model.MustFrame(model.FrameDay),
		label:    date,
		first:    date,
		last:     date,
		universe: u,
		limits:   true,
	})
}

type unit struct {
	frame       model.Frame
	label       time.Time
	first, last time.Time
	universe    Universe
	limits      bool
}

func (r *Reconciler) reconcile(ctx context.Context, un unit) (*Report, error) {
	frame := un.frame
	rep := newReport(string(frame.Type), un.label)
	span := model.SpanRange(un.first, un.last)
	date := un.label.Format(time.DateOnly)

	if un.universe.Len() < r.opts.MinUniverse {
		return rep, fmt.Errorf("%s %s: %d securities: %w", frame.Type, date, un.universe.Len(), ErrEmptyReference)
	}

	local, err := r.store.Query(ctx, model.Query{Frame: frame.Type, Range: span})
	if err != nil {
		return rep, fmt.Errorf("query local %s bars: %w", frame.Type, err)
	}
	localBars := groupByCode(local)
	rep.Local = len(localBars)
	if len(localBars) == 0 && !(r.opts.Repair && r.opts.BackfillEmptyLocal) {
		return rep, fmt.Errorf("%s %s: %w", frame.Type, date, ErrEmptyLocal)
	}

	fetched, rejected, err := r.fetch.Bars(ctx, frame, un.universe.All().Sorted(), un.first, un.last)
	rep.Rejected = rejected
	if err != nil {
		return rep, err
	}
	if un.limits {
		limits, err := r.fetch.Limits(ctx, un.universe.All().Sorted(), un.label)
		if err != nil {
			return rep, err
		}
		mergeLimits(fetched, limits)
	}
	rep.Reference = len(fetched)

	localCodes := make(CodeSet, len(localBars))
	for code := range localBars {
		localCodes.Add(code)
	}
	rep.Verdict = r.opts.Policy.Evaluate(Diff(localCodes, un.universe.All()), un.universe.IsIndex)
	settleMissing(rep, fetched)
	if len(rep.Unresolved) > 0 {
		r.logger.Warn("reference bars unavailable", "frame", frame.Type, "date", date, "codes", rep.Unresolved)
	}

	divergent := make(CodeSet)
	for _, code := range rep.Verdict.Common {
		index := un.universe.IsIndex(code)
		if index && !r.opts.Policy.Whitelist.Has(code) {
			continue
		}
		if _, ok := fetched[code]; !ok {
			continue
		}
		ms := compareSeries(frame, localBars[code], fetched[code], index)
		if len(ms) > 0 {
			divergent.Add(code)
			rep.Mismatches = append(rep.Mismatches, ms...)
		}
	}
	rep.Divergent = divergent.Sorted()
	for _, m := range rep.Mismatches {
		r.logger.Warn("field mismatch", "mismatch", m.String())
	}

	if !r.opts.Repair {
		if !rep.Verdict.OK() {
			return rep, fmt.Errorf("%s %s extra=%d missing=%d: %w",
				frame.Type, date, len(rep.Verdict.HardExtra), len(rep.Verdict.HardMissing), ErrUniverseMismatch)
		}
		r.logger.Info("unit checked", "report", rep)
		return rep, nil
	}

	if err := r.repair(ctx, un, rep, fetched, span); err != nil {
		return rep, err
	}
	r.logger.Info("unit reconciled", "report", rep)
	return rep, nil
}

func (r *Reconciler) repair(ctx context.Context, un unit, rep *Report, fetched map[string][]model.Bar, span model.TimeRange) error {
	frame := un.frame
	if len(rep.Verdict.HardExtra) > 0 {
		if err := r.store.Delete(ctx, frame.Type, span, rep.Verdict.HardExtra); err != nil {
			return fmt.Errorf("delete extra %s bars: %w", frame.Type, err)
		}
		rep.Deleted = len(rep.Verdict.HardExtra)
	}

	write := make(CodeSet)
	for _, code := range rep.Verdict.Missing {
		if _, ok := fetched[code]; ok {
			write.Add(code)
		}
	}
	if r.opts.OverwriteDivergent {
		write.Add(rep.Divergent...)
	}
	if write.Len() > 0 {
		var bars []model.Bar
		for _, code := range write.Sorted() {
			bars = append(bars, fetched[code]...)
		}
		if err := r.store.Persist(ctx, frame.Type, bars); err != nil {
			return fmt.Errorf("persist %s bars: %w", frame.Type, err)
		}
		rep.Inserted = write.Len()
		rep.Bars = len(bars)
	}
	rep.Repaired = rep.Deleted > 0 || rep.Inserted > 0

	if rep.Repaired && r.opts.Mirror && r.mirror != nil {
		if err := r.mirrorUnit(ctx, un, fetched); err != nil {
			return fmt.Errorf("mirror %s %s: %w", frame.Type, un.label.Format(time.DateOnly), err)
		}
	}
	return nil
}

// mirrorUnit writes the full reference set of a unit, split by kind.
func (r *Reconciler) mirrorUnit(ctx context.Context, un unit, fetched map[string][]model.Bar) error {
	byKind := map[model.SecurityType][]model.Bar{}
	limits := map[model.SecurityType][]model.PriceLimit{}
	for _, code := range sortedKeys(fetched) {
		kind := model.SecurityStock
		if un.universe.IsIndex(code) {
			kind = model.SecurityIndex
		}
		for _, b := range fetched[code] {
			byKind[kind] = append(byKind[kind], b)
			if un.limits {
				limits[kind] = append(limits[kind], model.PriceLimit{Frame: b.Frame, Code: b.Code, HighLimit: b.HighLimit, LowLimit: b.LowLimit})
			}
		}
	}
	for _, kind := range []model.SecurityType{model.SecurityStock, model.SecurityIndex} {
		if len(byKind[kind]) == 0 {
			continue
		}
		if err := r.mirror.SaveBars(ctx, kind, un.frame.Type, un.label, byKind[kind]); err != nil {
			return err
		}
		if un.limits {
			if err := r.mirror.SaveLimits(ctx, kind, un.label, limits[kind]); err != nil {
				return err
			}
		}
	}
	return nil
}

// compareSeries matches bars by timestamp. A bar present on one side
// only is reported against the presence field.
func compareSeries(frame model.Frame, local, ref []model.Bar, index bool) []Mismatch {
	localAt := make(map[time.Time]model.Bar, len(local))
	for _, b := range local {
		localAt[frameKey(frame, b.Frame)] = b
	}
	seen := make(map[time.Time]bool, len(ref))

	var out []Mismatch
	for _, rb := range ref {
		key := frameKey(frame, rb.Frame)
		seen[key] = true
		lb, ok := localAt[key]
		if !ok {
			out = append(out, presence(rb.Code, rb.Frame, false))
			continue
		}
		out = append(out, CompareBars(frame, lb, rb, index)...)
	}
	for key, lb := range localAt {
		if !seen[key] {
			out = append(out, presence(lb.Code, lb.Frame, true))
		}
	}
	return out
}

// FieldPresence marks a bar that exists on one side only.
const FieldPresence model.Field = "bar"

func presence(code string, at time.Time, local bool) Mismatch {
	m := Mismatch{Code: code, Frame: at.Format(time.DateTime), Field: FieldPresence, Reference: 1}
	if local {
		m.Local, m.Reference = 1, 0
	}
	return m
}

func frameKey(frame model.Frame, t time.Time) time.Time {
	if frame.Minute {
		return t.UTC()
	}
	return model.Day(t)
}

// settleMissing moves missing codes the reference did not deliver into
// Unresolved. 停牌或被校验剔除的票没有参考数据, 不算缺失也不补录.
func settleMissing(rep *Report, fetched map[string][]model.Bar) {
	resolved := func(codes []string) []string {
		var keep []string
		for _, code := range codes {
			if _, ok := fetched[code]; ok {
				keep = append(keep, code)
				continue
			}
			rep.Unresolved = append(rep.Unresolved, code)
		}
		return keep
	}
	rep.Verdict.HardMissing = resolved(rep.Verdict.HardMissing)
	rep.Verdict.SoftMissing = resolved(rep.Verdict.SoftMissing)
	sort.Strings(rep.Unresolved)
}

func groupByCode(bars []model.Bar) map[string][]model.Bar {
	out := make(map[string][]model.Bar)
	for _, b := range bars {
		out[b.Code] = append(out[b.Code], b)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
