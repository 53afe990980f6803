package scan

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jing2uo/datascan/model"
	"github.com/jing2uo/datascan/utils"
)

const (
	// barsPerCall caps the rows a single reference request may return.
	barsPerCall     = 3600
	maxCodesPerCall = 3000
)

// BatchSize is the number of codes requested per call for a frame.
func BatchSize(frame model.Frame) int {
	n := barsPerCall / max(frame.BarsPerDay, 1)
	return min(max(n, 1), maxCodesPerCall)
}

// Fetcher downloads reference data in batches and drops series that
// fail validation.
type Fetcher struct {
	provider Provider
	logger   *slog.Logger
	pipeline []utils.PipelineOption
}

// NewFetcher requests one batch at a time unless opts raise the concurrency.
// The first failed batch stops the remaining ones from being requested.
func NewFetcher(p Provider, logger *slog.Logger, opts ...utils.PipelineOption) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]utils.PipelineOption{utils.WithFailFast()}, opts...)
	return &Fetcher{provider: p, logger: logger, pipeline: opts}
}

type fetchBatch struct {
	offset int
	codes  []string
}

type fetched struct {
	code   string
	bars   []model.Bar
	reason string
}

// Bars fetches codes over the trading days [first, last]. Validation
// failures are reported in the returned rejections, not as an error.
func (f *Fetcher) Bars(ctx context.Context, frame model.Frame, codes []string, first, last time.Time) (map[string][]model.Bar, []Rejection, error) {
	out := make(map[string][]model.Bar, len(codes))
	var rejected []Rejection
	if len(codes) == 0 {
		return out, nil, nil
	}

	start, end := first, last
	if frame.Minute {
		r := model.DayRange(first)
		start, end = r.Start, r.End
	}

	size := BatchSize(frame)
	var batches []fetchBatch
	for i := 0; i < len(codes); i += size {
		batches = append(batches, fetchBatch{offset: i, codes: codes[i:min(i+size, len(codes))]})
	}

	process := func(ctx context.Context, b fetchBatch) ([]fetched, error) {
		got, err := f.provider.Bars(ctx, b.codes, frame.Type, start, end)
		if err != nil {
			return nil, fmt.Errorf("fetch %s bars [%d:%d]: %w", frame.Type, b.offset, b.offset+len(b.codes), err)
		}
		var rows []fetched
		for _, code := range b.codes {
			bars, ok := got[code]
			if !ok {
				continue
			}
			rows = append(rows, fetched{code: code, bars: bars, reason: validateBars(frame, bars, first, last)})
		}
		return rows, nil
	}
	consume := func(rows []fetched) error {
		for _, row := range rows {
			if row.reason != "" {
				rejected = append(rejected, Rejection{Code: row.code, Reason: row.reason})
				continue
			}
			out[row.code] = row.bars
		}
		return nil
	}

	res := utils.NewPipeline[fetchBatch, fetched](f.pipeline...).Run(ctx, batches, process, consume)
	if res.HasErrors() {
		return nil, nil, res.FirstError()
	}
	sort.Slice(rejected, func(i, j int) bool { return rejected[i].Code < rejected[j].Code })

	if len(rejected) > 0 {
		f.logger.Warn("reference bars rejected",
			"frame", frame.Type, "date", last.Format(time.DateOnly),
			"rejected", len(rejected), "accepted", len(out))
		for _, r := range rejected {
			f.logger.Debug("rejected", "code", r.Code, "reason", r.Reason)
		}
	}
	if len(out) == 0 {
		if len(rejected) > 0 {
			return nil, rejected, fmt.Errorf("%s %s: %w: %w", frame.Type, last.Format(time.DateOnly), ErrNoDownload, ErrValidation)
		}
		return nil, rejected, fmt.Errorf("%s %s: %w", frame.Type, last.Format(time.DateOnly), ErrNoDownload)
	}
	return out, rejected, nil
}

func validateBars(frame model.Frame, bars []model.Bar, first, last time.Time) string {
	if len(bars) == 0 {
		return "empty"
	}
	for _, b := range bars {
		if math.IsNaN(b.Volume) || math.IsNaN(b.Amount) {
			return fmt.Sprintf("no volume at %s", b.Frame.Format(time.DateTime))
		}
	}

	head := model.Day(bars[0].Frame)
	switch {
	case frame.Minute, frame.Unit == model.UnitDay:
		if !head.Equal(model.Day(first)) {
			return fmt.Sprintf("stale frame %s", head.Format(time.DateOnly))
		}
	default:
		span := model.SpanRange(first, last)
		for _, b := range bars {
			if !span.Contains(b.Frame) {
				return fmt.Sprintf("frame %s outside period", b.Frame.Format(time.DateOnly))
			}
		}
	}
	return ""
}

// Limits fetches price limits for date keyed by code. Limits that are
// unknown or belong to another date are dropped.
func (f *Fetcher) Limits(ctx context.Context, codes []string, date time.Time) (map[string]model.PriceLimit, error) {
	out := make(map[string]model.PriceLimit, len(codes))
	day := model.Day(date)
	dropped := 0

	for i := 0; i < len(codes); i += maxCodesPerCall {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := codes[i:min(i+maxCodesPerCall, len(codes))]
		limits, err := f.provider.PriceLimits(ctx, batch, date)
		if err != nil {
			return nil, fmt.Errorf("fetch price limits: %w", err)
		}
		for _, l := range limits {
			if math.IsNaN(l.HighLimit) || math.IsNaN(l.LowLimit) || !model.Day(l.Frame).Equal(day) {
				dropped++
				continue
			}
			out[l.Code] = l
		}
	}
	if dropped > 0 {
		f.logger.Warn("price limits dropped", "date", day.Format(time.DateOnly), "dropped", dropped)
	}
	return out, nil
}

// mergeLimits copies price limits onto the day bars they belong to.
func mergeLimits(bars map[string][]model.Bar, limits map[string]model.PriceLimit) {
	for code, series := range bars {
		l, ok := limits[code]
		if !ok {
			continue
		}
		for i := range series {
			if model.Day(series[i].Frame).Equal(model.Day(l.Frame)) {
				series[i].HighLimit = l.HighLimit
				series[i].LowLimit = l.LowLimit
			}
		}
	}
}
