package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jing2uo/datascan/model"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memStore struct {
	bars     map[model.FrameType][]model.Bar
	secs     []model.Security
	deleted  []string
	persists int
}

func newMemStore() *memStore {
	return &memStore{bars: make(map[model.FrameType][]model.Bar)}
}

func (m *memStore) put(frame model.FrameType, bars ...model.Bar) {
	m.bars[frame] = append(m.bars[frame], bars...)
}

func (m *memStore) Query(_ context.Context, q model.Query) ([]model.Bar, error) {
	codes := NewCodeSet(q.Codes...)
	var out []model.Bar
	for _, b := range m.bars[q.Frame] {
		if !q.Range.Contains(b.Frame) {
			continue
		}
		if len(q.Codes) > 0 && !codes.Has(b.Code) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memStore) Codes(ctx context.Context, frame model.FrameType, r model.TimeRange) ([]string, error) {
	bars, _ := m.Query(ctx, model.Query{Frame: frame, Range: r})
	set := make(CodeSet)
	for _, b := range bars {
		set.Add(b.Code)
	}
	return set.Sorted(), nil
}

func (m *memStore) Delete(_ context.Context, frame model.FrameType, r model.TimeRange, codes []string) error {
	drop := NewCodeSet(codes...)
	kept := m.bars[frame][:0:0]
	for _, b := range m.bars[frame] {
		if drop.Has(b.Code) && r.Contains(b.Frame) {
			continue
		}
		kept = append(kept, b)
	}
	m.bars[frame] = kept
	m.deleted = append(m.deleted, codes...)
	return nil
}

func (m *memStore) Persist(ctx context.Context, frame model.FrameType, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	lo, hi := bars[0].Frame, bars[0].Frame
	codes := make(CodeSet)
	for _, b := range bars {
		codes.Add(b.Code)
		if b.Frame.Before(lo) {
			lo = b.Frame
		}
		if b.Frame.After(hi) {
			hi = b.Frame
		}
	}
	deleted := m.deleted
	_ = m.Delete(ctx, frame, model.SpanRange(lo, hi), codes.Sorted())
	m.deleted = deleted
	m.put(frame, bars...)
	m.persists++
	return nil
}

func (m *memStore) Securities(_ context.Context, date time.Time) ([]model.Security, error) {
	return listedOn(m.secs, date), nil
}

func (m *memStore) ReplaceSecurities(_ context.Context, secs []model.Security) error {
	m.secs = append([]model.Security(nil), secs...)
	return nil
}

var errBarQuota = errors.New("quota exhausted")

type fakeProvider struct {
	secs   []model.Security
	bars   map[model.FrameType]map[string][]model.Bar
	limits []model.PriceLimit
	// raw skips the range filter so stale series reach validation
	raw       bool
	fail      error
	failOn    int // bar call number answered with errBarQuota
	mu        sync.Mutex
	barCalls  int
	requested [][]string
}

func newFakeProvider(secs []model.Security) *fakeProvider {
	return &fakeProvider{secs: secs, bars: make(map[model.FrameType]map[string][]model.Bar)}
}

func (p *fakeProvider) put(frame model.FrameType, bars ...model.Bar) {
	if p.bars[frame] == nil {
		p.bars[frame] = make(map[string][]model.Bar)
	}
	for _, b := range bars {
		p.bars[frame][b.Code] = append(p.bars[frame][b.Code], b)
	}
}

func (p *fakeProvider) Securities(_ context.Context, date time.Time) ([]model.Security, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	if date.IsZero() {
		return p.secs, nil
	}
	return listedOn(p.secs, date), nil
}

func (p *fakeProvider) Bars(_ context.Context, codes []string, frame model.FrameType, start, end time.Time) (map[string][]model.Bar, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	p.mu.Lock()
	p.barCalls++
	p.requested = append(p.requested, codes)
	call := p.barCalls
	p.mu.Unlock()
	if p.failOn > 0 && call >= p.failOn {
		return nil, errBarQuota
	}
	span := model.TimeRange{Start: start, End: end}
	out := make(map[string][]model.Bar)
	for _, code := range codes {
		series, ok := p.bars[frame][code]
		if !ok {
			continue
		}
		kept := []model.Bar{}
		for _, b := range series {
			if p.raw || span.Contains(b.Frame) {
				kept = append(kept, b)
			}
		}
		out[code] = kept
	}
	return out, nil
}

func (p *fakeProvider) PriceLimits(_ context.Context, codes []string, date time.Time) ([]model.PriceLimit, error) {
	want := NewCodeSet(codes...)
	var out []model.PriceLimit
	for _, l := range p.limits {
		if want.Has(l.Code) {
			out = append(out, l)
		}
	}
	return out, nil
}

type savedBars struct {
	kind  model.SecurityType
	frame model.FrameType
	date  time.Time
	n     int
}

type fakeMirror struct {
	bars   []savedBars
	limits int
	fail   bool
}

func (f *fakeMirror) SaveBars(_ context.Context, kind model.SecurityType, frame model.FrameType, date time.Time, bars []model.Bar) error {
	if f.fail {
		return errors.New("disk full")
	}
	f.bars = append(f.bars, savedBars{kind: kind, frame: frame, date: date, n: len(bars)})
	return nil
}

func (f *fakeMirror) SaveLimits(_ context.Context, kind model.SecurityType, date time.Time, limits []model.PriceLimit) error {
	f.limits += len(limits)
	return nil
}

// fixture securities: ten stocks, a whitelisted and an ordinary index.
func fixtureSecurities() []model.Security {
	var secs []model.Security
	for i := 0; i < 10; i++ {
		secs = append(secs, model.Security{
			Code:      fmt.Sprintf("6000%02d.XSHG", i),
			Type:      model.SecurityStock,
			StartDate: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return append(secs,
		model.Security{Code: "000001.XSHG", Type: model.SecurityIndex, StartDate: time.Date(1991, 7, 15, 0, 0, 0, 0, time.UTC)},
		model.Security{Code: "000300.XSHG", Type: model.SecurityIndex, StartDate: time.Date(2005, 4, 8, 0, 0, 0, 0, time.UTC)},
	)
}

func codesOf(secs []model.Security) []string {
	out := make([]string, 0, len(secs))
	for _, s := range secs {
		out = append(out, s.Code)
	}
	sort.Strings(out)
	return out
}

func fullBar(code string, at time.Time, close float64) model.Bar {
	b := model.NewBar(code, at)
	b.Open, b.High, b.Low, b.Close = close, close+0.1, close-0.1, close
	b.Volume, b.Amount, b.Factor = 1000, close*1000, 1
	return b
}

func dayBars(codes []string, date time.Time) []model.Bar {
	out := make([]model.Bar, 0, len(codes))
	for i, c := range codes {
		out = append(out, fullBar(c, date, 10+float64(i)))
	}
	return out
}

func minuteBars(code string, date time.Time, step int) []model.Bar {
	var out []model.Bar
	add := func(from, to time.Time) {
		for t := from.Add(time.Duration(step) * time.Minute); !t.After(to); t = t.Add(time.Duration(step) * time.Minute) {
			out = append(out, fullBar(code, t, 10))
		}
	}
	add(model.At(date, 9, 30), model.At(date, 11, 30))
	add(model.At(date, 13, 0), model.At(date, 15, 0))
	return out
}
