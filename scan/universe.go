package scan

import (
	"sort"

	"github.com/jing2uo/datascan/model"
)

// ToleratedExtra may disappear from the reference while still stored locally.
const ToleratedExtra = "000985.XSHG"

// IndexWhitelist holds the indexes that must always match.
var IndexWhitelist = NewCodeSet(
	"000001.XSHG", // 上证指数
	"399001.XSHE", // 深证成指
	"399006.XSHE", // 创业板指
	"000688.XSHG", // 科创50
	"000016.XSHG", // 上证50
	"399300.XSHE", // 沪深300
	"399905.XSHE", // 中证500
	"000852.XSHG", // 中证1000
)

type CodeSet map[string]struct{}

func NewCodeSet(codes ...string) CodeSet {
	s := make(CodeSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

func (s CodeSet) Add(codes ...string) {
	for _, c := range codes {
		s[c] = struct{}{}
	}
}

func (s CodeSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

func (s CodeSet) Len() int { return len(s) }

// Minus returns s - o.
func (s CodeSet) Minus(o CodeSet) CodeSet {
	out := make(CodeSet)
	for c := range s {
		if !o.Has(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

func (s CodeSet) Intersect(o CodeSet) CodeSet {
	out := make(CodeSet)
	for c := range s {
		if o.Has(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

func (s CodeSet) Union(o CodeSet) CodeSet {
	out := make(CodeSet, len(s)+len(o))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range o {
		out[c] = struct{}{}
	}
	return out
}

func (s CodeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Universe is a security universe split by type.
type Universe struct {
	Stocks  CodeSet
	Indexes CodeSet
}

func NewUniverse(secs []model.Security) Universe {
	u := Universe{Stocks: make(CodeSet), Indexes: make(CodeSet)}
	for _, s := range secs {
		switch s.Type {
		case model.SecurityStock:
			u.Stocks.Add(s.Code)
		case model.SecurityIndex:
			u.Indexes.Add(s.Code)
		}
	}
	return u
}

func (u Universe) All() CodeSet { return u.Stocks.Union(u.Indexes) }

func (u Universe) Len() int { return u.Stocks.Len() + u.Indexes.Len() }

func (u Universe) IsIndex(code string) bool { return u.Indexes.Has(code) }

// Merge returns the union of two universes.
func (u Universe) Merge(o Universe) Universe {
	return Universe{Stocks: u.Stocks.Union(o.Stocks), Indexes: u.Indexes.Union(o.Indexes)}
}

// UniverseDiff is the set difference of a local and a reference code set.
type UniverseDiff struct {
	Extra   []string // local - reference
	Missing []string // reference - local
	Common  []string
}

func (d UniverseDiff) Equal() bool { return len(d.Extra) == 0 && len(d.Missing) == 0 }

func Diff(local, reference CodeSet) UniverseDiff {
	return UniverseDiff{
		Extra:   local.Minus(reference).Sorted(),
		Missing: reference.Minus(local).Sorted(),
		Common:  local.Intersect(reference).Sorted(),
	}
}

// Policy decides which differences fail a unit.
type Policy struct {
	// Tolerated extras are kept and never fail the unit.
	Tolerated CodeSet
	// Whitelist indexes must match even when LenientIndexes is set.
	Whitelist CodeSet
	// LenientIndexes downgrades missing indexes outside Whitelist.
	LenientIndexes bool
}

// DefaultPolicy is used for the security list and every bar frame.
func DefaultPolicy() Policy {
	return Policy{
		Tolerated:      NewCodeSet(ToleratedExtra),
		Whitelist:      IndexWhitelist,
		LenientIndexes: true,
	}
}

type Verdict struct {
	UniverseDiff
	HardExtra   []string
	SoftExtra   []string
	HardMissing []string
	SoftMissing []string
}

// OK is true when nothing but tolerated differences remain.
func (v Verdict) OK() bool { return len(v.HardExtra) == 0 && len(v.HardMissing) == 0 }

func (p Policy) Evaluate(d UniverseDiff, isIndex func(string) bool) Verdict {
	v := Verdict{UniverseDiff: d}
	for _, c := range d.Extra {
		if p.Tolerated.Has(c) {
			v.SoftExtra = append(v.SoftExtra, c)
			continue
		}
		v.HardExtra = append(v.HardExtra, c)
	}
	for _, c := range d.Missing {
		if p.LenientIndexes && isIndex != nil && isIndex(c) && !p.Whitelist.Has(c) {
			v.SoftMissing = append(v.SoftMissing, c)
			continue
		}
		v.HardMissing = append(v.HardMissing, c)
	}
	return v
}
