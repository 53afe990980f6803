package scan

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jing2uo/datascan/model"
)

// Within reports |a-b| <= tol, evaluated on the decimal values of a and b
// so a difference of exactly tol matches. NaN only matches NaN and an
// infinity only matches itself.
func Within(a, b, tol float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	diff := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs()
	return diff.LessThanOrEqual(decimal.NewFromFloat(tol))
}

// Exact compares volume-like values, NaN equals NaN.
func Exact(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}

func round(v float64, places int32) float64 {
	if places < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Mismatch describes one field that differs beyond tolerance.
type Mismatch struct {
	Code      string
	Frame     string
	Field     model.Field
	Local     float64
	Reference float64
	Tolerance float64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s@%s [%s] local=%v reference=%v tol=%v", m.Code, m.Frame, m.Field, m.Local, m.Reference, m.Tolerance)
}

// CompareField checks one field of two bars of the same security and time.
func CompareField(f model.Field, local, ref model.Bar, tol model.Tolerance, index bool) (Mismatch, bool) {
	lv, rv := local.Value(f), ref.Value(f)
	if f.Optional() && math.IsNaN(rv) {
		return Mismatch{}, true
	}

	var ok bool
	var t float64
	switch f.Kind() {
	case model.KindExact:
		ok = Exact(lv, rv)
	case model.KindFactor:
		t = tol.Factor
		ok = Within(lv, rv, t)
	default:
		t = tol.Price(index)
		ok = Within(round(lv, tol.Round), round(rv, tol.Round), t)
	}
	if ok {
		return Mismatch{}, true
	}
	return Mismatch{
		Code:      local.Code,
		Frame:     local.Frame.Format(time.DateTime),
		Field:     f,
		Local:     lv,
		Reference: rv,
		Tolerance: t,
	}, false
}

// CompareBars checks every field of a frame descriptor and returns the
// mismatches. It never decides whether the unit fails.
func CompareBars(frame model.Frame, local, ref model.Bar, index bool) []Mismatch {
	var out []Mismatch
	for _, f := range frame.Fields {
		if m, ok := CompareField(f, local, ref, frame.Tolerance, index); !ok {
			out = append(out, m)
		}
	}
	return out
}
