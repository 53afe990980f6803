package model

import (
	"math"
	"time"
)

// Bar is one candle of a security at a frame. Unknown optional values
// (amount, factor, price limits) are NaN.
type Bar struct {
	Frame     time.Time `db:"frame"      col:"frame"      parquet:"frame"      type:"datetime"`
	Code      string    `db:"code"       col:"code"       parquet:"code,dict"`
	Open      float64   `db:"open"       col:"open"       parquet:"open"`
	High      float64   `db:"high"       col:"high"       parquet:"high"`
	Low       float64   `db:"low"        col:"low"        parquet:"low"`
	Close     float64   `db:"close"      col:"close"      parquet:"close"`
	Volume    float64   `db:"volume"     col:"volume"     parquet:"volume"`
	Amount    float64   `db:"amount"     col:"amount"     parquet:"amount"`
	Factor    float64   `db:"factor"     col:"factor"     parquet:"factor"`
	HighLimit float64   `db:"high_limit" col:"high_limit" parquet:"high_limit"`
	LowLimit  float64   `db:"low_limit"  col:"low_limit"  parquet:"low_limit"`
}

// NewBar returns a bar with every optional field unknown.
func NewBar(code string, frame time.Time) Bar {
	nan := math.NaN()
	return Bar{
		Frame:     frame,
		Code:      code,
		Open:      nan,
		High:      nan,
		Low:       nan,
		Close:     nan,
		Volume:    nan,
		Amount:    nan,
		Factor:    nan,
		HighLimit: nan,
		LowLimit:  nan,
	}
}

// Value returns the value of a comparable field.
func (b Bar) Value(f Field) float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldClose:
		return b.Close
	case FieldVolume:
		return b.Volume
	case FieldAmount:
		return b.Amount
	case FieldFactor:
		return b.Factor
	case FieldHighLimit:
		return b.HighLimit
	case FieldLowLimit:
		return b.LowLimit
	default:
		return math.NaN()
	}
}

type SecurityType string

const (
	SecurityStock SecurityType = "stock"
	SecurityIndex SecurityType = "index"
)

type Security struct {
	Code        string       `db:"code"         col:"code"`
	DisplayName string       `db:"display_name" col:"display_name"`
	Name        string       `db:"name"         col:"name"`
	Type        SecurityType `db:"type"         col:"type"`
	StartDate   time.Time    `db:"start_date"   col:"start_date"   type:"date"`
	EndDate     time.Time    `db:"end_date"     col:"end_date"     type:"date"`
}

// ListedOn reports whether the security trades on date.
func (s Security) ListedOn(date time.Time) bool {
	d := Day(date)
	if !s.StartDate.IsZero() && d.Before(Day(s.StartDate)) {
		return false
	}
	if !s.EndDate.IsZero() && d.After(Day(s.EndDate)) {
		return false
	}
	return true
}

type PriceLimit struct {
	Frame     time.Time
	Code      string
	HighLimit float64
	LowLimit  float64
}

// TimeRange is a closed interval [Start, End].
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// DayRange covers every timestamp of the given trading day.
func DayRange(date time.Time) TimeRange {
	d := Day(date)
	return TimeRange{Start: d, End: d.Add(24*time.Hour - time.Second)}
}

// SpanRange covers whole days from first to last.
func SpanRange(first, last time.Time) TimeRange {
	return TimeRange{Start: Day(first), End: Day(last).Add(24*time.Hour - time.Second)}
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Query selects bars of a frame. Empty Fields selects every column,
// empty Codes selects every security.
type Query struct {
	Frame  FrameType
	Fields []string
	Range  TimeRange
	Codes  []string
}

// Day truncates t to a calendar date at midnight UTC, keeping its wall-clock date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// At combines a date and a wall-clock time into a frame timestamp.
func At(date time.Time, hour, minute int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, time.UTC)
}
