package model

import "fmt"

type FrameType string

const (
	FrameDay   FrameType = "1d"
	FrameWeek  FrameType = "1w"
	FrameMonth FrameType = "1M"
	FrameMin1  FrameType = "1m"
	FrameMin5  FrameType = "5m"
	FrameMin15 FrameType = "15m"
	FrameMin30 FrameType = "30m"
	FrameMin60 FrameType = "60m"
)

// Unit is the calendar step a frame is scanned by.
type Unit int

const (
	UnitDay Unit = iota
	UnitWeek
	UnitMonth
)

func (u Unit) String() string {
	switch u {
	case UnitDay:
		return "day"
	case UnitWeek:
		return "week"
	case UnitMonth:
		return "month"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

type Field string

const (
	FieldOpen      Field = "open"
	FieldHigh      Field = "high"
	FieldLow       Field = "low"
	FieldClose     Field = "close"
	FieldVolume    Field = "volume"
	FieldAmount    Field = "amount"
	FieldFactor    Field = "factor"
	FieldHighLimit Field = "high_limit"
	FieldLowLimit  Field = "low_limit"
)

type FieldKind int

const (
	KindPrice FieldKind = iota
	KindExact
	KindFactor
)

func (f Field) Kind() FieldKind {
	switch f {
	case FieldVolume, FieldAmount:
		return KindExact
	case FieldFactor:
		return KindFactor
	default:
		return KindPrice
	}
}

// Optional fields are only compared when the reference carries a value.
func (f Field) Optional() bool {
	switch f {
	case FieldAmount, FieldFactor, FieldHighLimit, FieldLowLimit:
		return true
	}
	return false
}

// Tolerance is the absolute difference allowed per field kind.
type Tolerance struct {
	Stock  float64
	Index  float64
	Factor float64
	// Round is the number of decimals prices are rounded to before
	// comparing, negative disables rounding.
	Round int32
}

// Price returns the price tolerance for a stock or an index.
func (t Tolerance) Price(index bool) float64 {
	if index {
		return t.Index
	}
	return t.Stock
}

type Frame struct {
	Type       FrameType
	Unit       Unit
	BarsPerDay int
	Minute     bool
	Table      *TableMeta
	Fields     []Field
	Tolerance  Tolerance
}

func (f Frame) String() string { return string(f.Type) }

var (
	dayFields    = []Field{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume, FieldFactor, FieldHighLimit, FieldLowLimit}
	periodFields = []Field{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume, FieldFactor}
	minuteFields = []Field{FieldOpen, FieldClose, FieldHigh, FieldVolume}

	dayTolerance    = Tolerance{Stock: 0.01, Index: 0.02, Factor: 1e-5, Round: 2}
	periodTolerance = Tolerance{Stock: 0.01, Index: 0.02, Factor: 1e-3, Round: 2}
	minuteTolerance = Tolerance{Stock: 0.01, Index: 0.01, Factor: 1e-5, Round: 2}
)

var frames = map[FrameType]Frame{
	FrameDay:   {Type: FrameDay, Unit: UnitDay, BarsPerDay: 1, Table: TableBarsDay, Fields: dayFields, Tolerance: dayTolerance},
	FrameWeek:  {Type: FrameWeek, Unit: UnitWeek, BarsPerDay: 1, Table: TableBarsWeek, Fields: periodFields, Tolerance: periodTolerance},
	FrameMonth: {Type: FrameMonth, Unit: UnitMonth, BarsPerDay: 1, Table: TableBarsMonth, Fields: periodFields, Tolerance: periodTolerance},
	FrameMin1:  {Type: FrameMin1, Unit: UnitDay, BarsPerDay: 240, Minute: true, Table: TableBarsMin1, Fields: minuteFields, Tolerance: minuteTolerance},
	FrameMin5:  {Type: FrameMin5, Unit: UnitDay, BarsPerDay: 48, Minute: true, Table: TableBarsMin5, Fields: minuteFields, Tolerance: minuteTolerance},
	FrameMin15: {Type: FrameMin15, Unit: UnitDay, BarsPerDay: 16, Minute: true, Table: TableBarsMin15, Fields: minuteFields, Tolerance: minuteTolerance},
	FrameMin30: {Type: FrameMin30, Unit: UnitDay, BarsPerDay: 8, Minute: true, Table: TableBarsMin30, Fields: minuteFields, Tolerance: minuteTolerance},
	FrameMin60: {Type: FrameMin60, Unit: UnitDay, BarsPerDay: 4, Minute: true, Table: TableBarsMin60, Fields: minuteFields, Tolerance: minuteTolerance},
}

// MinuteFrames lists the intraday frames from finest to coarsest.
var MinuteFrames = []FrameType{FrameMin1, FrameMin5, FrameMin15, FrameMin30, FrameMin60}

// FrameOf returns the descriptor of a frame type.
func FrameOf(ft FrameType) (Frame, error) {
	f, ok := frames[ft]
	if !ok {
		return Frame{}, fmt.Errorf("unsupported frame type: %s", ft)
	}
	return f, nil
}

// MustFrame is FrameOf for frame types known at compile time.
func MustFrame(ft FrameType) Frame {
	f, err := FrameOf(ft)
	if err != nil {
		panic(err)
	}
	return f
}

// ParseFrameType accepts the canonical names plus a few aliases.
func ParseFrameType(s string) (FrameType, error) {
	switch s {
	case "1d", "day":
		return FrameDay, nil
	case "1w", "week":
		return FrameWeek, nil
	case "1M", "month":
		return FrameMonth, nil
	case "1m", "min1":
		return FrameMin1, nil
	case "5m", "min5":
		return FrameMin5, nil
	case "15m", "min15":
		return FrameMin15, nil
	case "30m", "min30":
		return FrameMin30, nil
	case "60m", "min60":
		return FrameMin60, nil
	}
	return "", fmt.Errorf("unknown frame type: %q", s)
}
