// Package sqlq builds the SQL shared by the bar store drivers and converts
// rows back into model values.
package sqlq

import (
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jing2uo/datascan/model"
	"github.com/jing2uo/datascan/utils"
)

// CalendarCode is the index whose day bars stand in for the trading calendar.
const CalendarCode = "000001.XSHG"

func Table(frame model.FrameType) (*model.TableMeta, error) {
	f, err := model.FrameOf(frame)
	if err != nil {
		return nil, err
	}
	return f.Table, nil
}

// SelectBars returns the statement for q. frame and code are always selected.
func SelectBars(meta *model.TableMeta, q model.Query) (string, []any, error) {
	cols := []string{"frame", "code"}
	for _, f := range q.Fields {
		if f == "frame" || f == "code" {
			continue
		}
		if !meta.HasColumn(f) {
			return "", nil, fmt.Errorf("unknown column %s in %s", f, meta.TableName)
		}
		cols = append(cols, f)
	}
	if len(q.Fields) == 0 {
		cols = meta.ColumnNames()
	}

	where, args, err := Where(q.Range, q.Codes)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY code, frame",
		strings.Join(cols, ", "), meta.TableName, where)
	return query, args, nil
}

func SelectCodes(meta *model.TableMeta, r model.TimeRange) (string, []any) {
	return fmt.Sprintf("SELECT DISTINCT code FROM %s WHERE frame BETWEEN ? AND ? ORDER BY code", meta.TableName),
		[]any{r.Start, r.End}
}

// Where filters on the frame range and, when codes is not empty, on codes.
func Where(r model.TimeRange, codes []string) (string, []any, error) {
	if len(codes) == 0 {
		return "frame BETWEEN ? AND ?", []any{r.Start, r.End}, nil
	}
	return sqlx.In("frame BETWEEN ? AND ? AND code IN (?)", r.Start, r.End, codes)
}

func SelectTradeDays() (string, []any) {
	return fmt.Sprintf("SELECT DISTINCT frame FROM %s WHERE code = ? ORDER BY frame", model.TableBarsDay.TableName),
		[]any{CalendarCode}
}

// BarRow is a bar as scanned from SQL, NULL for unknown values.
type BarRow struct {
	Frame     time.Time       `db:"frame"`
	Code      string          `db:"code"`
	Open      sql.NullFloat64 `db:"open"`
	High      sql.NullFloat64 `db:"high"`
	Low       sql.NullFloat64 `db:"low"`
	Close     sql.NullFloat64 `db:"close"`
	Volume    sql.NullFloat64 `db:"volume"`
	Amount    sql.NullFloat64 `db:"amount"`
	Factor    sql.NullFloat64 `db:"factor"`
	HighLimit sql.NullFloat64 `db:"high_limit"`
	LowLimit  sql.NullFloat64 `db:"low_limit"`
}

func (r BarRow) Bar() model.Bar {
	return model.Bar{
		Frame:     Wall(r.Frame),
		Code:      r.Code,
		Open:      orNaN(r.Open),
		High:      orNaN(r.High),
		Low:       orNaN(r.Low),
		Close:     orNaN(r.Close),
		Volume:    orNaN(r.Volume),
		Amount:    orNaN(r.Amount),
		Factor:    orNaN(r.Factor),
		HighLimit: orNaN(r.HighLimit),
		LowLimit:  orNaN(r.LowLimit),
	}
}

func Bars(rows []BarRow) []model.Bar {
	out := make([]model.Bar, len(rows))
	for i, r := range rows {
		out[i] = r.Bar()
	}
	return out
}

type SecurityRow struct {
	Code        string         `db:"code"`
	DisplayName sql.NullString `db:"display_name"`
	Name        sql.NullString `db:"name"`
	Type        string         `db:"type"`
	StartDate   sql.NullTime   `db:"start_date"`
	EndDate     sql.NullTime   `db:"end_date"`
}

func (r SecurityRow) Security() model.Security {
	s := model.Security{
		Code:        r.Code,
		DisplayName: r.DisplayName.String,
		Name:        r.Name.String,
		Type:        model.SecurityType(r.Type),
	}
	if r.StartDate.Valid {
		s.StartDate = model.Day(r.StartDate.Time)
	}
	if r.EndDate.Valid {
		s.EndDate = model.Day(r.EndDate.Time)
	}
	return s
}

// ListedOn converts rows and keeps the securities listed on date; a zero
// date keeps them all.
func ListedOn(rows []SecurityRow, date time.Time) []model.Security {
	out := make([]model.Security, 0, len(rows))
	for _, r := range rows {
		s := r.Security()
		if date.IsZero() || s.ListedOn(date) {
			out = append(out, s)
		}
	}
	return out
}

// Span is the whole-day range and the distinct codes covered by bars.
func Span(bars []model.Bar) (model.TimeRange, []string) {
	if len(bars) == 0 {
		return model.TimeRange{}, nil
	}
	lo, hi := bars[0].Frame, bars[0].Frame
	seen := make(map[string]bool)
	var codes []string
	for _, b := range bars {
		if b.Frame.Before(lo) {
			lo = b.Frame
		}
		if b.Frame.After(hi) {
			hi = b.Frame
		}
		if !seen[b.Code] {
			seen[b.Code] = true
			codes = append(codes, b.Code)
		}
	}
	return model.SpanRange(lo, hi), codes
}

// StageCSV writes rows to a fresh temp file for bulk import.
func StageCSV[T any](name string, rows []T) (path string, cleanup func(), err error) {
	dir, cleanup, err := utils.StageDir("import-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	path = filepath.Join(dir, name+".csv")
	if err := utils.WriteCSV(path, rows); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage %s: %w", name, err)
	}
	return path, cleanup, nil
}

// Wall keeps the wall clock of t and moves it to UTC.
func Wall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
