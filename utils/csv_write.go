package utils

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"time"
)

// CSVWriter 把带 col 标签的结构体写成可批量导入的 CSV
type CSVWriter[T any] struct {
	file          *os.File
	writer        *csv.Writer
	headerWritten bool
	columns       []columnInfo
}

type columnInfo struct {
	Index      int
	HeaderName string
	IsTime     bool
	IsDateType bool
}

func NewCSVWriter[T any](filename string) (*CSVWriter[T], error) {
	cols, err := analyzeStructTags[T]()
	if err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &CSVWriter[T]{
		file:    f,
		writer:  csv.NewWriter(f),
		columns: cols,
	}, nil
}

// analyzeStructTags 解析 col 和 type 标签, col:"-" 的字段不导出
func analyzeStructTags[T any]() ([]columnInfo, error) {
	var t T
	typ := reflect.TypeOf(t)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("generic type T must be a struct")
	}

	var cols []columnInfo
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)

		colTag := field.Tag.Get("col")
		if colTag == "-" {
			continue
		}
		if colTag == "" {
			colTag = field.Name
		}

		cols = append(cols, columnInfo{
			Index:      i,
			HeaderName: colTag,
			IsTime:     field.Type == reflect.TypeOf(time.Time{}),
			IsDateType: field.Tag.Get("type") == "date",
		})
	}
	return cols, nil
}

// Header 返回表头, 顺序与结构体字段一致
func (cw *CSVWriter[T]) Header() []string {
	headers := make([]string, len(cw.columns))
	for i, col := range cw.columns {
		headers[i] = col.HeaderName
	}
	return headers
}

// Write 写入数据. 零值时间和 NaN 写成空串, 导入后为 NULL
func (cw *CSVWriter[T]) Write(data []T) error {
	if len(data) == 0 {
		return nil
	}

	if !cw.headerWritten {
		if err := cw.writer.Write(cw.Header()); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		cw.headerWritten = true
	}

	record := make([]string, len(cw.columns))
	for _, item := range data {
		val := reflect.ValueOf(item)
		if val.Kind() == reflect.Ptr {
			val = val.Elem()
		}

		for i, col := range cw.columns {
			record[i] = formatField(val.Field(col.Index), col)
		}

		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	return nil
}

func formatField(v reflect.Value, col columnInfo) string {
	if col.IsTime {
		t := v.Interface().(time.Time)
		switch {
		case t.IsZero():
			return ""
		case col.IsDateType:
			return t.Format(time.DateOnly)
		default:
			return t.Format(time.DateTime)
		}
	}

	switch v.Kind() {
	case reflect.Float64, reflect.Float32:
		f := v.Float()
		if math.IsNaN(f) {
			return ""
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case reflect.String:
		return v.String()
	default:
		return fmt.Sprint(v.Interface())
	}
}

func (cw *CSVWriter[T]) Close() error {
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("failed to flush: %w", err)
	}
	return cw.file.Close()
}

// WriteCSV 一次性写完整个文件
func WriteCSV[T any](filename string, data []T) error {
	w, err := NewCSVWriter[T](filename)
	if err != nil {
		return err
	}
	if err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
