package blob

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jing2uo/datascan/model"
)

// limitRow is the parquet layout of a price limit.
type limitRow struct {
	Frame     time.Time `parquet:"frame"`
	Code      string    `parquet:"code,dict"`
	HighLimit float64   `parquet:"high_limit"`
	LowLimit  float64   `parquet:"low_limit"`
}

func encodeParquet[T any](rows []T, options ...parquet.WriterOption) ([]byte, error) {
	var buf bytes.Buffer

	defaultOpts := []parquet.WriterOption{
		parquet.Compression(&parquet.Snappy),
		parquet.PageBufferSize(64 * 1024),
	}
	w := parquet.NewGenericWriter[T](&buf, append(defaultOpts, options...)...)

	if _, err := w.Write(rows); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to encode rows: %w", err)
	}
	// Close 写入 footer
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeParquet[T any](data []byte) ([]T, error) {
	return parquet.Read[T](bytes.NewReader(data), int64(len(data)))
}

func limitRows(limits []model.PriceLimit) []limitRow {
	rows := make([]limitRow, len(limits))
	for i, l := range limits {
		rows[i] = limitRow{Frame: l.Frame, Code: l.Code, HighLimit: l.HighLimit, LowLimit: l.LowLimit}
	}
	return rows
}
