package blob

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/jing2uo/datascan/model"
)

// BarsPath is <stock|index>/<frame>/<yyyymmdd>.
func BarsPath(kind model.SecurityType, frame model.FrameType, date time.Time) string {
	return path.Join(string(kind), string(frame), date.Format("20060102"))
}

// LimitsPath is <stock|index>/trade_limit/<yyyymmdd>.
func LimitsPath(kind model.SecurityType, date time.Time) string {
	return path.Join(string(kind), "trade_limit", date.Format("20060102"))
}

// Mirror writes one parquet object per kind, frame and day.
type Mirror struct {
	w      Writer
	logger *slog.Logger
}

func NewMirror(w Writer, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{w: w, logger: logger}
}

func (m *Mirror) SaveBars(ctx context.Context, kind model.SecurityType, frame model.FrameType, date time.Time, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	data, err := encodeParquet(bars)
	if err != nil {
		return err
	}
	p := BarsPath(kind, frame, date)
	if err := m.w.Write(ctx, p, data); err != nil {
		return fmt.Errorf("failed to mirror %s: %w", p, err)
	}
	m.logger.Info("write bars to blob", "path", p, "bars", len(bars), "bytes", len(data))
	return nil
}

func (m *Mirror) SaveLimits(ctx context.Context, kind model.SecurityType, date time.Time, limits []model.PriceLimit) error {
	if len(limits) == 0 {
		return nil
	}
	data, err := encodeParquet(limitRows(limits))
	if err != nil {
		return err
	}
	p := LimitsPath(kind, date)
	if err := m.w.Write(ctx, p, data); err != nil {
		return fmt.Errorf("failed to mirror %s: %w", p, err)
	}
	m.logger.Info("write price limits to blob", "path", p, "securities", len(limits), "bytes", len(data))
	return nil
}
