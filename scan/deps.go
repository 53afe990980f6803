package scan

import (
	"context"
	"time"

	"github.com/jing2uo/datascan/model"
)

type BarStore interface {
	Query(ctx context.Context, q model.Query) ([]model.Bar, error)
	Codes(ctx context.Context, frame model.FrameType, r model.TimeRange) ([]string, error)
	Delete(ctx context.Context, frame model.FrameType, r model.TimeRange, codes []string) error
	Persist(ctx context.Context, frame model.FrameType, bars []model.Bar) error
}

type SecurityStore interface {
	Securities(ctx context.Context, date time.Time) ([]model.Security, error)
	ReplaceSecurities(ctx context.Context, secs []model.Security) error
}

// Provider is the reference quotes source. A zero date asks Securities for
// the full history of the list.
type Provider interface {
	Securities(ctx context.Context, date time.Time) ([]model.Security, error)
	Bars(ctx context.Context, codes []string, frame model.FrameType, start, end time.Time) (map[string][]model.Bar, error)
	PriceLimits(ctx context.Context, codes []string, date time.Time) ([]model.PriceLimit, error)
}

type Calendar interface {
	PeriodBounds(t time.Time, unit model.Unit) (time.Time, time.Time, error)
}

// Mirror copies repaired units to blob storage.
type Mirror interface {
	SaveBars(ctx context.Context, kind model.SecurityType, frame model.FrameType, date time.Time, bars []model.Bar) error
	SaveLimits(ctx context.Context, kind model.SecurityType, date time.Time, limits []model.PriceLimit) error
}
