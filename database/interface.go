// Package database is the local bar store the reconciler checks and repairs.
package database

import (
	"context"
	"time"

	"github.com/jing2uo/datascan/model"
)

type DataRepository interface {
	Connect() error
	Close() error

	InitSchema() error

	// Query returns bars ordered by code then frame.
	Query(ctx context.Context, q model.Query) ([]model.Bar, error)
	Codes(ctx context.Context, frame model.FrameType, r model.TimeRange) ([]string, error)
	// Delete removes the bars of codes inside r. No codes is a no-op.
	Delete(ctx context.Context, frame model.FrameType, r model.TimeRange, codes []string) error
	// Persist replaces the bars of every code in bars over the days they cover.
	Persist(ctx context.Context, frame model.FrameType, bars []model.Bar) error

	// Securities lists the securities listed on date, all of them for a zero date.
	Securities(ctx context.Context, date time.Time) ([]model.Security, error)
	ReplaceSecurities(ctx context.Context, secs []model.Security) error

	// TradeDays derives the calendar from the stored day bars of the
	// Shanghai composite index.
	TradeDays(ctx context.Context) ([]time.Time, error)
}
