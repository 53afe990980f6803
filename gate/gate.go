// Package gate decides whether a reconciliation pass may run now, keeping
// scans away from trading hours and from the quota the daytime jobs need.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type Calendar interface {
	IsTradingDay(t time.Time) bool
}

// QuotaSource reports the provider quota still available today.
type QuotaSource interface {
	Spare(ctx context.Context) (int64, error)
}

type Config struct {
	// QuietUntil blocks trading days before this wall-clock offset.
	QuietUntil time.Duration `yaml:"quiet_until"`
	// MarketOpen and MarketClose bound the blocked daytime band.
	MarketOpen  time.Duration `yaml:"market_open"`
	MarketClose time.Duration `yaml:"market_close"`
	// PreMarketReserve is kept for the trading session when running before MarketOpen.
	PreMarketReserve int64 `yaml:"pre_market_reserve"`
	// OffDayReserve is kept on non-trading days and after MarketClose.
	OffDayReserve int64 `yaml:"off_day_reserve"`
}

func DefaultConfig() Config {
	return Config{
		QuietUntil:       3 * time.Hour,
		MarketOpen:       8 * time.Hour,
		MarketClose:      17*time.Hour + 10*time.Minute,
		PreMarketReserve: 4_000_000,
		OffDayReserve:    100_000,
	}
}

type Decision struct {
	Allowed bool
	Reason  string
	// Quota is -1 when it was not read.
	Quota int64
	At    time.Time
}

func (d Decision) String() string {
	if d.Allowed {
		return fmt.Sprintf("admitted at %s (quota %d)", d.At.Format(time.DateTime), d.Quota)
	}
	return fmt.Sprintf("denied at %s: %s", d.At.Format(time.DateTime), d.Reason)
}

type Gate struct {
	cal    Calendar
	quota  QuotaSource
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

func WithLogger(l *slog.Logger) Option { return func(g *Gate) { g.logger = l } }

func New(cal Calendar, quota QuotaSource, cfg Config, opts ...Option) *Gate {
	g := &Gate{cal: cal, quota: quota, cfg: cfg, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Admit evaluates the time bands first and reads the quota only when the
// clock allows a run. A failed quota read denies.
func (g *Gate) Admit(ctx context.Context) Decision {
	now := g.now()
	d := Decision{At: now, Quota: -1}
	clock := sinceMidnight(now)

	reserve := g.cfg.OffDayReserve
	if g.cal.IsTradingDay(now) {
		switch {
		case clock < g.cfg.QuietUntil:
			d.Reason = fmt.Sprintf("trading day before %s", hhmm(g.cfg.QuietUntil))
			return g.deny(d)
		case clock > g.cfg.MarketOpen && clock < g.cfg.MarketClose:
			d.Reason = fmt.Sprintf("trading hours %s-%s", hhmm(g.cfg.MarketOpen), hhmm(g.cfg.MarketClose))
			return g.deny(d)
		case clock < g.cfg.MarketOpen:
			reserve = g.cfg.PreMarketReserve
		}
	}

	spare, err := g.quota.Spare(ctx)
	if err != nil {
		d.Reason = fmt.Sprintf("quota unavailable: %v", err)
		g.logger.Warn("failed to read quota", "error", err)
		return g.deny(d)
	}
	d.Quota = spare
	g.logger.Info("current quota", "spare", spare, "reserve", reserve)
	if spare < reserve {
		d.Reason = fmt.Sprintf("quota %d below reserve %d", spare, reserve)
		return g.deny(d)
	}
	d.Allowed = true
	return d
}

func (g *Gate) deny(d Decision) Decision {
	g.logger.Info("run denied", "reason", d.Reason)
	return d
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
}

func hhmm(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
