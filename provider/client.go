// Package provider talks to the reference quotes service over HTTP.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jing2uo/datascan/model"
)

var (
	// ErrQuota is returned when the service refuses a call for lack of quota.
	ErrQuota        = errors.New("provider quota exhausted")
	ErrUnauthorized = errors.New("provider rejected credentials")
)

type Config struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	// Retries applies to GET calls only; bar and limit batches cost quota
	// and are never resent.
	Retries int `yaml:"retries"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:3180/api/v1",
		Timeout: 2 * time.Minute,
	}
}

type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithRetryWait shortens the backoff, mostly for tests.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.http.SetRetryWaitTime(d).SetRetryMaxWaitTime(d) }
}

func New(cfg Config, opts ...Option) *Client {
	r := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			if err != nil {
				return true
			}
			return resp.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		r.SetAuthToken(cfg.Token)
	}

	c := &Client{http: r, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiError struct {
	Message string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, query map[string]string) error {
	var apiErr apiError
	req := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&apiErr).
		SetQueryParams(query)
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.logger.Debug("provider call", "method", method, "path", path,
		"status", resp.StatusCode(), "elapsed", time.Since(start))

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests || code == http.StatusPaymentRequired:
		return fmt.Errorf("%s %s: %s: %w", method, path, apiErr.Message, ErrQuota)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.IsError():
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status()
		}
		return fmt.Errorf("%s %s: %s", method, path, msg)
	}
	return nil
}

// Securities lists the securities listed on date. A zero date returns
// every security the service knows, delisted ones included.
func (c *Client) Securities(ctx context.Context, date time.Time) ([]model.Security, error) {
	query := map[string]string{}
	if !date.IsZero() {
		query["date"] = date.Format(time.DateOnly)
	}
	var out []securityJSON
	if err := c.do(ctx, http.MethodGet, "/securities", nil, &out, query); err != nil {
		return nil, err
	}
	secs := make([]model.Security, 0, len(out))
	for _, s := range out {
		sec, err := s.model()
		if err != nil {
			return nil, err
		}
		secs = append(secs, sec)
	}
	return secs, nil
}

type barsRequest struct {
	Codes []string `json:"codes"`
	Frame string   `json:"frame"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

type barsResponse struct {
	Bars map[string][]barJSON `json:"bars"`
}

// Bars returns the bars of codes with frames in [start, end], keyed by
// code. Codes the service has no data for are absent.
func (c *Client) Bars(ctx context.Context, codes []string, frame model.FrameType, start, end time.Time) (map[string][]model.Bar, error) {
	req := barsRequest{
		Codes: codes,
		Frame: string(frame),
		Start: start.Format(time.DateTime),
		End:   end.Format(time.DateTime),
	}
	var resp barsResponse
	if err := c.do(ctx, http.MethodPost, "/bars", req, &resp, nil); err != nil {
		return nil, err
	}

	out := make(map[string][]model.Bar, len(resp.Bars))
	for code, raw := range resp.Bars {
		bars := make([]model.Bar, 0, len(raw))
		for _, b := range raw {
			bar, err := b.model(code)
			if err != nil {
				return nil, err
			}
			bars = append(bars, bar)
		}
		out[code] = bars
	}
	return out, nil
}

type limitsRequest struct {
	Codes []string `json:"codes"`
	Date  string   `json:"date"`
}

func (c *Client) PriceLimits(ctx context.Context, codes []string, date time.Time) ([]model.PriceLimit, error) {
	var out []limitJSON
	req := limitsRequest{Codes: codes, Date: date.Format(time.DateOnly)}
	if err := c.do(ctx, http.MethodPost, "/price_limits", req, &out, nil); err != nil {
		return nil, err
	}
	limits := make([]model.PriceLimit, 0, len(out))
	for _, l := range out {
		pl, err := l.model()
		if err != nil {
			return nil, err
		}
		limits = append(limits, pl)
	}
	return limits, nil
}

type Quota struct {
	Total int64 `json:"total"`
	Spare int64 `json:"spare"`
}

func (c *Client) Quota(ctx context.Context) (Quota, error) {
	var q Quota
	err := c.do(ctx, http.MethodGet, "/quota", nil, &q, nil)
	return q, err
}

// Spare is the remaining quota of the day.
func (c *Client) Spare(ctx context.Context) (int64, error) {
	q, err := c.Quota(ctx)
	return q.Spare, err
}

// TradeDays lists every trading day the service knows, ascending.
func (c *Client) TradeDays(ctx context.Context) ([]time.Time, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/trade_days", nil, &out, nil); err != nil {
		return nil, err
	}
	days := make([]time.Time, 0, len(out))
	for _, s := range out {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, fmt.Errorf("invalid trade day %q: %w", s, err)
		}
		days = append(days, d)
	}
	return days, nil
}
