package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jing2uo/datascan/model"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Token = "secret"
	cfg.Retries = 1
	return New(cfg, WithRetryWait(time.Millisecond), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func TestSecurities(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /securities", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Query().Get("date") == "" {
			writeJSON(w, `[{"code":"600000.XSHG","type":"stock","start_date":"1999-11-10","end_date":""},
				{"code":"600001.XSHG","type":"stock","start_date":"1998-01-22","end_date":"2009-12-29"}]`)
			return
		}
		assert.Equal(t, "2023-01-16", r.URL.Query().Get("date"))
		writeJSON(w, `[{"code":"600000.XSHG","display_name":"浦发银行","name":"PFYH","type":"stock","start_date":"1999-11-10"}]`)
	})
	c := newTestClient(t, mux)

	secs, err := c.Securities(context.Background(), time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, secs, 1)
	assert.Equal(t, "浦发银行", secs[0].DisplayName)
	assert.Equal(t, model.SecurityStock, secs[0].Type)
	assert.Equal(t, time.Date(1999, 11, 10, 0, 0, 0, 0, time.UTC), secs[0].StartDate)
	assert.True(t, secs[0].EndDate.IsZero())

	all, err := c.Securities(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.False(t, all[1].ListedOn(time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC)))
}

func TestBars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bars", func(w http.ResponseWriter, r *http.Request) {
		var req barsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"600000.XSHG", "000001.XSHG"}, req.Codes)
		assert.Equal(t, "1d", req.Frame)
		assert.Equal(t, "2023-01-16 00:00:00", req.Start)

		writeJSON(w, `{"bars":{
			"600000.XSHG":[{"frame":"2023-01-16 00:00:00","open":7.2,"high":7.3,"low":7.1,"close":7.25,"volume":1.2e7,"amount":"87000000.5","factor":null}],
			"000001.XSHG":[{"frame":"2023-01-16","open":3200.1,"high":3230,"low":3190,"close":3227.59,"volume":3e10,"amount":4e11}]
		}}`)
	})
	c := newTestClient(t, mux)

	day := time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC)
	got, err := c.Bars(context.Background(), []string{"600000.XSHG", "000001.XSHG"}, model.FrameDay, day, day)
	require.NoError(t, err)
	require.Len(t, got["600000.XSHG"], 1)

	b := got["600000.XSHG"][0]
	assert.Equal(t, day, b.Frame)
	assert.Equal(t, "600000.XSHG", b.Code)
	assert.Equal(t, 7.25, b.Close)
	assert.Equal(t, 1.2e7, b.Volume)
	assert.Equal(t, 87000000.5, b.Amount)
	assert.True(t, math.IsNaN(b.Factor))
	assert.True(t, math.IsNaN(b.HighLimit))

	idx := got["000001.XSHG"][0]
	assert.Equal(t, day, idx.Frame)
	assert.Equal(t, 3227.59, idx.Close)
}

func TestPriceLimitsAndQuota(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /price_limits", func(w http.ResponseWriter, r *http.Request) {
		var req limitsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2023-01-16", req.Date)
		writeJSON(w, `[{"frame":"2023-01-16","code":"600000.XSHG","high_limit":7.97,"low_limit":6.53},{"frame":"2023-01-16","code":"600001.XSHG","high_limit":null,"low_limit":null}]`)
	})
	mux.HandleFunc("GET /quota", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"total":200000000,"spare":4500000}`)
	})
	mux.HandleFunc("GET /trade_days", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `["2023-01-13","2023-01-16"]`)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	limits, err := c.PriceLimits(ctx, []string{"600000.XSHG", "600001.XSHG"}, time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, limits, 2)
	assert.Equal(t, 7.97, limits[0].HighLimit)
	assert.True(t, math.IsNaN(limits[1].LowLimit))

	spare, err := c.Spare(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4_500_000), spare)

	days, err := c.TradeDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{time.Date(2023, 1, 13, 0, 0, 0, 0, time.UTC), time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC)}, days)
}

func TestErrors(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /quota", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"daily quota used up"}`))
	})
	mux.HandleFunc("GET /trade_days", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("GET /securities", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.Quota(ctx)
	assert.ErrorIs(t, err, ErrQuota)
	assert.Contains(t, err.Error(), "daily quota used up")

	_, err = c.TradeDays(ctx)
	assert.Error(t, err)
	assert.Equal(t, 2, calls)

	_, err = c.Securities(ctx, time.Time{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestQuotaCallsAreNotRetried(t *testing.T) {
	var bars, quota int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bars", func(w http.ResponseWriter, r *http.Request) {
		bars++
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("GET /quota", func(w http.ResponseWriter, r *http.Request) {
		quota++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()
	day := time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC)

	_, err := c.Bars(ctx, []string{"600000.XSHG"}, model.FrameDay, day, day)
	assert.Error(t, err)
	assert.Equal(t, 1, bars)

	_, err = c.Quota(ctx)
	assert.Error(t, err)
	assert.Equal(t, 2, quota)

	// retries are off unless configured
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	_, err = New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))).Quota(ctx)
	assert.Error(t, err)
	assert.Equal(t, 3, quota)
}

func TestNumber(t *testing.T) {
	var v struct {
		A *number `json:"a"`
		B *number `json:"b"`
		C *number `json:"c"`
		D *number `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":1.5,"b":"2.5","c":null,"d":"NaN"}`), &v))
	assert.Equal(t, 1.5, orNaN(v.A))
	assert.Equal(t, 2.5, orNaN(v.B))
	assert.True(t, math.IsNaN(orNaN(v.C)))
	assert.True(t, math.IsNaN(orNaN(v.D)))

	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}
