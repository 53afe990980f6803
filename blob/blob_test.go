package blob

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jing2uo/datascan/model"
)

func TestPaths(t *testing.T) {
	d := time.Date(2022, 2, 18, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "stock/1m/20220218", BarsPath(model.SecurityStock, model.FrameMin1, d))
	assert.Equal(t, "index/1M/20220218", BarsPath(model.SecurityIndex, model.FrameMonth, d))
	assert.Equal(t, "stock/trade_limit/20220218", LimitsPath(model.SecurityStock, d))
}

func TestFSWrite(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mirror")
	fs, err := NewFS(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "stock/1d/20230116", []byte("v1")))
	require.NoError(t, fs.Write(ctx, "stock/1d/20230116", []byte("v2")))

	got, err := os.ReadFile(filepath.Join(root, "stock", "1d", "20230116"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	entries, err := os.ReadDir(filepath.Join(root, "stock", "1d"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Error(t, fs.Write(ctx, "../escape", []byte("x")))
	assert.Error(t, fs.Write(ctx, "/etc/passwd", []byte("x")))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, fs.Write(cancelled, "stock/1d/20230117", nil), context.Canceled)
}

func TestMirrorRoundTrip(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFS(root)
	require.NoError(t, err)
	m := NewMirror(fs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	day := time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC)

	b := model.NewBar("600000.XSHG", day)
	b.Open, b.High, b.Low, b.Close, b.Volume = 7.2, 7.3, 7.1, 7.25, 1.2e7
	require.NoError(t, m.SaveBars(ctx, model.SecurityStock, model.FrameDay, day, []model.Bar{b}))
	require.NoError(t, m.SaveBars(ctx, model.SecurityIndex, model.FrameDay, day, nil))

	data, err := os.ReadFile(filepath.Join(root, "stock", "1d", "20230116"))
	require.NoError(t, err)
	bars, err := decodeParquet[model.Bar](data)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "600000.XSHG", bars[0].Code)
	assert.True(t, day.Equal(bars[0].Frame))
	assert.Equal(t, 7.25, bars[0].Close)
	assert.True(t, math.IsNaN(bars[0].Factor))

	_, err = os.Stat(filepath.Join(root, "index", "1d", "20230116"))
	assert.True(t, os.IsNotExist(err))

	limits := []model.PriceLimit{{Frame: day, Code: "600000.XSHG", HighLimit: 7.97, LowLimit: 6.53}}
	require.NoError(t, m.SaveLimits(ctx, model.SecurityStock, day, limits))
	data, err = os.ReadFile(filepath.Join(root, "stock", "trade_limit", "20230116"))
	require.NoError(t, err)
	rows, err := decodeParquet[limitRow](data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 7.97, rows[0].HighLimit)
}
