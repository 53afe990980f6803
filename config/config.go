// Package config loads the datascan YAML file. Values missing from the file
// keep their defaults and DATASCAN_* environment variables win over both.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/jing2uo/datascan/gate"
	"github.com/jing2uo/datascan/model"
	"github.com/jing2uo/datascan/provider"
	"github.com/jing2uo/datascan/scan"
	"github.com/jing2uo/datascan/schedule"
	"github.com/jing2uo/datascan/utils"
	"github.com/jing2uo/datascan/workflow"
)

// CronParser reads daemon specs with a leading seconds field.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	Database model.DBConfig  `yaml:"database"`
	CursorDB string          `yaml:"cursor_db"`
	Provider provider.Config `yaml:"provider"`
	BlobRoot string          `yaml:"blob_root"`
	Gate     gate.Config     `yaml:"gate"`
	Schedule schedule.Config `yaml:"schedule"`
	Scan     ScanConfig      `yaml:"scan"`
	Run      RunConfig       `yaml:"run"`
	LogLevel string          `yaml:"log_level"`
	// Cron is the daemon schedule, seconds first.
	Cron string `yaml:"cron"`
}

type ScanConfig struct {
	Repair             bool                             `yaml:"repair"`
	OverwriteDivergent bool                             `yaml:"overwrite_divergent"`
	BackfillEmptyLocal bool                             `yaml:"backfill_empty_local"`
	Mirror             bool                             `yaml:"mirror"`
	MinUniverse        int                              `yaml:"min_universe"`
	MinuteMode         scan.MinuteMode                  `yaml:"minute_mode"`
	Sampling           map[model.FrameType]scan.Sample `yaml:"sampling"`
	// Tolerated extends the codes whose extra local bars never fail a unit.
	Tolerated      []string `yaml:"tolerated"`
	LenientIndexes   bool     `yaml:"lenient_indexes"`
	FetchConcurrency int      `yaml:"fetch_concurrency"`
}

// Options maps the file section onto the reconciler options.
func (s ScanConfig) Options() scan.Options {
	opts := scan.DefaultOptions()
	opts.Repair = s.Repair
	opts.OverwriteDivergent = s.OverwriteDivergent
	opts.BackfillEmptyLocal = s.BackfillEmptyLocal
	opts.Mirror = s.Mirror
	opts.MinUniverse = s.MinUniverse
	opts.MinuteMode = s.MinuteMode
	if s.Sampling != nil {
		opts.Sampling = s.Sampling
	}
	for _, code := range s.Tolerated {
		opts.Policy.Tolerated.Add(code)
	}
	opts.Policy.LenientIndexes = s.LenientIndexes
	if s.FetchConcurrency > 0 {
		opts.FetchConcurrency = s.FetchConcurrency
	}
	return opts
}

type StreamConfig struct {
	Frame  model.FrameType   `yaml:"frame"`
	Scan   schedule.ScanType `yaml:"scan"`
	Leader model.FrameType   `yaml:"leader"`
	// With lists minute frames checked in the same unit as a day stream.
	With []model.FrameType `yaml:"with"`
}

func (s StreamConfig) Stream() schedule.Stream {
	return schedule.Stream{Frame: s.Frame, Scan: s.Scan, Leader: s.Leader}
}

type RunConfig struct {
	workflow.RunnerConfig `yaml:",inline"`
	Streams               []StreamConfig `yaml:"streams"`
}

func Default() Config {
	opts := scan.DefaultOptions()
	return Config{
		Database: model.DBConfig{Type: model.DBTypeDuckDB, DSN: "datascan.duckdb"},
		CursorDB: "datascan-cursor.db",
		Provider: provider.DefaultConfig(),
		BlobRoot: "mirror",
		Gate:     gate.DefaultConfig(),
		Schedule: schedule.DefaultConfig(),
		Scan: ScanConfig{
			Repair:             opts.Repair,
			OverwriteDivergent: opts.OverwriteDivergent,
			BackfillEmptyLocal: opts.BackfillEmptyLocal,
			Mirror:             opts.Mirror,
			MinUniverse:        opts.MinUniverse,
			MinuteMode:         opts.MinuteMode,
			Sampling:           opts.Sampling,
			LenientIndexes:     opts.Policy.LenientIndexes,
			FetchConcurrency:   opts.FetchConcurrency,
		},
		Run: RunConfig{
			RunnerConfig: workflow.DefaultRunnerConfig(),
			Streams: []StreamConfig{
				{Frame: model.FrameDay, Scan: schedule.Recent},
				{Frame: model.FrameWeek, Scan: schedule.Recent},
				{Frame: model.FrameMonth, Scan: schedule.Recent},
				{Frame: model.FrameMin1, Scan: schedule.Recent, Leader: model.FrameDay},
				{Frame: model.FrameDay, Scan: schedule.Historical},
			},
		},
		LogLevel: "info",
		Cron:     "0 30 17 * * *",
	}
}

// Load reads path over the defaults. An empty path only applies the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := utils.CheckFile(path); err != nil {
			return cfg, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Database.Type = model.DBType(getEnv("DATASCAN_DB_TYPE", string(c.Database.Type)))
	c.Database.DSN = getEnv("DATASCAN_DB_DSN", c.Database.DSN)
	c.CursorDB = getEnv("DATASCAN_CURSOR_DB", c.CursorDB)
	c.Provider.BaseURL = getEnv("DATASCAN_PROVIDER_URL", c.Provider.BaseURL)
	c.Provider.Token = getEnv("DATASCAN_PROVIDER_TOKEN", c.Provider.Token)
	c.BlobRoot = getEnv("DATASCAN_BLOB_ROOT", c.BlobRoot)
	c.LogLevel = getEnv("DATASCAN_LOG_LEVEL", c.LogLevel)
	c.Run.StopFile = getEnv("DATASCAN_STOP_FILE", c.Run.StopFile)
	c.Run.Mode = workflow.Mode(getEnv("DATASCAN_RUN_MODE", string(c.Run.Mode)))
	c.Cron = getEnv("DATASCAN_CRON", c.Cron)
	if v := os.Getenv("DATASCAN_REPAIR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DATASCAN_REPAIR: %w", err)
		}
		c.Scan.Repair = b
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Database.Type {
	case model.DBTypeDuckDB, model.DBTypeClickHouse:
	default:
		errs = append(errs, fmt.Errorf("unsupported database type: %q", c.Database.Type))
	}
	if strings.TrimSpace(c.Database.DSN) == "" && c.Database.Type == model.DBTypeClickHouse {
		errs = append(errs, errors.New("database dsn is required for clickhouse"))
	}
	if c.CursorDB == "" {
		errs = append(errs, errors.New("cursor_db is required"))
	}
	if _, err := workflow.ParseMode(string(c.Run.Mode)); err != nil {
		errs = append(errs, err)
	}
	switch c.Scan.MinuteMode {
	case scan.MinuteSetDiff, scan.MinuteSample, scan.MinuteBoth:
	default:
		errs = append(errs, fmt.Errorf("unknown minute_mode: %q", c.Scan.MinuteMode))
	}
	for ft := range c.Scan.Sampling {
		if _, err := model.FrameOf(ft); err != nil {
			errs = append(errs, fmt.Errorf("sampling: %w", err))
		}
	}
	for i, s := range c.Run.Streams {
		if _, err := model.FrameOf(s.Frame); err != nil {
			errs = append(errs, fmt.Errorf("stream %d: %w", i, err))
		}
		if _, err := schedule.ParseScanType(string(s.Scan)); err != nil {
			errs = append(errs, fmt.Errorf("stream %d: %w", i, err))
		}
		for _, ft := range append([]model.FrameType{s.Leader}, s.With...) {
			if ft == "" {
				continue
			}
			if _, err := model.FrameOf(ft); err != nil {
				errs = append(errs, fmt.Errorf("stream %d: %w", i, err))
			}
		}
	}
	if c.Cron != "" {
		if _, err := CronParser.Parse(c.Cron); err != nil {
			errs = append(errs, fmt.Errorf("cron: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Streams returns the configured streams, or those matching frame and scan
// when they are set.
func (c Config) Streams(frame model.FrameType, scanType schedule.ScanType) []StreamConfig {
	var out []StreamConfig
	for _, s := range c.Run.Streams {
		if frame != "" && s.Frame != frame {
			continue
		}
		if scanType != "" && s.Scan != scanType {
			continue
		}
		out = append(out, s)
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
