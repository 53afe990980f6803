package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jing2uo/datascan/blob"
	"github.com/jing2uo/datascan/calendar"
	"github.com/jing2uo/datascan/config"
	"github.com/jing2uo/datascan/cursor"
	"github.com/jing2uo/datascan/database"
	"github.com/jing2uo/datascan/gate"
	"github.com/jing2uo/datascan/logx"
	"github.com/jing2uo/datascan/provider"
	"github.com/jing2uo/datascan/scan"
	"github.com/jing2uo/datascan/schedule"
	"github.com/jing2uo/datascan/workflow"
)

// App holds the collaborators of one pass.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	DB         database.DataRepository
	Cursors    cursor.Store
	Provider   *provider.Client
	Calendar   *calendar.Calendar
	Scheduler  *schedule.Scheduler
	Reconciler *scan.Reconciler
	Runner     *workflow.Runner
}

// Open wires every collaborator. The calendar is loaded from the provider,
// then from the local day bars; without one nothing can run.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logx.New(cfg.LogLevel)
	app := &App{Config: cfg, Logger: logger}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app.DB = db

	cursors, err := cursor.OpenSQLite(cfg.CursorDB)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open cursor store: %w", err)
	}
	app.Cursors = cursors

	app.Provider = provider.New(cfg.Provider, provider.WithLogger(logger))

	if app.Calendar, err = calendar.Load(ctx, app.Provider, db); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to load trading calendar: %w", err)
	}

	opts := cfg.Scan.Options()
	recOpts := []scan.Option{scan.WithLogger(logger)}
	if opts.Mirror && cfg.BlobRoot != "" {
		fs, err := blob.NewFS(cfg.BlobRoot)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to open blob root: %w", err)
		}
		recOpts = append(recOpts, scan.WithMirror(blob.NewMirror(fs, logger)))
	}
	app.Reconciler = scan.New(db, db, app.Provider, app.Calendar, opts, recOpts...)

	g := gate.New(app.Calendar, app.Provider, cfg.Gate, gate.WithLogger(logger))
	app.Scheduler = schedule.New(app.Calendar, app.Cursors, cfg.Schedule)
	app.Runner = workflow.NewRunner(g, app.Scheduler, app.Calendar, app.Reconciler, app.Cursors,
		cfg.Run.RunnerConfig, workflow.WithLogger(logger))
	return app, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Cursors != nil {
		errs = append(errs, a.Cursors.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
