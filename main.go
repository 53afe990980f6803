package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jing2uo/datascan/cmd"
	"github.com/jing2uo/datascan/config"
	"github.com/jing2uo/datascan/model"
	"github.com/jing2uo/datascan/schedule"
	"github.com/jing2uo/datascan/workflow"
)

const configInfo = "YAML 配置文件路径, 为空时使用默认值和 DATASCAN_* 环境变量"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rootCmd = &cobra.Command{
		Use:           "datascan",
		Short:         "Reconcile local bars against the reference provider",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	var configPath, frame, scanType, mode, stopFile, cronSpec string
	var limit int
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", configInfo)

	loadConfig := func(c *cobra.Command) (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		if c.Flags().Changed("mode") {
			m, err := workflow.ParseMode(mode)
			if err != nil {
				return cfg, err
			}
			cfg.Run.Mode = m
		}
		if c.Flags().Changed("stop-file") {
			cfg.Run.StopFile = stopFile
		}
		if c.Flags().Changed("cron") {
			if _, err := config.CronParser.Parse(cronSpec); err != nil {
				return cfg, fmt.Errorf("invalid --cron: %w", err)
			}
			cfg.Cron = cronSpec
		}
		return cfg, nil
	}

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one pass over the configured streams",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			var ft model.FrameType
			if frame != "" {
				if ft, err = model.ParseFrameType(frame); err != nil {
					return err
				}
			}
			var st schedule.ScanType
			if scanType != "" {
				if st, err = schedule.ParseScanType(scanType); err != nil {
					return err
				}
			}
			return cmd.Run(ctx, cfg, ft, st)
		},
	}

	var daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Run passes on the cron schedule until interrupted",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return cmd.Cron(ctx, cfg)
		},
	}

	var seclistCmd = &cobra.Command{
		Use:   "seclist",
		Short: "Manage the stored security list",
	}
	var seclistSyncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Replace the stored security list with the provider's",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return cmd.SyncSecurities(ctx, cfg)
		},
	}

	var cursorCmd = &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or move stream cursors (<frame>/<recent|historical>)",
	}
	var cursorGetCmd = &cobra.Command{
		Use:   "get [stream]",
		Short: "Print one cursor, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			stream := ""
			if len(args) == 1 {
				stream = args[0]
			}
			return cmd.CursorGet(ctx, cfg, stream)
		},
	}
	var cursorSetCmd = &cobra.Command{
		Use:   "set <stream> <YYYY-MM-DD>",
		Short: "Move a cursor",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return cmd.CursorSet(ctx, cfg, args[0], args[1])
		},
	}
	var cursorResetCmd = &cobra.Command{
		Use:   "reset <stream>",
		Short: "Drop a cursor so the next pass starts over",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return cmd.CursorReset(ctx, cfg, args[0])
		},
	}

	var issuesCmd = &cobra.Command{
		Use:   "issues",
		Short: "Print the latest failed units",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return cmd.Issues(ctx, cfg, limit)
		},
	}

	runCmd.Flags().StringVar(&frame, "frame", "", "只检查该周期 (1d, 1w, 1M, 1m, 5m, 15m, 30m, 60m)")
	runCmd.Flags().StringVar(&scanType, "scan", "", "只检查该方向 (recent, historical)")
	runCmd.Flags().StringVar(&mode, "mode", "", "batch 运行到无事可做, step 每个流只跑一个窗口")
	runCmd.Flags().StringVar(&stopFile, "stop-file", "", "该文件存在时在单元之间停止")

	daemonCmd.Flags().StringVar(&cronSpec, "cron", "", "带秒的 cron 表达式, 覆盖配置文件")
	daemonCmd.Flags().StringVar(&mode, "mode", "", "batch 或 step")
	daemonCmd.Flags().StringVar(&stopFile, "stop-file", "", "该文件存在时在单元之间停止")

	issuesCmd.Flags().IntVar(&limit, "limit", 20, "最多显示条数, 0 为全部")

	seclistCmd.AddCommand(seclistSyncCmd)
	cursorCmd.AddCommand(cursorGetCmd, cursorSetCmd, cursorResetCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(seclistCmd)
	rootCmd.AddCommand(cursorCmd)
	rootCmd.AddCommand(issuesCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "🛑 错误: %v\n", err)
		os.Exit(1)
	}
}
