package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jing2uo/datascan/config"
)

// Cron runs a full pass on cfg.Cron until ctx is done. A pass still running
// when the next one is due makes that one skip.
func Cron(ctx context.Context, cfg config.Config) error {
	if cfg.Cron == "" {
		return fmt.Errorf("cron spec is empty")
	}

	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	id, err := c.AddFunc(cfg.Cron, func() {
		if err := Run(ctx, cfg, "", ""); err != nil {
			fmt.Printf("🛑 本次检查失败: %v\n", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %q: %w", cfg.Cron, err)
	}

	c.Start()
	fmt.Printf("⏰ 定时任务已启动 (%s), 下次运行 %s\n", cfg.Cron, c.Entry(id).Schedule.Next(time.Now()).Format(time.DateTime))

	<-ctx.Done()
	<-c.Stop().Done()
	fmt.Println("👋 定时任务已停止")
	return nil
}
