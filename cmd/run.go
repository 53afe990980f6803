package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jing2uo/datascan/config"
	"github.com/jing2uo/datascan/model"
	"github.com/jing2uo/datascan/schedule"
	"github.com/jing2uo/datascan/workflow"
)

// Run passes over the configured streams, optionally narrowed to one frame
// or scan type. It stops early once the gate denies or the pass is
// interrupted, and fails when any unit failed.
func Run(ctx context.Context, cfg config.Config, frame model.FrameType, scanType schedule.ScanType) error {
	streams := cfg.Streams(frame, scanType)
	if len(streams) == 0 {
		return fmt.Errorf("no stream configured for frame=%q scan=%q", frame, scanType)
	}

	start := time.Now()
	app, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	failed := 0
	for _, sc := range streams {
		st := sc.Stream()
		fmt.Printf("🔍 开始检查 %s\n", st)
		res, err := app.Runner.Run(ctx, st, sc.With...)
		if err != nil {
			return fmt.Errorf("failed to run %s: %w", st, err)
		}
		printResult(res)
		failed += len(res.Failed)

		switch res.Outcome {
		case workflow.OutcomeDenied, workflow.OutcomeCancelled, workflow.OutcomeStopped:
			fmt.Printf("⏸️ 剩余任务跳过: %s\n", res.Outcome)
			return nil
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d units failed, see %s", failed, schedule.IssuesKey)
	}
	fmt.Printf("🚀 检查完成，耗时 %s\n", time.Since(start).Round(time.Second))
	return nil
}

func printResult(res workflow.PassResult) {
	cursor := "-"
	if !res.Cursor.IsZero() {
		cursor = res.Cursor.Format(time.DateOnly)
	}
	switch res.Outcome {
	case workflow.OutcomeFailed:
		fmt.Printf("⚠️ %s 有 %d 个单元失败, 游标 %s, %s\n", res.Stream, len(res.Failed), cursor, res.Tally)
		for _, f := range res.Failed {
			fmt.Printf("   ❌ %v\n", f)
		}
	case workflow.OutcomeDenied:
		fmt.Printf("🚦 %s 未获准运行: %s\n", res.Stream, res.Decision)
	default:
		fmt.Printf("✅ %s %s, 窗口 %d, 游标 %s, %s\n", res.Stream, res.Outcome, res.Windows, cursor, res.Tally)
	}
}
