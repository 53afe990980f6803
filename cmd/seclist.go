package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jing2uo/datascan/config"
	"github.com/jing2uo/datascan/database"
	"github.com/jing2uo/datascan/logx"
	"github.com/jing2uo/datascan/provider"
	"github.com/jing2uo/datascan/scan"
)

// SyncSecurities replaces the stored security list with the provider's full
// history, refusing lists smaller than the configured minimum universe.
func SyncSecurities(ctx context.Context, cfg config.Config) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	client := provider.New(cfg.Provider, provider.WithLogger(logx.New(cfg.LogLevel)))
	secs, err := client.Securities(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("failed to fetch security list: %w", err)
	}
	u := scan.NewUniverse(secs)
	if u.Len() < cfg.Scan.MinUniverse {
		return fmt.Errorf("only %d securities returned: %w", u.Len(), scan.ErrEmptyReference)
	}

	if err := db.ReplaceSecurities(ctx, secs); err != nil {
		return fmt.Errorf("failed to replace security list: %w", err)
	}
	fmt.Printf("🚀 证券列表已更新: 股票 %d, 指数 %d\n", u.Stocks.Len(), u.Indexes.Len())
	return nil
}
