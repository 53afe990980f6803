package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jing2uo/datascan/config"
	"github.com/jing2uo/datascan/cursor"
	"github.com/jing2uo/datascan/schedule"
)

func withCursors(cfg config.Config, fn func(cursor.Store) error) error {
	store, err := cursor.OpenSQLite(cfg.CursorDB)
	if err != nil {
		return fmt.Errorf("failed to open cursor store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// CursorGet prints the cursor of stream, or every cursor when stream is empty.
func CursorGet(ctx context.Context, cfg config.Config, stream string) error {
	return withCursors(cfg, func(store cursor.Store) error {
		keys := []string{}
		if stream == "" {
			var err error
			if keys, err = store.Keys(ctx, schedule.CursorPrefix+":"); err != nil {
				return err
			}
		} else {
			st, err := schedule.ParseStream(stream)
			if err != nil {
				return err
			}
			keys = append(keys, st.Key())
		}
		for _, key := range keys {
			v, ok, err := store.Get(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				v = "(未设置)"
			}
			fmt.Printf("%s\t%s\n", strings.TrimPrefix(key, schedule.CursorPrefix+":"), v)
		}
		return nil
	})
}

// CursorSet moves a cursor to date in either direction.
func CursorSet(ctx context.Context, cfg config.Config, stream, date string) error {
	st, err := schedule.ParseStream(stream)
	if err != nil {
		return err
	}
	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", date, err)
	}
	return withCursors(cfg, func(store cursor.Store) error {
		if err := store.Set(ctx, st.Key(), d.Format(time.DateOnly)); err != nil {
			return err
		}
		fmt.Printf("📌 %s 游标已设为 %s\n", st, d.Format(time.DateOnly))
		return nil
	})
}

// CursorReset drops a cursor so the next pass starts from the anchor.
func CursorReset(ctx context.Context, cfg config.Config, stream string) error {
	st, err := schedule.ParseStream(stream)
	if err != nil {
		return err
	}
	return withCursors(cfg, func(store cursor.Store) error {
		if err := store.Delete(ctx, st.Key()); err != nil {
			return err
		}
		fmt.Printf("🧹 %s 游标已清除\n", st)
		return nil
	})
}

// Issues prints the newest recorded unit failures.
func Issues(ctx context.Context, cfg config.Config, limit int) error {
	return withCursors(cfg, func(store cursor.Store) error {
		items, err := store.List(ctx, schedule.IssuesKey)
		if err != nil {
			return err
		}
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}
		for _, item := range items {
			fmt.Println(item)
		}
		return nil
	})
}
