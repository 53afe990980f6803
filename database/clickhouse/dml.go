package clickhouse

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jing2uo/datascan/database/sqlq"
	"github.com/jing2uo/datascan/model"
)

// importCSV 走 HTTP 接口批量导入, 比 native 协议逐行插入快得多
func (d *ClickHouseDriver) importCSV(ctx context.Context, meta *model.TableMeta, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	settings := url.Values{
		"date_time_input_format":            {"best_effort"},
		"input_format_csv_empty_as_default": {"1"},
	}
	query := fmt.Sprintf("INSERT INTO %s FORMAT CSVWithNames", meta.TableName)
	if err := d.http.exec(ctx, query, settings, file); err != nil {
		return fmt.Errorf("failed to import %s: %w", meta.TableName, err)
	}
	return nil
}

func (d *ClickHouseDriver) Query(ctx context.Context, q model.Query) ([]model.Bar, error) {
	meta, err := sqlq.Table(q.Frame)
	if err != nil {
		return nil, err
	}
	query, args, err := sqlq.SelectBars(meta, q)
	if err != nil {
		return nil, err
	}

	var rows []sqlq.BarRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", meta.TableName, err)
	}
	return sqlq.Bars(rows), nil
}

func (d *ClickHouseDriver) Codes(ctx context.Context, frame model.FrameType, r model.TimeRange) ([]string, error) {
	meta, err := sqlq.Table(frame)
	if err != nil {
		return nil, err
	}
	query, args := sqlq.SelectCodes(meta, r)

	var codes []string
	if err := d.db.SelectContext(ctx, &codes, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query codes of %s: %w", meta.TableName, err)
	}
	return codes, nil
}

// Delete 使用轻量删除, 删除后的行立即对查询不可见
func (d *ClickHouseDriver) Delete(ctx context.Context, frame model.FrameType, r model.TimeRange, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	meta, err := sqlq.Table(frame)
	if err != nil {
		return err
	}
	where, args, err := sqlq.Where(r, codes)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", meta.TableName, where)
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clickhouse delete from %s failed: %w", meta.TableName, err)
	}
	return nil
}

// Persist 先删后导, ClickHouse 没有跨语句事务, 导入失败时该范围保持为空
func (d *ClickHouseDriver) Persist(ctx context.Context, frame model.FrameType, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	meta, err := sqlq.Table(frame)
	if err != nil {
		return err
	}
	path, cleanup, err := sqlq.StageCSV(meta.TableName, bars)
	if err != nil {
		return err
	}
	defer cleanup()

	span, codes := sqlq.Span(bars)
	if err := d.Delete(ctx, frame, span, codes); err != nil {
		return err
	}
	return d.importCSV(ctx, meta, path)
}

func (d *ClickHouseDriver) Securities(ctx context.Context, date time.Time) ([]model.Security, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY code", model.TableSecurityList.TableName)

	var rows []sqlq.SecurityRow
	if err := d.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	return sqlq.ListedOn(rows, date), nil
}

func (d *ClickHouseDriver) ReplaceSecurities(ctx context.Context, secs []model.Security) error {
	meta := model.TableSecurityList
	path, cleanup, err := sqlq.StageCSV(meta.TableName, secs)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := d.truncateTable(ctx, meta); err != nil {
		return err
	}
	if len(secs) == 0 {
		return nil
	}
	return d.importCSV(ctx, meta, path)
}

func (d *ClickHouseDriver) truncateTable(ctx context.Context, meta *model.TableMeta) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := fmt.Sprintf("TRUNCATE TABLE IF EXISTS %s", meta.TableName)
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("clickhouse truncate via tcp failed: %w", err)
	}
	return nil
}

func (d *ClickHouseDriver) TradeDays(ctx context.Context) ([]time.Time, error) {
	query, args := sqlq.SelectTradeDays()

	var days []time.Time
	if err := d.db.SelectContext(ctx, &days, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query trade days: %w", err)
	}
	for i, t := range days {
		days[i] = model.Day(t)
	}
	return days, nil
}
