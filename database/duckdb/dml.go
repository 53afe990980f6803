package duckdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jing2uo/datascan/database/sqlq"
	"github.com/jing2uo/datascan/model"
)

func (d *DuckDBDriver) importCSV(ctx context.Context, tx *sqlx.Tx, meta *model.TableMeta, csvPath string) error {
	var colMaps []string
	for _, col := range meta.Columns {
		colMaps = append(colMaps, fmt.Sprintf("'%s': '%s'", col.Name, d.mapType(col.Type)))
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		SELECT * FROM read_csv('%s',
			header=true,
			columns={%s},
			dateformat='%%Y-%%m-%%d',
			timestampformat='%%Y-%%m-%%d %%H:%%M:%%S'
		)
	`, meta.TableName, csvPath, strings.Join(colMaps, ", "))

	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to import into %s: %w", meta.TableName, err)
	}
	return nil
}

func (d *DuckDBDriver) Query(ctx context.Context, q model.Query) ([]model.Bar, error) {
	meta, err := sqlq.Table(q.Frame)
	if err != nil {
		return nil, err
	}
	query, args, err := sqlq.SelectBars(meta, q)
	if err != nil {
		return nil, err
	}

	var rows []sqlq.BarRow
	if err := d.db.SelectContext(ctx, &rows, d.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", meta.TableName, err)
	}
	return sqlq.Bars(rows), nil
}

func (d *DuckDBDriver) Codes(ctx context.Context, frame model.FrameType, r model.TimeRange) ([]string, error) {
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

func (d *DuckDBDriver) Delete(ctx context.Context, frame model.FrameType, r model.TimeRange, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	meta, err := sqlq.Table(frame)
	if err != nil {
		return err
	}
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := d.deleteRange(ctx, tx, meta, r, codes); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DuckDBDriver) deleteRange(ctx context.Context, tx *sqlx.Tx, meta *model.TableMeta, r model.TimeRange, codes []string) error {
	where, args, err := sqlq.Where(r, codes)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", meta.TableName, where)
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("duckdb delete from %s failed: %w", meta.TableName, err)
	}
	return nil
}

func (d *DuckDBDriver) Persist(ctx context.Context, frame model.FrameType, bars []model.Bar) error {
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
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := d.deleteRange(ctx, tx, meta, span, codes); err != nil {
		return err
	}
	if err := d.importCSV(ctx, tx, meta, path); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DuckDBDriver) Securities(ctx context.Context, date time.Time) ([]model.Security, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY code", model.TableSecurityList.TableName)

	var rows []sqlq.SecurityRow
	if err := d.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	return sqlq.ListedOn(rows, date), nil
}

func (d *DuckDBDriver) ReplaceSecurities(ctx context.Context, secs []model.Security) error {
	meta := model.TableSecurityList
	path, cleanup, err := sqlq.StageCSV(meta.TableName, secs)
	if err != nil {
		return err
	}
	defer cleanup()

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", meta.TableName)); err != nil {
		return fmt.Errorf("duckdb truncate failed: %w", err)
	}
	if len(secs) > 0 {
		if err := d.importCSV(ctx, tx, meta, path); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DuckDBDriver) TradeDays(ctx context.Context) ([]time.Time, error) {
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
