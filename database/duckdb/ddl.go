package duckdb

import (
	"fmt"
	"strings"

	"github.com/jing2uo/datascan/model"
)

// mapType 将通用 DataType 转换为 DuckDB 的 SQL 类型
func (d *DuckDBDriver) mapType(dt model.DataType) string {
	switch dt {
	case model.TypeString:
		return "VARCHAR"
	case model.TypeFloat64:
		return "DOUBLE"
	case model.TypeInt64:
		return "BIGINT"
	case model.TypeDate:
		return "DATE"
	case model.TypeDateTime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func (d *DuckDBDriver) createTableInternal(meta *model.TableMeta) error {
	var colDefs []string
	for _, col := range meta.Columns {
		colDefs = append(colDefs, fmt.Sprintf("%s %s", col.Name, d.mapType(col.Type)))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		meta.TableName, strings.Join(colDefs, ", "))
	if _, err := d.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", meta.TableName, err)
	}

	return nil
}
