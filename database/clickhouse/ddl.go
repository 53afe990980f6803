package clickhouse

import (
	"fmt"
	"strings"

	"github.com/jing2uo/datascan/model"
)

// mapType 针对 ClickHouse 进行类型优化. 行情字段可缺失, 用 Nullable
func (d *ClickHouseDriver) mapType(colName string, dt model.DataType) string {
	switch dt {
	case model.TypeString:
		if colName == "code" || colName == "type" {
			return "LowCardinality(String)"
		}
		return "String"
	case model.TypeFloat64:
		return "Nullable(Float64)"
	case model.TypeInt64:
		return "Int64"
	case model.TypeDate:
		return "Nullable(Date32)"
	case model.TypeDateTime:
		// 存墙上时间, 不做时区换算
		return "DateTime64(0, 'UTC')"
	default:
		return "String"
	}
}

func (d *ClickHouseDriver) createTableInternal(meta *model.TableMeta) error {
	var colDefs []string
	for _, col := range meta.Columns {
		colDefs = append(colDefs, fmt.Sprintf("%s %s", col.Name, d.mapType(col.Name, col.Type)))
	}

	// OrderByKey 里的列不能是 Nullable
	orderBy := "tuple()"
	if keys := d.sortKeys(meta); len(keys) > 0 {
		orderBy = fmt.Sprintf("(%s)", strings.Join(keys, ", "))
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s
		) ENGINE = MergeTree()
		ORDER BY %s
	`, meta.TableName, strings.Join(colDefs, ", "), orderBy)

	_, err := d.db.Exec(query)
	return err
}

func (d *ClickHouseDriver) sortKeys(meta *model.TableMeta) []string {
	var keys []string
	for _, k := range meta.OrderByKey {
		for _, c := range meta.Columns {
			if c.Name == k && c.Type != model.TypeFloat64 && c.Type != model.TypeDate {
				keys = append(keys, k)
			}
		}
	}
	return keys
}
