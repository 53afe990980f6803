package model

import (
	"reflect"
	"strings"
	"sync"
	"time"
)

type DataType int

const (
	TypeString DataType = iota
	TypeFloat64
	TypeInt64
	TypeDate     // YYYY-MM-DD
	TypeDateTime // YYYY-MM-DD HH:MM:SS
)

type Column struct {
	Name string
	Type DataType
}

type TableMeta struct {
	TableName  string
	Columns    []Column
	OrderByKey []string
	// TimeColumn is the column range queries filter on.
	TimeColumn string
}

// HasColumn reports whether name is one of the table's columns.
func (t *TableMeta) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ColumnNames returns the column names in declaration order.
func (t *TableMeta) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

var (
	tableRegistry   []*TableMeta
	tableRegistryMu sync.Mutex
)

func registerTable(t *TableMeta) {
	tableRegistryMu.Lock()
	defer tableRegistryMu.Unlock()
	tableRegistry = append(tableRegistry, t)
}

// AllTables 返回当前所有已注册的表结构
func AllTables() []*TableMeta {
	tableRegistryMu.Lock()
	defer tableRegistryMu.Unlock()

	result := make([]*TableMeta, len(tableRegistry))
	copy(result, tableRegistry)
	return result
}

// SchemaFromStruct 通过反射生成 TableMeta 并自动注册
// orderByKey 的最后一列作为时间列
func SchemaFromStruct(tableName string, model interface{}, orderByKey []string) *TableMeta {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	var cols []Column

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		colName := field.Tag.Get("col")
		if colName == "-" {
			continue
		}
		if colName == "" {
			colName = strings.ToLower(field.Name)
		}

		var dType DataType
		customType := field.Tag.Get("type")
		switch {
		case customType == "date":
			dType = TypeDate
		case customType == "datetime":
			dType = TypeDateTime
		default:
			switch field.Type.Kind() {
			case reflect.String:
				dType = TypeString
			case reflect.Float64, reflect.Float32:
				dType = TypeFloat64
			case reflect.Int, reflect.Int64, reflect.Int32, reflect.Uint32:
				dType = TypeInt64
			case reflect.Struct:
				if field.Type == reflect.TypeOf(time.Time{}) {
					dType = TypeDateTime
				}
			default:
				dType = TypeString
			}
		}

		cols = append(cols, Column{Name: colName, Type: dType})
	}

	meta := &TableMeta{
		TableName:  tableName,
		Columns:    cols,
		OrderByKey: orderByKey,
	}
	if len(orderByKey) > 0 {
		meta.TimeColumn = orderByKey[len(orderByKey)-1]
	}

	registerTable(meta)

	return meta
}

// --- 表结构元数据 (TableMeta) ---

// 表名不区分大小写 (DuckDB)，因此 1m 和 1M 不能直接拼进表名
var (
	TableBarsDay   = SchemaFromStruct("stock_bars_day", Bar{}, []string{"code", "frame"})
	TableBarsWeek  = SchemaFromStruct("stock_bars_week", Bar{}, []string{"code", "frame"})
	TableBarsMonth = SchemaFromStruct("stock_bars_month", Bar{}, []string{"code", "frame"})
	TableBarsMin1  = SchemaFromStruct("stock_bars_min1", Bar{}, []string{"code", "frame"})
	TableBarsMin5  = SchemaFromStruct("stock_bars_min5", Bar{}, []string{"code", "frame"})
	TableBarsMin15 = SchemaFromStruct("stock_bars_min15", Bar{}, []string{"code", "frame"})
	TableBarsMin30 = SchemaFromStruct("stock_bars_min30", Bar{}, []string{"code", "frame"})
	TableBarsMin60 = SchemaFromStruct("stock_bars_min60", Bar{}, []string{"code", "frame"})

	TableSecurityList = SchemaFromStruct("security_list", Security{}, []string{"code", "start_date"})
)
