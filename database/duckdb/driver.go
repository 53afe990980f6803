package duckdb

import (
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jmoiron/sqlx"

	"github.com/jing2uo/datascan/model"
)

type DuckDBDriver struct {
	dsn string
	db  *sqlx.DB
}

func NewDriver(cfg model.DBConfig) *DuckDBDriver {
	return &DuckDBDriver{dsn: cfg.DSN}
}

func (d *DuckDBDriver) Connect() error {
	db, err := sqlx.Open("duckdb", d.dsn)
	if err != nil {
		return err
	}
	// :memory: 每个连接是独立的库
	if d.dsn == "" || d.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("duckdb ping failed: %w", err)
	}

	d.db = db
	return nil
}

func (d *DuckDBDriver) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *DuckDBDriver) InitSchema() error {
	for _, t := range model.AllTables() {
		if err := d.createTableInternal(t); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.TableName, err)
		}
	}
	return nil
}
