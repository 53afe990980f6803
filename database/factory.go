package database

import (
	"fmt"
	"net/url"

	"github.com/jing2uo/datascan/database/clickhouse"
	"github.com/jing2uo/datascan/database/duckdb"
	"github.com/jing2uo/datascan/model"
)

func NewDatabase(cfg model.DBConfig) (DataRepository, error) {
	switch cfg.Type {
	case model.DBTypeDuckDB:
		return duckdb.NewDriver(cfg), nil
	case model.DBTypeClickHouse:
		u, err := url.Parse(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid clickhouse dsn: %w", err)
		}
		return clickhouse.NewClickHouseDriver(u)
	default:
		return nil, fmt.Errorf("unsupported db type: %s", cfg.Type)
	}
}

// Open builds the driver, connects and makes sure the tables exist.
func Open(cfg model.DBConfig) (DataRepository, error) {
	db, err := NewDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Type, err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return db, nil
}
