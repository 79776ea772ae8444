package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge/internal/config"
)

func InitDB(cfg config.DBConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// configure db
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	if cfg.PoolSize > 0 {
		sqlDB.SetMaxOpenConns(cfg.PoolSize)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}
