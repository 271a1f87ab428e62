// Package database opens the gorm connection used by the artwork service.
package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Open connects to the configured database and applies pool settings.
func Open(cfg config.DatabaseConfig, logger hclog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL())
	case "sqlite", "":
		path := cfg.DatabaseURL()
		if path == "" {
			return nil, fmt.Errorf("no sqlite database path configured")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := open(dialector, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("database initialized", "type", cfg.Type)
	return db, nil
}

func open(dialector gorm.Dialector, cfg config.DatabaseConfig, logger hclog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(cfg, logger)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// newGormLogger routes gorm output through hclog. Queries are only logged
// when asked for; slow queries and errors always are.
func newGormLogger(cfg config.DatabaseConfig, logger hclog.Logger) gormLogger.Interface {
	level := gormLogger.Warn
	if cfg.LogQueries {
		level = gormLogger.Info
	}

	out := logger.Named("gorm").StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})
	return gormLogger.New(log.New(out, "", 0), gormLogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Ping checks that the connection is alive.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
