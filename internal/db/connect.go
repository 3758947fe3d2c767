// Package db opens the site record store and migrates its schema.
package db

import (
	"fmt"
	"net"
	"strconv"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/zulandar/siteyard/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN from database settings.
func DSN(cfg config.DatabaseConfig) string {
	mc := mysqldriver.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.ParseTime = true
	return mc.FormatDSN()
}

// Connect opens a GORM connection for the configured driver.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(DSN(cfg))
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = "siteyard.db"
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", cfg.Driver, err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database with the schema migrated.
// Each call returns an isolated database.
func OpenMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open memory: %w", err)
	}
	// A single connection keeps every statement on the same in-memory database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open memory: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
