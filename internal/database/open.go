package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	// DriverSQLite selects the pure-Go SQLite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the PostgreSQL driver.
	DriverPostgres = "postgres"

	sqliteForeignKeysPragma = "_pragma=foreign_keys(1)"
)

var (
	// ErrUnsupportedDriver indicates a driver name outside DriverSQLite and DriverPostgres.
	ErrUnsupportedDriver = errors.New("database: unsupported driver")
	errMissingDSN        = errors.New("database: dsn is required")
)

// Open establishes a connection without touching the schema. PostgreSQL
// connections skip the initial ping so an unreachable server is reported by
// the reachability probe instead of failing startup.
func Open(driver string, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errMissingDSN
	}

	var (
		dialector gorm.Dialector
		config    = &gorm.Config{}
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		dialector = sqlite.Open(withForeignKeys(dsn))
	case DriverPostgres:
		dialector = postgres.Open(dsn)
		config.DisableAutomaticPing = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, err
	}

	if db.Dialector.Name() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if logger != nil {
		logger.Debug("database opened", zap.String("driver", db.Dialector.Name()))
	}
	return db, nil
}

// OpenLocal opens the local store and brings its schema to the current version.
func OpenLocal(ctx context.Context, driver string, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := Open(driver, dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := NewMigrator(db, logger).MigrateTo(ctx); err != nil {
		_ = Close(db)
		return nil, err
	}
	if logger != nil {
		logger.Info("local database initialized", zap.String("driver", db.Dialector.Name()))
	}
	return db, nil
}

// Close releases the pooled connections behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqliteForeignKeysPragma
	}
	return dsn + "?" + sqliteForeignKeysPragma
}
