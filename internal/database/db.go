// Package database opens the backing store and keeps its schema current.
package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/steelhaus/shopsync/internal/actors"
	"github.com/steelhaus/shopsync/internal/events"
	"github.com/steelhaus/shopsync/internal/oplog"
	"github.com/steelhaus/shopsync/internal/outbox"
	"github.com/steelhaus/shopsync/internal/records"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Settings selects the backing engine. SQLite serves single-host
// deployments, Postgres shared ones.
type Settings struct {
	Driver string
	Path   string
	DSN    string
}

// Open establishes the datastore connection and performs schema migrations.
func Open(settings Settings, logger *zap.Logger) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	switch settings.Driver {
	case DriverSQLite:
		if settings.Path == "" {
			return nil, fmt.Errorf("database path is required for the sqlite driver")
		}
		db, err = gorm.Open(sqlite.Open(settings.Path), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return nil, sqlErr
		}
		// SQLite serializes writers; a single connection avoids lock errors.
		sqlDB.SetMaxOpenConns(1)
	case DriverPostgres:
		if settings.DSN == "" {
			return nil, fmt.Errorf("database dsn is required for the postgres driver")
		}
		db, err = gorm.Open(postgres.Open(settings.DSN), &gorm.Config{})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", settings.Driver)
	}

	if err := db.AutoMigrate(
		&records.Job{},
		&records.Submittal{},
		&oplog.SyncOperation{},
		&oplog.SyncLogEntry{},
		&events.DomainEvent{},
		&outbox.OutboxItem{},
		&actors.Actor{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", settings.Driver))
	}

	return db, nil
}
