// Package v2 opens the alerting database and applies its schema.
package v2

import (
	"fmt"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config selects the database backend.
type Config struct {
	Driver string
	DSN    string
	// Debug enables GORM SQL logging.
	Debug bool
}

// Manager owns the GORM handle.
type Manager struct {
	db     *gorm.DB
	driver string
}

// Models lists every table the alerting core persists, in migration order.
func Models() []any {
	return []any{
		&entities.AlertRule{},
		&entities.AlertCondition{},
		&entities.AlertHistory{},
		&entities.EscalationPolicy{},
		&entities.EscalationLevel{},
		&entities.Incident{},
		&entities.IncidentTimelineEvent{},
		&entities.NotificationPreference{},
	}
}

// Open connects to the configured database.
func Open(cfg Config) (*Manager, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, errors.Newf("unsupported database driver %q", cfg.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	logMode := gorm_logger.Silent
	if cfg.Debug {
		logMode = gorm_logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gorm_logger.Default.LogMode(logMode)})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("driver", cfg.Driver).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Driver == DriverMySQL {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	} else {
		// sqlite serializes writers anyway; one connection keeps in-memory DSNs coherent
		sqlDB.SetMaxOpenConns(1)
	}

	return &Manager{db: db, driver: cfg.Driver}, nil
}

// Initialize creates or migrates the schema.
func (m *Manager) Initialize() error {
	if err := m.db.AutoMigrate(Models()...); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}
	return nil
}

// DB returns the GORM handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Close releases the underlying connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
