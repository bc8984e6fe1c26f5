package database

import (
	"errors"
	"fmt"

	"github.com/jinzhu/gorm"
	"github.com/lib/pq"           // PostgreSQL driver
	"github.com/mattn/go-sqlite3" // SQLite driver

	"expertgate/internal/models"
)

// Config selects the dialect and data source of the record store.
type Config struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
	LogMode bool   `yaml:"log_mode"`
}

// Open initializes the database connection
func Open(cfg Config) (*gorm.DB, error) {
	dialect := cfg.Dialect
	if dialect == "" {
		dialect = "sqlite3"
	}

	db, err := gorm.Open(dialect, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	// sqlite serializes writers; a single connection also keeps :memory: databases alive
	if dialect == "sqlite3" {
		db.DB().SetMaxOpenConns(1)
	}
	db.LogMode(cfg.LogMode)

	return db, nil
}

// Migrate creates or updates the tables of every persisted model
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.GroupMember{},
		&models.Evaluation{},
		&models.AgentRun{},
		&models.TestResult{},
		&models.AgentSharingApproval{},
		&models.AgentShare{},
	).Error
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a primary key or unique constraint failure
func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}
