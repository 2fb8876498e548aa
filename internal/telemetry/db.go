package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DBConfig holds the database configuration.
type DBConfig struct {
	Logger *slog.Logger

	// Driver selects the engine: DriverSQLite or DriverPostgres.
	Driver string

	// Path is the SQLite database file, or ":memory:".
	Path string

	// PostgreSQL connection
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int
}

func (cfg *DBConfig) validate() error {
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.Path == "" {
			return errors.New("sqlite path cannot be empty")
		}
	case DriverPostgres:
		if cfg.Host == "" {
			return errors.New("database host cannot be empty")
		}
		if cfg.Port <= 0 {
			return errors.New("database port must be positive")
		}
		if cfg.User == "" {
			return errors.New("database user cannot be empty")
		}
		if cfg.DBName == "" {
			return errors.New("database name cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	return nil
}

func (cfg *DBConfig) dialector() gorm.Dialector {
	if cfg.Driver == DriverSQLite {
		return sqlite.Open(fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", cfg.Path))
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
	return postgres.Open(dsn)
}

// NewDB opens the telemetry database and migrates the schema.
func NewDB(cfg *DBConfig) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.New("database config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.Logger.Info("connecting to database",
		"driver", cfg.Driver,
		"path", cfg.Path,
		"host", cfg.Host,
		"port", cfg.Port,
		"dbname", cfg.DBName,
	)

	db, err := gorm.Open(cfg.dialector(), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// One connection: SQLite has a single writer, and an in-memory database lives only as
		// long as its connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cfg.Logger.Info("database connection established")

	if err := runMigrations(db, cfg.Logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *gorm.DB, logger *slog.Logger) error {
	logger.Info("running database migrations")

	if err := db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	logger.Info("database migrations completed successfully")
	return nil
}

// CloseDB closes the database connection.
func CloseDB(db *gorm.DB, logger *slog.Logger) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	logger.Info("closing database connection")
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	logger.Info("database connection closed")
	return nil
}
