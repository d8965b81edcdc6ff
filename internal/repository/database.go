package repository

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations
var migrationsFS embed.FS

// Supported database types.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the database and pings it. SQLite is limited to one
// connection so writers never see SQLITE_BUSY.
func Open(driver, dsn string, logger *zap.Logger) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database type %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	logger.Info("Successfully connected to the database", zap.String("type", driver))
	return db, nil
}

// Migrate applies the embedded migrations for db's driver.
func Migrate(db *sqlx.DB, logger *zap.Logger) error {
	var (
		driver database.Driver
		err    error
	)
	switch db.DriverName() {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	case DriverPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	default:
		return fmt.Errorf("unsupported database type %q", db.DriverName())
	}
	if err != nil {
		return fmt.Errorf("couldn't get database instance for running migrations: %w", err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+db.DriverName())
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("couldn't open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, db.DriverName(), driver)
	if err != nil {
		return fmt.Errorf("couldn't create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("couldn't run database migration: %w", err)
	}

	logger.Info("Database migration was run successfully", zap.String("type", db.DriverName()))
	return nil
}
