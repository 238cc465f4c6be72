package migration

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/config"
	"github.com/elskow/ditzler/internal/database"
)

const dialect = "postgres"

// Migrator applies the goose SQL migrations under migrations/. It only manages
// postgres; the sqlite backend builds its schema with gorm AutoMigrate.
type Migrator struct {
	db  *sql.DB
	dir string
	log *zap.Logger
}

func NewMigrator(cfg *config.DatabaseConfig, log *zap.Logger) (*Migrator, error) {
	if cfg.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("goose migrations require the %s driver, got %q", config.DriverPostgres, cfg.Driver)
	}

	db, err := sql.Open(dialect, database.PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	dir, err := getMigrationsDir(cfg.MigrationsDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get migrations directory: %w", err)
	}

	return NewMigratorWithDB(db, dir, log)
}

// NewMigratorWithDB wraps an already opened postgres connection.
func NewMigratorWithDB(db *sql.DB, dir string, log *zap.Logger) (*Migrator, error) {
	if err := goose.SetDialect(dialect); err != nil {
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}
	return &Migrator{db: db, dir: dir, log: log}, nil
}

func (m *Migrator) Up(ctx context.Context) error {
	if err := goose.UpContext(ctx, m.db, m.dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (m *Migrator) Down(ctx context.Context) error {
	if err := goose.DownContext(ctx, m.db, m.dir); err != nil {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	return nil
}

// DownTo rolls back one migration at a time until version is reached.
func (m *Migrator) DownTo(ctx context.Context, version int64) error {
	current, err := m.Version(ctx)
	if err != nil {
		return err
	}

	for current > version {
		if err := goose.DownContext(ctx, m.db, m.dir); err != nil {
			return fmt.Errorf("failed to migrate down to version %d: %w", version, err)
		}
		if current, err = m.Version(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) Status(ctx context.Context) error {
	if err := goose.StatusContext(ctx, m.db, m.dir); err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	return nil
}

func (m *Migrator) Version(ctx context.Context) (int64, error) {
	return goose.GetDBVersionContext(ctx, m.db)
}

// LatestVersion returns the highest migration version found on disk.
func (m *Migrator) LatestVersion() (int64, error) {
	migrations, err := goose.CollectMigrations(m.dir, 0, goose.MaxVersion)
	if err != nil {
		return 0, err
	}
	if len(migrations) == 0 {
		return 0, nil
	}
	return migrations[len(migrations)-1].Version, nil
}

func (m *Migrator) Reset(ctx context.Context) error {
	if err := goose.ResetContext(ctx, m.db, m.dir); err != nil {
		return fmt.Errorf("failed to reset migrations: %w", err)
	}
	return m.Up(ctx)
}

// Sync moves the schema to the latest version on disk, in either direction.
func (m *Migrator) Sync(ctx context.Context) error {
	current, err := m.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	latest, err := m.LatestVersion()
	if err != nil {
		return fmt.Errorf("failed to get latest migration version: %w", err)
	}

	m.log.Info("Database migration status",
		zap.Int64("current_version", current),
		zap.Int64("latest_version", latest))

	switch {
	case current > latest:
		m.log.Info("Downgrading database schema",
			zap.Int64("from_version", current),
			zap.Int64("to_version", latest))
		return m.DownTo(ctx, latest)
	case current < latest:
		m.log.Info("Upgrading database schema",
			zap.Int64("from_version", current),
			zap.Int64("to_version", latest))
		return m.Up(ctx)
	}
	return nil
}

func (m *Migrator) Close() error {
	return m.db.Close()
}
