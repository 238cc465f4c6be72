package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/auth"
	"github.com/elskow/ditzler/internal/config"
	"github.com/elskow/ditzler/internal/database"
	"github.com/elskow/ditzler/internal/metrics"
	"github.com/elskow/ditzler/internal/migration"
	"github.com/elskow/ditzler/internal/notify"
	"github.com/elskow/ditzler/internal/server"
)

func main() {
	command := flag.String("command", "up", "migration command (up/down/down-to/status/version/reset/seed-admin)")
	version := flag.Int64("version", 0, "target version for down-to")
	name := flag.String("name", "Administrator", "admin name for seed-admin")
	email := flag.String("email", "", "admin email for seed-admin")
	password := flag.String("password", "", "admin password for seed-admin")
	flag.Parse()

	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", "development")
	}

	logger, err := server.NewLogger(os.Getenv("APP_ENV"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load config
	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *command == "seed-admin" {
		if err := seedAdmin(ctx, cfg, logger, *name, *email, *password); err != nil {
			log.Fatalf("Failed to seed admin: %v", err)
		}
		log.Printf("Admin %s created", *email)
		return
	}

	// Create migrator
	migrator, err := migration.NewMigrator(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	// Run migration command
	switch *command {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Successfully ran migrations")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("Failed to rollback migrations: %v", err)
		}
		log.Println("Successfully rolled back migrations")

	case "down-to":
		if err := migrator.DownTo(ctx, *version); err != nil {
			log.Fatalf("Failed to rollback to version %d: %v", *version, err)
		}
		log.Printf("Successfully rolled back to version %d", *version)

	case "status":
		if err := migrator.Status(ctx); err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}

	case "version":
		current, err := migrator.Version(ctx)
		if err != nil {
			log.Fatalf("Failed to get migration version: %v", err)
		}
		log.Printf("Current migration version: %d", current)

	case "reset":
		if err := migrator.Reset(ctx); err != nil {
			log.Fatalf("Failed to reset migrations: %v", err)
		}
		log.Println("Successfully reset migrations")

	default:
		log.Fatalf("Unknown command: %s", *command)
	}
}

// seedAdmin creates the first Admin account. Registration only ever creates
// plain users.
func seedAdmin(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, name, email, password string) error {
	manager, err := database.NewManager(&cfg.Database, logger.Named("database"))
	if err != nil {
		return err
	}
	defer manager.Close()

	if cfg.Database.Driver == config.DriverSQLite {
		if err := manager.AutoMigrate(auth.Models()...); err != nil {
			return err
		}
	}

	svc := auth.NewService(
		cfg,
		logger.Named("auth"),
		auth.NewRepository(manager.DB()),
		auth.NewMemoryAttemptTracker(cfg.Auth.Lockout.Window),
		auth.NoopAnomalyChecker{},
		notify.NewLogMailer(logger),
		metrics.New(),
	)
	_, err = svc.CreateAdmin(ctx, name, email, password)
	return err
}
