package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"riskcrash/internal/config"
	"riskcrash/internal/database"
	"riskcrash/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logger.Init(&logger.Options{
		Level:      logger.ParseLevel(os.Getenv("LOG_LEVEL")),
		TimeFormat: time.RFC3339,
	})

	command := os.Args[1]
	migrationsPath := getEnv("MIGRATIONS_PATH", "./migrations")

	if command == "create" {
		if len(os.Args) < 3 {
			logger.Fatal("Usage: migrate create <migration_name>")
		}
		createMigration(migrationsPath, os.Args[2])
		return
	}

	db := database.New()
	defer db.Close()

	switch command {
	case "up":
		logger.Info("Running migrations", "path", migrationsPath)
		if err := database.RunMigrations(db.DB(), migrationsPath); err != nil {
			logger.Fatal("Migration failed", "err", err)
		}
		logger.Info("Migrations completed")

	case "down":
		logger.Warn("Rolling back last migration", "path", migrationsPath)
		if err := database.RollbackMigration(db.DB(), migrationsPath); err != nil {
			logger.Fatal("Rollback failed", "err", err)
		}
		logger.Info("Rollback completed")

	case "version":
		version, dirty, err := database.GetMigrationVersion(db.DB(), migrationsPath)
		if err != nil {
			logger.Fatal("Failed to read migration version", "err", err)
		}
		if dirty {
			logger.Warn("Schema is dirty and needs manual intervention", "version", version)
		} else {
			logger.Info("Current schema", "version", version)
		}

	case "check":
		// Reports whether the configured ledger driver needs this tool at all.
		cfg, err := config.Load()
		if err != nil {
			logger.Fatal("Load config failed", "err", err)
		}
		if cfg.Store.Driver != config.StoreDriverPostgres {
			logger.Info("Ledger driver does not use Postgres migrations", "driver", cfg.Store.Driver)
			return
		}
		health := db.Health()
		logger.Info("Database reachable", "status", health["status"], "message", health["message"])

	default:
		logger.Error("Unknown command", "command", command)
		printUsage()
		os.Exit(1)
	}
}

// createMigration writes an empty up/down pair numbered after the highest
// existing version.
func createMigration(dir, name string) {
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		logger.Fatal("Failed to read migrations directory", "err", err)
	}

	nextVersion := 1
	for _, f := range files {
		var v int
		if _, err := fmt.Sscanf(filepath.Base(f), "%06d_", &v); err == nil && v >= nextVersion {
			nextVersion = v + 1
		}
	}

	upFile := filepath.Join(dir, fmt.Sprintf("%06d_%s.up.sql", nextVersion, name))
	downFile := filepath.Join(dir, fmt.Sprintf("%06d_%s.down.sql", nextVersion, name))

	upContent := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n", name, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(upFile, []byte(upContent), 0644); err != nil {
		logger.Fatal("Failed to create up migration", "err", err)
	}
	downContent := fmt.Sprintf("-- Rollback: %s\n\n", name)
	if err := os.WriteFile(downFile, []byte(downContent), 0644); err != nil {
		logger.Fatal("Failed to create down migration", "err", err)
	}

	logger.Info("Created migration files", "up", upFile, "down", downFile)
}

func printUsage() {
	fmt.Println("Ledger Migration Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate up              Run all pending migrations")
	fmt.Println("  migrate down            Rollback the last migration")
	fmt.Println("  migrate version         Show current migration version")
	fmt.Println("  migrate check           Check connectivity for the configured ledger")
	fmt.Println("  migrate create <name>   Create a new migration file")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  BLUEPRINT_DB_HOST       Database host")
	fmt.Println("  BLUEPRINT_DB_PORT       Database port")
	fmt.Println("  BLUEPRINT_DB_DATABASE   Database name")
	fmt.Println("  BLUEPRINT_DB_USERNAME   Database user")
	fmt.Println("  BLUEPRINT_DB_PASSWORD   Database password")
	fmt.Println("  MIGRATIONS_PATH         Path to migrations (default: ./migrations)")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
