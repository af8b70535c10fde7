package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/logging"
	"github.com/behzadon/gather/internal/storage/postgres"
)

const (
	upMarker   = "-- Up Migration"
	downMarker = "-- Down Migration"
)

var (
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Create and run the postgres schema migrations for polls, options and votes.`,
	}

	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrateWithConfig("up")
		},
	}

	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Rollback the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrateWithConfig("down")
		},
	}

	migrateCreateCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return createMigration(GetConfig().Migration.Dir, args[0])
		},
	}
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateCreateCmd)
}

func migrateWithConfig(direction string) error {
	cfg := GetConfig()

	zapLogger, err := logging.NewZap(cfg.Server.Env)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	logger := logging.NewLogger(zapLogger)
	defer logger.Sync()

	db, err := postgres.Connect(cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer closeQuietly(logger, "database connection", db)

	return runMigrations(db.DB, cfg.Migration.Dir, direction, zapLogger)
}

func runMigrations(db *sql.DB, dir, direction string, logger *zap.Logger) error {
	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := getMigrationFiles(dir)
	if err != nil {
		return fmt.Errorf("get migration files: %w", err)
	}

	applied, err := getAppliedMigrations(db, logger)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	if direction == "up" {
		for _, file := range files {
			if !applied[filepath.Base(file)] {
				if err := runMigration(db, file, "up", logger); err != nil {
					return fmt.Errorf("run migration %s: %w", file, err)
				}
			}
		}
		return nil
	}

	var lastMigration string
	for _, file := range files {
		if applied[filepath.Base(file)] {
			lastMigration = file
		}
	}
	if lastMigration == "" {
		logger.Info("No migrations to rollback")
		return nil
	}

	if err := runMigration(db, lastMigration, "down", logger); err != nil {
		return fmt.Errorf("rollback migration %s: %w", lastMigration, err)
	}
	return nil
}

func createMigration(dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create migrations directory: %w", err)
	}

	now := time.Now().UTC()
	filename := fmt.Sprintf("%s_%s.sql", now.Format("20060102150405"), strings.ToLower(name))
	path := filepath.Join(dir, filename)

	content := fmt.Sprintf(`-- Migration: %s
-- Created at: %s

%s

%s
`, name, now.Format(time.RFC3339), upMarker, downMarker)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write migration file: %w", err)
	}

	fmt.Printf("Created migration: %s\n", path)
	return nil
}

func createMigrationsTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`
	_, err := db.Exec(query)
	return err
}

func getMigrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func getAppliedMigrations(db *sql.DB, logger *zap.Logger) (map[string]bool, error) {
	rows, err := db.Query(`SELECT name FROM schema_migrations ORDER BY applied_at`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", zap.Error(err))
		}
	}()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// splitMigration returns the up and down halves of a migration file.
func splitMigration(content string) (up, down string, err error) {
	parts := strings.Split(content, downMarker)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid migration file format: expected one %q marker", downMarker)
	}
	up = parts[0]
	if i := strings.Index(up, upMarker); i >= 0 {
		up = up[i+len(upMarker):]
	}
	return strings.TrimSpace(up), strings.TrimSpace(parts[1]), nil
}

func runMigration(db *sql.DB, filename string, direction string, logger *zap.Logger) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}

	upMigration, downMigration, err := splitMigration(string(content))
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			logger.Error("Failed to rollback transaction", zap.Error(err))
		}
	}()

	var migrationSQL string
	if direction == "up" {
		migrationSQL = upMigration
		_, err = tx.Exec("INSERT INTO schema_migrations (name) VALUES ($1)", filepath.Base(filename))
	} else {
		migrationSQL = downMigration
		_, err = tx.Exec("DELETE FROM schema_migrations WHERE name = $1", filepath.Base(filename))
	}
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	if migrationSQL != "" {
		if _, err := tx.Exec(migrationSQL); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	logger.Info("Executed migration",
		zap.String("direction", direction),
		zap.String("file", filepath.Base(filename)),
	)
	return nil
}
