package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/resqhq/resq/internal/config"
	"github.com/resqhq/resq/internal/migrate"
)

var (
	migrationsPath string
	migrateDryRun  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply pending SQL migrations against DATABASE_URL.

Applied files are tracked in schema_migrations, so rerunning is safe.

Examples:
  resqctl migrate                        # Apply all pending migrations
  resqctl migrate --dry-run              # List pending migrations only
  resqctl migrate --path=./db/migrations # Custom migrations directory`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVar(&migrationsPath, "path", "migrations", "Path to the migrations directory")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "List pending migrations without applying them")
}

func runMigrate() error {
	if err := config.LoadConfig(os.Getenv("RESQ_CONFIG_PATH")); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if config.App.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	if err := pg.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	runner := &migrate.Runner{DB: pg, Dir: migrationsPath}

	if migrateDryRun {
		pending, err := runner.Pending()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending migrations")
			return nil
		}
		fmt.Printf("%d pending migrations:\n", len(pending))
		for _, name := range pending {
			fmt.Printf("  - %s\n", name)
		}
		return nil
	}

	applied, err := runner.Run()
	if err != nil {
		return fmt.Errorf("migration failed after %d applied: %w", applied, err)
	}
	fmt.Printf("Done, %d new migrations applied\n", applied)
	return nil
}
