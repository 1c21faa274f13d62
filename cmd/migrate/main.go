package main

import (
	"database/sql"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/resqhq/resq/internal/config"
	"github.com/resqhq/resq/internal/migrate"
)

// Applies every .sql file under the migrations directory in filename order,
// recording applied files in schema_migrations so reruns are safe.
func main() {
	configPath := os.Getenv("RESQ_CONFIG_PATH")
	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if config.App.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	dir := os.Getenv("RESQ_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	runner := &migrate.Runner{DB: pg, Dir: dir}
	applied, err := runner.Run()
	if err != nil {
		log.Fatalf("Migration failed after %d applied: %v", applied, err)
	}

	log.Printf("[migrate] done, %d new migrations applied", applied)
}
