package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/resqhq/resq/internal/config"
	"github.com/resqhq/resq/router"
)

func main() {
	configPath := os.Getenv("RESQ_CONFIG_PATH")
	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if config.App.Datadog.AgentHost != "" {
		tracer.Start(
			tracer.WithService("resq-api"),
			tracer.WithEnv(config.App.Datadog.Env),
			tracer.WithServiceVersion(config.App.Datadog.Version),
			tracer.WithAgentAddr(config.App.Datadog.AgentHost+":8126"),
		)
		defer tracer.Stop()
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
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Printf("Failed to set timezone to UTC: %v", err)
	}
	log.Println("[server] connected to database")

	var redisClient *redis.Client
	if config.App.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: config.App.RedisAddr})
		log.Printf("[server] using Redis at %s", config.App.RedisAddr)
	}

	// Escalation and notification workers run in the separate worker binary.
	r := router.NewGinRouter(pg, redisClient, nil)

	addr := ":" + config.App.Port
	log.Printf("[server] listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
