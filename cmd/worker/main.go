package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/resqhq/resq/internal/config"
	"github.com/resqhq/resq/services"
	"github.com/resqhq/resq/workers"
)

func main() {
	log.Println("[worker] starting")

	configPath := os.Getenv("RESQ_CONFIG_PATH")
	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if config.App.Datadog.AgentHost != "" {
		tracer.Start(
			tracer.WithService("resq-worker"),
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

	// Escalation timers and shift boundaries are computed in UTC.
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Printf("Failed to set timezone to UTC: %v", err)
	}
	log.Println("[worker] connected to database")

	identityService, err := services.NewIdentityServiceWithDB(config.App.DataDir, pg, config.App.InstanceID)
	if err != nil {
		log.Printf("[worker] failed to initialize identity service: %v", err)
	}
	relayService := services.NewCloudRelayService(identityService)
	fcmService, err := services.NewFCMService(pg, relayService)
	if err != nil {
		log.Printf("[worker] FCM disabled: %v", err)
	}
	slackService := services.NewSlackService(pg)
	oncallService := services.NewOnCallService(pg)

	notificationWorker := workers.NewNotificationWorker(pg, slackService, fcmService)

	// Escalations enqueue through PGMQ; the notification worker above drains
	// the same queue in this process.
	sender := services.NewLightweightNotificationSender(pg)
	escalationWorker := workers.NewEscalationWorker(pg, oncallService, sender)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		notificationWorker.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		escalationWorker.Start(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	log.Println("[worker] running, press Ctrl+C to stop")
	<-sig

	log.Println("[worker] shutting down")
	cancel()
	wg.Wait()
	log.Println("[worker] stopped")
}
