package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/incidentflow/api/internal/config"
	"github.com/incidentflow/api/services"
	"github.com/incidentflow/api/workers"
)

func main() {
	log.Println("Starting workers...")

	configPath := os.Getenv("INCIDENTFLOW_CONFIG_PATH")
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

	// Set timezone to UTC for consistent time handling
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Printf("Failed to set timezone to UTC: %v", err)
	}
	log.Println("Connected to database")

	var rdb *redis.Client
	if config.App.RedisURL != "" {
		opts, err := redis.ParseURL(config.App.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	} else {
		log.Println("REDIS_URL not set, running without cross-replica scan lease")
	}

	// Initialize services
	userService := services.NewUserService(pg, rdb)
	emailService := services.NewEmailService(config.App.SMTP)
	fcmService := services.NewFCMService(config.App.FirebaseCredentialsFile)
	queueSender := services.NewQueueNotificationSender(pg)

	// Initialize workers
	slaWorker := workers.NewSLAWorker(pg, rdb, userService, queueSender, config.App.SLA)
	notificationWorker := workers.NewNotificationWorker(pg, emailService, fcmService, userService, config.App.Notify)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		slaWorker.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		notificationWorker.Start(ctx)
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	log.Println("Workers started. Press Ctrl+C to stop.")
	<-c

	log.Println("Shutting down workers...")
	cancel()
	wg.Wait()
}
