package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"qrattendance/internal/attendance"
	"qrattendance/internal/config"
	"qrattendance/internal/queue"
	"qrattendance/internal/store"
	"qrattendance/internal/worker"
)

// Worker consumes attendance events and logs closing summaries.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}
	if cfg.StoreBackend == "memory" {
		log.Fatalf("worker cannot read the api's in-memory store; set STORE_BACKEND to redis or postgres")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var st attendance.Store
	switch cfg.StoreBackend {
	case "redis":
		st = store.NewRedisStore(redisClient.Client, cfg.RedisPrefix)
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer db.Close()
		st = store.NewRepository(db.Client)
	}

	reports := attendance.NewReports(st, attendance.NewStudentDirectory(st), cfg.Location())
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	worker.New(reports, cfg.StoreTimeout).Run(ctx, messages)
	log.Println("worker stopped")
}
