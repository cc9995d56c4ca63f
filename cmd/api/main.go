package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/config"
	"qrattendance/internal/handler"
	"qrattendance/internal/httpmiddleware"
	"qrattendance/internal/queue"
	"qrattendance/internal/store"
	"qrattendance/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// backend bundles the selected store with its health checks and cleanup.
type backend struct {
	store  attendance.Store
	redis  *store.Redis
	checks map[string]handler.HealthCheck
	close  func()
}

func openBackend(ctx context.Context, cfg config.App) (*backend, error) {
	b := &backend{checks: map[string]handler.HealthCheck{}, close: func() {}}
	needRedis := cfg.StoreBackend == "redis" || cfg.QueueBackend == "redis"
	if needRedis {
		b.redis = store.NewRedis(cfg.RedisAddr)
		b.checks["redis"] = b.redis.Healthy
	}

	switch cfg.StoreBackend {
	case "memory":
		log.Println("WARNING: STORE_BACKEND=memory, data is lost on restart")
		b.store = store.NewMemory()
	case "redis":
		b.store = store.NewRedisStore(b.redis.Client, cfg.RedisPrefix)
		log.Printf("store: redis at %s (prefix %q)", cfg.RedisAddr, cfg.RedisPrefix)
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.store = store.NewRepository(db.Client)
		b.checks["db"] = db.Healthy
		b.close = func() { _ = db.Close() }
		log.Println("store: postgres")
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if b.redis != nil {
		closeStore := b.close
		b.close = func() {
			closeStore()
			_ = b.redis.Close()
		}
	}
	return b, nil
}

func runHTTP(cfg config.App) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	be, err := openBackend(startCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer be.close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(be.redis.Client, cfg.QueueKey)
	}

	svc := attendance.NewService(be.store, attendance.Options{
		Timeout:  cfg.StoreTimeout,
		Location: cfg.Location(),
		Events:   q,
	})

	// No other process can read an in-memory queue, so consume it here.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.QueueBackend == "memory" {
		done, err := worker.New(svc.Reports, cfg.StoreTimeout).Start(workerCtx, q)
		if err != nil {
			return fmt.Errorf("start in-process worker: %w", err)
		}
		defer func() {
			stopWorker()
			<-done
		}()
		log.Println("queue: in-memory, consumed in process")
	}
	issuer := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey)
	h := handler.New(svc, issuer, cfg.StudentTokenTTL, cfg.Location(), be.checks)

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))

	// Security headers
	r.Use(securityHeaders())

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, httpmiddleware.BySubject)
	h.Register(r, limiter.GinMiddleware())

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s (store=%s, queue=%s)", cfg.HTTPPort, cfg.StoreBackend, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
