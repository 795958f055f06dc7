/**
 * @description
 * This is the main entry point for the escrow-service. It loads configuration,
 * connects the order store, the event producer and the optional Redis rate
 * limiter, builds the escrow application service, starts the in-process
 * auto-release scheduler and serves the HTTP API until a termination signal.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: For the checkout and pay rate limiter.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/escrow-service/internal/api"
	"github.com/transfa/escrow-service/internal/app"
	"github.com/transfa/escrow-service/internal/config"
	"github.com/transfa/escrow-service/internal/store"
	"github.com/transfa/escrow-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	log.Printf("level=info component=bootstrap msg=\"starting escrow-service\" port=%s store=%s", cfg.ServerPort, cfg.Store)

	var repository store.Repository
	if cfg.UsesMemoryStore() {
		log.Println("level=warn component=bootstrap msg=\"using in-memory store; data is lost on restart\"")
		repository = store.NewMemoryRepository()
	} else {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 100
		poolConfig.MinConns = 20
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		// Disable prepared statement caching to prevent conflicts behind poolers.
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()
		log.Println("level=info component=bootstrap msg=\"database connected\"")
		repository = store.NewPostgresRepository(dbpool)
	}

	var producer rabbitmq.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; order events disabled\" env=RABBITMQ_URL")
	} else if eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	service := app.NewService(repository, producer, app.Settings{
		PlatformFeePercent:         cfg.PlatformFeePercent,
		AutoReleaseAfter:           time.Duration(cfg.AutoReleaseDays) * 24 * time.Hour,
		DefaultDeliveryDays:        cfg.DefaultDeliveryDays,
		Currency:                   cfg.Currency,
		AutoReleaseBatchSize:       cfg.AutoReleaseBatchSize,
		EventsExchange:             cfg.EventsExchange,
		CheckoutRateLimitPerMinute: cfg.CheckoutRateLimitPerMinute,
		PayRateLimitPerMinute:      cfg.PayRateLimitPerMinute,
	})

	rateLimitingEnabled := cfg.CheckoutRateLimitPerMinute > 0 || cfg.PayRateLimitPerMinute > 0
	if rateLimitingEnabled {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				service.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	var scheduler *app.Scheduler
	if cfg.AutoReleaseEnabled {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "auto_release_scheduler")
		jobs := app.NewJobs(service, logger, 4*time.Minute)
		scheduler = app.NewScheduler(jobs, logger, cfg.AutoReleaseSchedule)
		if err := scheduler.Start(); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"auto-release scheduler start failed\" err=%v", err)
		}
	} else {
		log.Println("level=warn component=bootstrap msg=\"auto-release scheduler disabled\" env=AUTO_RELEASE_ENABLED")
	}

	router := api.NewRouter(api.NewHandler(service), cfg.ClerkJWKSURL, cfg.InternalAPIKey, service.Metrics().Handler())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
			log.Println("level=warn component=bootstrap msg=\"auto-release sweep still running at shutdown\"")
		}
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
