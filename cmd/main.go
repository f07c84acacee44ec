/**
 * @description
 * This is the main entry point for the booking-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the core
 * application services, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: Schedule for the stale-checkout sweep.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/checkout: Client for the payment provider's checkout API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coursekit/booking-service/internal/api"
	"github.com/coursekit/booking-service/internal/app"
	"github.com/coursekit/booking-service/internal/config"
	"github.com/coursekit/booking-service/internal/store"
	"github.com/coursekit/booking-service/pkg/checkout"
	"github.com/coursekit/booking-service/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.CheckoutWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook secret must be configured\" env=CHECKOUT_WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting booking-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Pool sizing for launch-day booking spikes; every request shares this pool.
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish booking lifecycle events.
	// The broker being down degrades notifications, never bookings.
	var eventProducer rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the payment provider's checkout API.
	checkoutClient := checkout.NewClient(
		cfg.CheckoutAPIBaseURL,
		cfg.CheckoutAPIKey,
		time.Duration(cfg.CheckoutTimeoutSeconds)*time.Second,
	)

	// Optional Redis-backed rate limiting for booking creation.
	var redisClient *redis.Client
	if cfg.BookingRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; booking rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; booking rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; booking rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application services with their dependencies.
	bookingService := app.NewService(
		repository,
		checkoutClient,
		eventProducer,
		cfg.BookingEventExchange,
		cfg.Currency,
		cfg.CheckoutSuccessURL,
		cfg.CheckoutCancelURL,
		time.Duration(cfg.CheckoutTimeoutSeconds)*time.Second,
	)
	if redisClient != nil {
		bookingService.SetBookingRateLimiter(
			app.NewRedisBookingRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.BookingRateLimitPerMinute,
		)
	}

	settlementProcessor := app.NewSettlementProcessor(repository, eventProducer, cfg.BookingEventExchange)

	// Initialize the API handlers and router.
	bookingHandlers := api.NewBookingHandlers(bookingService, settlementProcessor, cfg.CheckoutWebhookSecret)
	router := api.BookingRoutes(bookingHandlers, cfg.JWKSURL, cfg.AllowedOriginList())

	// Optional stale-checkout sweep: only scheduled when a cron expression is
	// configured, since lost provider events are the exception, not the rule.
	var sweepCron *cron.Cron
	if schedule := strings.TrimSpace(cfg.StaleCheckoutSweepCron); schedule != "" {
		sweeper := app.NewStaleCheckoutSweeper(
			repository,
			eventProducer,
			cfg.BookingEventExchange,
			time.Duration(cfg.StaleCheckoutTTLMinutes)*time.Minute,
		)
		sweepCron = cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))))
		if _, err := sweepCron.AddFunc(schedule, sweeper.Run); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"invalid sweep schedule\" schedule=%q err=%v", schedule, err)
		}
		sweepCron.Start()
		log.Printf("level=info component=bootstrap msg=\"stale checkout sweep scheduled\" schedule=%q ttl_minutes=%d", schedule, cfg.StaleCheckoutTTLMinutes)
	}

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	if sweepCron != nil {
		<-sweepCron.Stop().Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
