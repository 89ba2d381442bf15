/**
 * @description
 * This is the main entry point for the payment-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/payoutclient, pkg/waclient: Clients for the payout provider and messaging gateway.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/pasarkita/payment-service/internal/api"
	"github.com/pasarkita/payment-service/internal/app"
	"github.com/pasarkita/payment-service/internal/config"
	"github.com/pasarkita/payment-service/internal/store"
	"github.com/pasarkita/payment-service/pkg/payoutclient"
	rmrabbit "github.com/pasarkita/payment-service/pkg/rabbitmq"
	"github.com/pasarkita/payment-service/pkg/waclient"
)

func main() {
	// Load the optional .env file before viper reads the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\".env file not found; using environment values\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.GatewayServerKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway server key must be configured\" env=GATEWAY_SERVER_KEY")
	}
	if strings.TrimSpace(cfg.OperatorJWTSecret) == "" && strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"operator auth must be configured\" env=OPERATOR_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for callback bursts after gateway outages
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
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

	// Initialize the RabbitMQ producer to publish settlement events. A broker
	// outage degrades to the no-op fallback instead of blocking startup.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.PaymentEventExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the external API clients.
	payoutClient := payoutclient.NewClient(cfg.PayoutAPIBaseURL, cfg.PayoutAPIKey)
	messagingClient := waclient.NewClient(cfg.MessagingAPIBaseURL, cfg.MessagingAPIKey)

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; distributed otp rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; distributed otp rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; distributed otp rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Ensure required tables exist (idempotent)
	if _, err := dbpool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS merchants (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            name TEXT NOT NULL,
            balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS topup_requests (
            id TEXT PRIMARY KEY,
            merchant_id UUID NOT NULL REFERENCES merchants(id),
            amount BIGINT NOT NULL CHECK (amount > 0),
            status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved')),
            processed_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS ledger_entries (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            merchant_id UUID NOT NULL REFERENCES merchants(id),
            type TEXT NOT NULL,
            amount BIGINT NOT NULL,
            balance_after BIGINT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS idx_ledger_entries_merchant_created
            ON ledger_entries (merchant_id, created_at DESC);
        CREATE TABLE IF NOT EXISTS payout_requests (
            id UUID PRIMARY KEY,
            idempotency_key TEXT NOT NULL UNIQUE,
            merchant_id UUID NOT NULL REFERENCES merchants(id),
            beneficiary_name TEXT NOT NULL,
            beneficiary_account TEXT NOT NULL,
            beneficiary_bank TEXT NOT NULL,
            amount BIGINT NOT NULL,
            reference_order_id TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'created',
            provider_ref TEXT,
            provider_status TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS otp_records (
            id UUID PRIMARY KEY,
            phone TEXT NOT NULL,
            code TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS idx_otp_records_phone_created
            ON otp_records (phone, created_at DESC);
    `); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"failed ensuring tables (may already exist)\" err=%v", err)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	paymentService := app.NewService(
		repository,
		app.NewSignatureVerifier(cfg.GatewayServerKey),
		payoutClient,
		messagingClient,
		producer,
		cfg.OtpRequestLimit,
		time.Duration(cfg.OtpRequestWindowMin)*time.Minute,
	)
	if redisClient != nil {
		paymentService.SetOtpRateLimiter(
			app.NewRedisOtpRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
		)
	}

	// Initialize the API handlers.
	paymentHandlers := api.NewPaymentHandlers(paymentService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/payments", api.PaymentRoutes(paymentHandlers, cfg.OperatorJWTSecret, cfg.InternalAPIKey, cfg.CORSAllowedOrigins()))

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
