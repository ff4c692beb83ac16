package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	tp, err := initTracer(cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	mp, err := initMetrics(cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down meter: %v", err)
		}
	}()

	// Initialize database
	dbPool, err := initDB(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbPool.Close()

	// Redis (opcional): cache da feature e canal de eventos
	var (
		events    EventPublisher = NoopEventPublisher{}
		flagCache FlagCache
	)
	if cfg.Redis.Enabled() {
		rdb := initRedis(ctx, cfg.Redis)
		defer rdb.Close()

		flagCache = NewRedisFlagCache(rdb)

		publisher := NewRedisEventPublisher(rdb, cfg.Redis.EventsChannel, cfg.Redis.EventsBuffer)
		go publisher.Run(ctx)
		events = publisher

		if cfg.Payment.NotificationsEnabled {
			worker := NewNotificationWorker(rdb, cfg.Redis.EventsChannel, initNotifier(ctx, cfg.Payment))
			go worker.Run(ctx)
		}
	} else {
		log.Println("⚠️ REDIS_ADDR not set: feature cache and wallet events disabled")
	}

	lookup, err := initPaymentLookup(cfg.Payment)
	if err != nil {
		log.Fatalf("Failed to initialize payment provider: %v", err)
	}

	// Initialize dependencies
	repository := NewWalletRepository(dbPool)
	ledger := NewLedgerUseCase(repository)
	gate := NewFeatureGate(repository, flagCache, cfg.FeatureCacheTTL)
	webhooks := NewWebhookUseCase(ledger, repository, lookup, events, cfg.Payment.LookupTimeout)
	reservations := NewReservationUseCase(ledger, repository, gate, events, cfg.ReservationDedupWindow)
	tracer := tp.Tracer(cfg.Telemetry.ServiceName)
	handler := NewWalletHandler(ledger, reservations, webhooks, gate, tracer, cfg.Payment.WebhookSecret)

	if cfg.Worker.ReprocessEnabled {
		worker := NewReprocessWorker(webhooks, repository, cfg.Worker)
		go worker.Run(ctx)
	}

	router := newRouter(handler, cfg)

	log.Printf("🚀 Wallet Service listening on port %s", cfg.Server.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down wallet service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
}

// newRouter registra as rotas públicas, autenticadas e administrativas
func newRouter(handler *WalletHandler, cfg *Config) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))

	// Health check
	r.GET("/health", handler.HealthCheck)

	limiter := NewIPRateLimiter(rate.Limit(cfg.Server.WebhookRateLimit), cfg.Server.WebhookRateBurst)
	r.POST("/api/webhooks/pagamentos", RateLimitMiddleware(limiter), handler.PaymentWebhook)

	r.GET("/api/features/caixinha", handler.FeatureStatus)

	wallet := r.Group("/api/wallet", AuthMiddleware(cfg.Auth.JWTSecret))
	wallet.POST("/reservas", handler.Reserve)
	wallet.GET("/saldo", handler.GetBalance)
	wallet.GET("/extrato", handler.GetStatement)

	admin := r.Group("/api/admin", AuthMiddleware(cfg.Auth.JWTSecret), AdminOnly())
	admin.POST("/wallets", handler.CreateWallet)
	admin.POST("/wallets/:id/bloquear", handler.BlockWallet)
	admin.POST("/wallets/:id/desbloquear", handler.UnblockWallet)
	admin.GET("/wallets/:id/consistencia", handler.CheckConsistency)
	admin.POST("/recargas/:id/reprocessar", handler.ReprocessRecharge)

	return r
}

func initDB(ctx context.Context, cfg DatabaseConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	if err := waitForDB(ctx, pool.Ping, 30, time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	log.Println("✅ Connected to wallet database with connection pool")
	return pool, nil
}

// waitForDB tenta o ping até attempts vezes; o cancelamento do ctx interrompe a espera
func waitForDB(ctx context.Context, ping func(context.Context) error, attempts int, interval time.Duration) error {
	for i := 0; i < attempts; i++ {
		if err := ping(ctx); err == nil {
			return nil
		}
		log.Printf("⏳ Waiting for database... (%d/%d)", i+1, attempts)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for database: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("failed to connect to database after %d attempts", attempts)
}

func initRedis(ctx context.Context, cfg RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// segue sem falhar: cache e eventos são best-effort
		log.Printf("⚠️ Redis unavailable at %s: %v", cfg.Addr, err)
	} else {
		log.Println("✅ Connected to Redis")
	}
	return rdb
}

func initNotifier(ctx context.Context, cfg PaymentConfig) Notifier {
	if cfg.FirebaseCredentials == "" {
		return LogNotifier{}
	}
	notifier, err := NewFCMNotifier(ctx, cfg.FirebaseCredentials)
	if err != nil {
		log.Printf("⚠️ FCM disabled: %v", err)
		return LogNotifier{}
	}
	return notifier
}

func initPaymentLookup(cfg PaymentConfig) (PaymentLookup, error) {
	switch cfg.Provider {
	case "mercadopago":
		return NewMercadoPagoClient(cfg.MercadoPagoBaseURL, cfg.MercadoPagoToken, cfg.LookupTimeout), nil
	case "midtrans":
		return NewMidtransClient(cfg.MidtransServerKey, cfg.MidtransProduction, cfg.LookupTimeout), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// newResource identifica o serviço nos traces e nas métricas
func newResource(ctx context.Context, cfg TelemetryConfig) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
}

func initTracer(cfg TelemetryConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(cfg TelemetryConfig) (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}
