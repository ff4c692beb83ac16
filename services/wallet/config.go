package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config agrega a configuração do serviço, lida do ambiente (e de .env, se existir)
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Payment   PaymentConfig
	Auth      AuthConfig
	Worker    WorkerConfig
	Telemetry TelemetryConfig

	FeatureCacheTTL        time.Duration
	ReservationDedupWindow time.Duration
}

type ServerConfig struct {
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	WebhookRateLimit float64
	WebhookRateBurst int
}

type DatabaseConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// DSN monta a URL no formato aceito pelo pgxpool
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode, d.MaxConns, d.MinConns,
	)
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	EventsChannel string
	EventsBuffer  int
}

// Enabled indica se o Redis foi configurado
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type PaymentConfig struct {
	Provider             string
	MercadoPagoBaseURL   string
	MercadoPagoToken     string
	MidtransServerKey    string
	MidtransProduction   bool
	LookupTimeout        time.Duration
	WebhookSecret        string
	FirebaseCredentials  string
	NotificationsEnabled bool
}

type AuthConfig struct {
	JWTSecret string
}

type WorkerConfig struct {
	ReprocessEnabled     bool
	ReprocessInterval    time.Duration
	ReprocessMaxAttempts int
	ReprocessBatchSize   int
	PendingStaleAfter    time.Duration
}

type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
}

// LoadConfig lê as variáveis de ambiente aplicando os valores padrão
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️ Failed to load .env: %v", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:             getEnv("PORT", "8080"),
			ReadTimeout:      getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:     getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:      getEnvDuration("HTTP_IDLE_TIMEOUT", 30*time.Second),
			WebhookRateLimit: getEnvFloat("WEBHOOK_RATE_LIMIT", 20),
			WebhookRateBurst: getEnvInt("WEBHOOK_RATE_BURST", 40),
		},
		Database: DatabaseConfig{
			User:     getEnv("DATABASE_USER", "root"),
			Password: getEnv("DATABASE_PASSWORD", "pass"),
			Host:     getEnv("DATABASE_HOST", "localhost"),
			Port:     getEnv("DATABASE_PORT", "5432"),
			Name:     getEnv("DATABASE_NAME", "wallet_db"),
			SSLMode:  getEnv("DATABASE_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DATABASE_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DATABASE_MIN_CONNS", 5)),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			EventsChannel: getEnv("WALLET_EVENTS_CHANNEL", "wallet-events"),
			EventsBuffer:  getEnvInt("WALLET_EVENTS_BUFFER", 1024),
		},
		Payment: PaymentConfig{
			Provider:             getEnv("PAYMENT_PROVIDER", "mercadopago"),
			MercadoPagoBaseURL:   getEnv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
			MercadoPagoToken:     getEnv("MERCADOPAGO_ACCESS_TOKEN", ""),
			MidtransServerKey:    getEnv("MIDTRANS_SERVER_KEY", ""),
			MidtransProduction:   getEnvBool("MIDTRANS_PRODUCTION", false),
			LookupTimeout:        getEnvDuration("PAYMENT_LOOKUP_TIMEOUT", 10*time.Second),
			WebhookSecret:        getEnv("WEBHOOK_SECRET", ""),
			FirebaseCredentials:  getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			NotificationsEnabled: getEnvBool("NOTIFICATIONS_ENABLED", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Worker: WorkerConfig{
			ReprocessEnabled:     getEnvBool("REPROCESS_ENABLED", true),
			ReprocessInterval:    getEnvDuration("REPROCESS_INTERVAL", time.Minute),
			ReprocessMaxAttempts: getEnvInt("REPROCESS_MAX_ATTEMPTS", 5),
			ReprocessBatchSize:   getEnvInt("REPROCESS_BATCH_SIZE", 50),
			PendingStaleAfter:    getEnvDuration("REPROCESS_PENDING_AFTER", 5*time.Minute),
		},
		Telemetry: TelemetryConfig{
			ServiceName:    getEnv("SERVICE_NAME", "wallet-service"),
			ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),
			Environment:    getEnv("DEPLOYMENT_ENV", "development"),
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
		FeatureCacheTTL:        getEnvDuration("FEATURE_CACHE_TTL", time.Minute),
		ReservationDedupWindow: getEnvDuration("RESERVATION_DEDUP_WINDOW", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejeita combinações que impedem o serviço de operar
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.Payment.Provider {
	case "mercadopago":
		if c.Payment.MercadoPagoToken == "" {
			return fmt.Errorf("MERCADOPAGO_ACCESS_TOKEN is required for provider mercadopago")
		}
	case "midtrans":
		if c.Payment.MidtransServerKey == "" {
			return fmt.Errorf("MIDTRANS_SERVER_KEY is required for provider midtrans")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.Payment.Provider)
	}
	if c.Worker.ReprocessInterval <= 0 {
		return fmt.Errorf("REPROCESS_INTERVAL must be positive")
	}
	if c.Payment.LookupTimeout <= 0 {
		return fmt.Errorf("PAYMENT_LOOKUP_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️ Invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("⚠️ Invalid %s=%q, using %v", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("⚠️ Invalid %s=%q, using %v", key, value, defaultValue)
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("⚠️ Invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
