package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the order service.
type Config struct {
	HTTP       HTTPConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Downstream DownstreamConfig
	Orders     OrdersConfig
	Outbox     OutboxConfig
	Lock       LockConfig
	Telemetry  TelemetryConfig
	Service    ServiceConfig
}

type HTTPConfig struct {
	Port          int
	ShutdownGrace time.Duration
}

// DatabaseConfig selects Postgres storage. An empty URL keeps orders in
// memory.
type DatabaseConfig struct {
	URL            string
	AutoMigrate    bool
	MigrationsPath string
}

// RedisConfig enables the Redis inventory store and order lock when URL is set.
type RedisConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers      []string
	WriteTimeout time.Duration
}

// DownstreamConfig holds the base URLs of the services the orchestrator
// coordinates. An empty URL selects the in-process stand-in.
type DownstreamConfig struct {
	InventoryURL string
	PaymentURL   string
	ShippingURL  string
}

type OrdersConfig struct {
	MaxItems           int
	MaxOrderValueCents int64
	CoordinatorTimeout time.Duration
	ReturnWindow       time.Duration
	MaxPaymentAttempts int
	UnpaidTTL          time.Duration
	TaxRateBasisPoints int64
	ShippingFees       map[string]int64
	// DefaultStock seeds the in-memory inventory.
	DefaultStock int
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Workers      int
}

type LockConfig struct {
	TTL time.Duration
}

type TelemetryConfig struct {
	LogLevel      string
	OTelEndpoint  string
	OTelInsecure  bool
	EnableTracing bool
	EnableMetrics bool
	SampleRate    float64
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

const (
	defaultHTTPPort           = 8080
	defaultShutdownGrace      = 15 * time.Second
	defaultMigrationsPath     = "migrations"
	defaultServiceName        = "orderflow-api"
	defaultServiceVersion     = "0.1.0"
	defaultEnvironment        = "development"
	defaultLogLevel           = "info"
	defaultOTelSampleRate     = 1.0
	defaultKafkaWriteTimeout  = 5 * time.Second
	defaultMaxItems           = 100
	defaultMaxOrderValueCents = 10_000_000
	defaultCoordinatorTimeout = 5 * time.Second
	defaultReturnWindow       = 720 * time.Hour
	defaultMaxPaymentAttempts = 3
	defaultUnpaidTTL          = 30 * time.Minute
	defaultStock              = 100
	defaultOutboxPoll         = 2 * time.Second
	defaultOutboxBatch        = 100
	defaultOutboxMaxAttempts  = 10
	defaultLockTTL            = 30 * time.Second
)

// defaultShippingFees is in cents per shipping method.
const defaultShippingFees = "STANDARD=0,EXPRESS=1500,OVERNIGHT=3500"

// Load reads configuration from environment variables, applying defaults when needed.
func Load() (*Config, error) {
	var (
		cfg Config
		err error
	)

	if cfg.HTTP, err = loadHTTPConfig(); err != nil {
		return nil, fmt.Errorf("loading HTTP config: %w", err)
	}
	cfg.Database = loadDatabaseConfig()
	cfg.Redis = RedisConfig{URL: os.Getenv("REDIS_URL")}
	if cfg.Kafka, err = loadKafkaConfig(); err != nil {
		return nil, fmt.Errorf("loading Kafka config: %w", err)
	}
	cfg.Downstream = DownstreamConfig{
		InventoryURL: os.Getenv("INVENTORY_URL"),
		PaymentURL:   os.Getenv("PAYMENT_URL"),
		ShippingURL:  os.Getenv("SHIPPING_URL"),
	}
	if cfg.Orders, err = loadOrdersConfig(); err != nil {
		return nil, fmt.Errorf("loading orders config: %w", err)
	}
	if cfg.Outbox, err = loadOutboxConfig(); err != nil {
		return nil, fmt.Errorf("loading outbox config: %w", err)
	}
	lockTTL, err := getDurationEnv("LOCK_TTL", defaultLockTTL)
	if err != nil {
		return nil, fmt.Errorf("loading lock config: %w", err)
	}
	cfg.Lock = LockConfig{TTL: lockTTL}
	if cfg.Telemetry, err = loadTelemetryConfig(); err != nil {
		return nil, fmt.Errorf("loading telemetry config: %w", err)
	}
	cfg.Service = loadServiceConfig()

	return &cfg, nil
}

func loadHTTPConfig() (HTTPConfig, error) {
	port, err := getIntEnv("API_HTTP_PORT", defaultHTTPPort)
	if err != nil {
		return HTTPConfig{}, err
	}

	grace, err := getDurationEnv("API_SHUTDOWN_GRACE", defaultShutdownGrace)
	if err != nil {
		return HTTPConfig{}, err
	}

	return HTTPConfig{Port: port, ShutdownGrace: grace}, nil
}

func loadDatabaseConfig() DatabaseConfig {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" && os.Getenv("DB_HOST") != "" {
		databaseURL = buildDatabaseURL()
	}

	return DatabaseConfig{
		URL:            databaseURL,
		AutoMigrate:    getBoolEnv("AUTO_MIGRATE", true),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", defaultMigrationsPath),
	}
}

func loadKafkaConfig() (KafkaConfig, error) {
	var brokers []string
	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}

	timeout, err := getDurationEnv("KAFKA_WRITE_TIMEOUT", defaultKafkaWriteTimeout)
	if err != nil {
		return KafkaConfig{}, err
	}

	return KafkaConfig{Brokers: brokers, WriteTimeout: timeout}, nil
}

func loadOrdersConfig() (OrdersConfig, error) {
	var (
		cfg OrdersConfig
		err error
	)
	if cfg.MaxItems, err = getIntEnv("ORDERS_MAX_ITEMS", defaultMaxItems); err != nil {
		return cfg, err
	}
	if cfg.MaxOrderValueCents, err = getInt64Env("ORDERS_MAX_VALUE_CENTS", defaultMaxOrderValueCents); err != nil {
		return cfg, err
	}
	if cfg.CoordinatorTimeout, err = getDurationEnv("ORDERS_COORDINATOR_TIMEOUT", defaultCoordinatorTimeout); err != nil {
		return cfg, err
	}
	if cfg.ReturnWindow, err = getDurationEnv("ORDERS_RETURN_WINDOW", defaultReturnWindow); err != nil {
		return cfg, err
	}
	if cfg.MaxPaymentAttempts, err = getIntEnv("ORDERS_MAX_PAYMENT_ATTEMPTS", defaultMaxPaymentAttempts); err != nil {
		return cfg, err
	}
	if cfg.UnpaidTTL, err = getDurationEnv("ORDERS_UNPAID_TTL", defaultUnpaidTTL); err != nil {
		return cfg, err
	}
	if cfg.TaxRateBasisPoints, err = getInt64Env("ORDERS_TAX_RATE_BPS", 0); err != nil {
		return cfg, err
	}
	if cfg.ShippingFees, err = parseFees(getEnvOrDefault("ORDERS_SHIPPING_FEES", defaultShippingFees)); err != nil {
		return cfg, err
	}
	if cfg.DefaultStock, err = getIntEnv("INVENTORY_DEFAULT_STOCK", defaultStock); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// parseFees reads METHOD=cents pairs separated by commas.
func parseFees(raw string) (map[string]int64, error) {
	fees := make(map[string]int64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		method, cents, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid ORDERS_SHIPPING_FEES entry %q", pair)
		}
		value, err := strconv.ParseInt(strings.TrimSpace(cents), 10, 64)
		if err != nil || value < 0 {
			return nil, fmt.Errorf("invalid ORDERS_SHIPPING_FEES amount for %s: %q", method, cents)
		}
		fees[strings.ToUpper(strings.TrimSpace(method))] = value
	}
	return fees, nil
}

func loadOutboxConfig() (OutboxConfig, error) {
	var (
		cfg OutboxConfig
		err error
	)
	if cfg.PollInterval, err = getDurationEnv("OUTBOX_POLL_INTERVAL", defaultOutboxPoll); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = getIntEnv("OUTBOX_BATCH_SIZE", defaultOutboxBatch); err != nil {
		return cfg, err
	}
	if cfg.MaxAttempts, err = getIntEnv("OUTBOX_MAX_ATTEMPTS", defaultOutboxMaxAttempts); err != nil {
		return cfg, err
	}
	if cfg.Workers, err = getIntEnv("OUTBOX_WORKERS", 1); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	sampleRate := defaultOTelSampleRate
	if value, ok := os.LookupEnv("OTEL_SAMPLE_RATE"); ok {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return TelemetryConfig{}, fmt.Errorf("invalid OTEL_SAMPLE_RATE: %w", err)
		}
		sampleRate = parsed
	}

	return TelemetryConfig{
		LogLevel:      getEnvOrDefault("LOG_LEVEL", defaultLogLevel),
		OTelEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelInsecure:  getBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", true),
		EnableTracing: getBoolEnv("OTEL_ENABLE_TRACING", true),
		EnableMetrics: getBoolEnv("OTEL_ENABLE_METRICS", true),
		SampleRate:    sampleRate,
	}, nil
}

func loadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:        getEnvOrDefault("API_SERVICE_NAME", defaultServiceName),
		Version:     getEnvOrDefault("SERVICE_VERSION", defaultServiceVersion),
		Environment: getEnvOrDefault("ENVIRONMENT", defaultEnvironment),
	}
}

func buildDatabaseURL() string {
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "orderflow")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")
	maxConns := getEnvOrDefault("DB_MAX_CONNS", "25")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%s",
		user, password, host, port, dbName, sslMode, maxConns,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return value == "true"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getInt64Env(key string, defaultValue int64) (int64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
