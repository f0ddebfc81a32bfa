package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	RoleAll        = "all"
	RoleTickets    = "tickets"
	RoleOrders     = "orders"
	RoleExpiration = "expiration"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string
	ServiceRole string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// Order lifecycle
	OrderExpirationWindow time.Duration

	// Event propagation
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	ConsumerMaxRetries int

	// Expiration jobs
	ExpirationQueue       string
	ExpirationConcurrency int

	// Rate limiting of reservation attempts
	OrderRateLimit  int
	OrderRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),
		ServiceRole: strings.ToLower(getEnv("SERVICE_ROLE", RoleAll)),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "ticketing-server"),

		// Orders
		OrderExpirationWindow: getEnvAsDuration("ORDER_EXPIRATION_WINDOW", "15m"),

		// Events
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", "1s"),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
		ConsumerMaxRetries: getEnvAsInt("CONSUMER_MAX_RETRIES", 5),

		// Expiration
		ExpirationQueue:       getEnv("EXPIRATION_QUEUE", "expiration"),
		ExpirationConcurrency: getEnvAsInt("EXPIRATION_CONCURRENCY", 10),

		// Rate limiting
		OrderRateLimit:  getEnvAsInt("ORDER_RATE_LIMIT", 30),
		OrderRateWindow: getEnvAsDuration("ORDER_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

// Runs reports whether this instance hosts the given service role.
func (c *Config) Runs(role string) bool {
	return c.ServiceRole == RoleAll || c.ServiceRole == role
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
