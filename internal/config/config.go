package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName          = "CongoCards"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultStoreBackend     = StoreMemory
	defaultMongoDatabase    = "cards"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultDownstreamTTL    = 2 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerOpen      = 30 * time.Second
	defaultCardTTL          = 5 * time.Minute
	defaultBalanceTTL       = 30 * time.Second
	defaultMovementsTTL     = 45 * time.Second
	defaultOperationsKeep   = 200
	defaultJWTIssuer        = "congo-cards"
	defaultJWTTTL           = 15 * time.Minute
	defaultAMQPExchange     = "cards"
	defaultLoginMaxPerMin   = 5
	devJWTSecret            = "development-only-secret"
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	downstreamSecondsEnvVar = "DOWNSTREAM_TIMEOUT_SECONDS"
	downstreamDurEnvVar     = "DOWNSTREAM_TIMEOUT"
)

// Card store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	StoreBackend   string
	DatabaseURL    string
	MongoURI       string
	MongoDatabase  string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	AccountsURL     string
	CreditsURL      string
	TransactionsURL string

	DownstreamTimeout          time.Duration
	BreakerConsecutiveFailures uint32
	BreakerOpenTimeout         time.Duration

	CardCacheTTL           time.Duration
	PrimaryBalanceCacheTTL time.Duration
	MovementsCacheTTL      time.Duration
	OperationsKeepLast     int

	JWTSecret        string
	JWTIssuer        string
	JWTTTL           time.Duration
	AuthUsername     string
	AuthPasswordHash string
	LoginMaxPerMin   int

	AMQPURL              string
	AMQPExchange         string
	QueueDebitRequested  string
	QueueCreditRequested string
	QueueLinkRequested   string
	TopicApplied         string
	TopicDenied          string
	TopicBalanceUpdated  string
	TopicLinkResult      string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", defaultStoreBackend)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDatabase:  getEnv("MONGO_DATABASE", defaultMongoDatabase),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,

		AccountsURL:     os.Getenv("ACCOUNTS_URL"),
		CreditsURL:      os.Getenv("CREDITS_URL"),
		TransactionsURL: os.Getenv("TRANSACTIONS_URL"),

		DownstreamTimeout: defaultDownstreamTTL,

		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTIssuer:        getEnv("JWT_ISSUER", defaultJWTIssuer),
		AuthUsername:     os.Getenv("AUTH_USERNAME"),
		AuthPasswordHash: os.Getenv("AUTH_PASSWORD_HASH"),

		AMQPURL:              os.Getenv("AMQP_URL"),
		AMQPExchange:         getEnv("AMQP_EXCHANGE", defaultAMQPExchange),
		QueueDebitRequested:  getEnv("QUEUE_DEBIT_REQUESTED", "cards.debit.requested"),
		QueueCreditRequested: getEnv("QUEUE_CREDIT_REQUESTED", "cards.credit.requested"),
		QueueLinkRequested:   getEnv("QUEUE_LINK_REQUESTED", "cards.account-link.requested"),
		TopicApplied:         getEnv("TOPIC_OPERATION_APPLIED", "cards.operation.applied"),
		TopicDenied:          getEnv("TOPIC_OPERATION_DENIED", "cards.operation.denied"),
		TopicBalanceUpdated:  getEnv("TOPIC_PRIMARY_BALANCE_UPDATED", "cards.primary-balance.updated"),
		TopicLinkResult:      getEnv("TOPIC_LINK_RESULT", "cards.account-link.result"),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.DownstreamTimeout, err = secondsOrDuration(downstreamSecondsEnvVar, downstreamDurEnvVar, defaultDownstreamTTL); err != nil {
		return Config{}, err
	}
	if cfg.BreakerOpenTimeout, err = duration("BREAKER_OPEN_TIMEOUT", defaultBreakerOpen); err != nil {
		return Config{}, err
	}
	if cfg.CardCacheTTL, err = duration("CACHE_CARD_TTL", defaultCardTTL); err != nil {
		return Config{}, err
	}
	if cfg.PrimaryBalanceCacheTTL, err = duration("CACHE_PRIMARY_BALANCE_TTL", defaultBalanceTTL); err != nil {
		return Config{}, err
	}
	if cfg.MovementsCacheTTL, err = duration("CACHE_MOVEMENTS_TTL", defaultMovementsTTL); err != nil {
		return Config{}, err
	}
	if cfg.JWTTTL, err = duration("JWT_TTL", defaultJWTTTL); err != nil {
		return Config{}, err
	}

	failures, err := integer("BREAKER_CONSECUTIVE_FAILURES", defaultBreakerFailures)
	if err != nil {
		return Config{}, err
	}
	if failures <= 0 {
		return Config{}, fmt.Errorf("BREAKER_CONSECUTIVE_FAILURES must be positive")
	}
	cfg.BreakerConsecutiveFailures = uint32(failures)

	if cfg.OperationsKeepLast, err = integer("OPERATIONS_KEEP_LAST", defaultOperationsKeep); err != nil {
		return Config{}, err
	}
	if cfg.LoginMaxPerMin, err = integer("LOGIN_MAX_PER_MINUTE", defaultLoginMaxPerMin); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = devJWTSecret
	}
	return cfg, nil
}

// validate checks backend settings. Development may run fully in memory;
// every other environment needs its backends configured.
func (c Config) validate() error {
	switch c.StoreBackend {
	case StoreMemory:
		if !c.IsDevelopment() {
			return fmt.Errorf("STORE_BACKEND=memory is only allowed in development")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI must be set")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.IsDevelopment() {
		return nil
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.AccountsURL == "" || c.CreditsURL == "" || c.TransactionsURL == "" {
		return fmt.Errorf("ACCOUNTS_URL, CREDITS_URL and TRANSACTIONS_URL must be set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	return nil
}

// IsDevelopment reports whether the app runs in a development environment.
func (c Config) IsDevelopment() bool {
	env := strings.ToLower(c.AppEnv)
	return env == "development" || env == "dev" || env == "local"
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// secondsOrDuration accepts either an integer number of seconds or a Go duration string.
func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(durationKey, fallback)
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
