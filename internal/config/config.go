// Package config loads the chat server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// DefaultDatabaseURL is the database used when DATABASE_URL is unset.
var DefaultDatabaseURL = FileDatabaseURL("chat.db")

// FileDatabaseURL returns a DSN for a SQLite file shared by a pool of
// connections. WAL lets readers run beside the writer, writers wait on the
// busy timeout, and transactions take the write lock up front so they
// never fail upgrading from a read. Foreign keys are enforced on every
// pooled connection.
func FileDatabaseURL(path string) string {
	return "file:" + path + "?mode=rwc&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
}

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort     int `env:"HTTP_PORT,default=8080"`     // REST API and /ws
	InternalPort int `env:"INTERNAL_PORT,default=8081"` // /health and /internal
	RPCPort      int `env:"RPC_PORT,default=8092"`      // JSON-RPC push endpoint

	DatabaseURL string `env:"DATABASE_URL"`

	// Auth settings
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=24h"`

	// WebSocket settings
	PingInterval   time.Duration `env:"WS_PING_INTERVAL,default=30s"`
	WriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT,default=10s"`
	ReadTimeout    time.Duration `env:"WS_READ_TIMEOUT,default=60s"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE,default=65536"`
	SendBufferSize int           `env:"WS_SEND_BUFFER,default=256"`

	// Delivery settings
	PersistTimeout  time.Duration `env:"PERSIST_TIMEOUT,default=5s"`
	MaxBodyLength   int           `env:"MAX_BODY_LENGTH,default=4000"`
	HistoryPageSize int           `env:"HISTORY_PAGE_SIZE,default=50"`
	RateLimit       float64       `env:"RATE_LIMIT,default=20"`

	// Offline push
	RedisURL       string `env:"REDIS_URL"`
	NotifyQueue    string `env:"NOTIFY_QUEUE,default=notifications"`
	NotifyMaxRetry int    `env:"NOTIFY_MAX_RETRY,default=5"`

	// Logging
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	// DevMode allows a generated secret when JWT_SECRET is unset.
	DevMode bool `env:"DEV_MODE,default=false"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = DefaultDatabaseURL
	}
	if cfg.JWTSecret == "" && cfg.DevMode {
		cfg.JWTSecret = "dev-secret-do-not-use-in-production"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required outside DEV_MODE"))
	}
	for name, port := range map[string]int{"HTTP_PORT": c.HTTPPort, "INTERNAL_PORT": c.InternalPort, "RPC_PORT": c.RPCPort} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
		}
	}
	if c.HTTPPort == c.InternalPort || c.HTTPPort == c.RPCPort || c.InternalPort == c.RPCPort {
		errs = append(errs, errors.New("HTTP_PORT, INTERNAL_PORT and RPC_PORT must differ"))
	}
	if c.PingInterval <= 0 || c.ReadTimeout <= c.PingInterval {
		errs = append(errs, errors.New("WS_READ_TIMEOUT must exceed a positive WS_PING_INTERVAL"))
	}
	if c.SendBufferSize <= 0 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be positive"))
	}
	if c.HistoryPageSize <= 0 {
		errs = append(errs, errors.New("HISTORY_PAGE_SIZE must be positive"))
	}
	if c.PersistTimeout < 0 {
		errs = append(errs, errors.New("PERSIST_TIMEOUT must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
