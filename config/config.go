/*
config.go - Server configuration

PURPOSE:
  Collects every knob of cmd/server in one struct. Each setting is a
  command-line flag whose default comes from the environment, so
  containers configure through FUEL_LEDGER_* variables and developers
  through flags.

SETTINGS:
  -port             FUEL_LEDGER_PORT             HTTP port (8080)
  -db-driver        FUEL_LEDGER_DB_DRIVER        sqlite | postgres (sqlite)
  -db               FUEL_LEDGER_SQLITE_PATH      SQLite file, ":memory:" allowed (fuel-ledger.db)
  -postgres-dsn     FUEL_LEDGER_POSTGRES_DSN     lib/pq connection string
  -kafka-brokers    FUEL_LEDGER_KAFKA_BROKERS    comma separated; empty disables events
  -kafka-topic      FUEL_LEDGER_KAFKA_TOPIC      (fuel-ledger-events)
  -lock-timeout     FUEL_LEDGER_LOCK_TIMEOUT     product lock wait (5s)
  -epsilon          FUEL_LEDGER_EPSILON          reconciliation tolerance in litres (0.01)
  -log-level        FUEL_LEDGER_LOG_LEVEL        debug | info | warn | error (info)
  -dev              FUEL_LEDGER_DEV              console logging, demo scenarios, any CORS origin
  -cors-origins     FUEL_LEDGER_CORS_ORIGINS     comma separated; overrides the -dev and default origins
  -audit-interval   FUEL_LEDGER_AUDIT_INTERVAL   consistency audit period, 0 disables (10m)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/warp/fuel-ledger/stock"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port          int
	DBDriver      string
	SQLitePath    string
	PostgresDSN   string
	KafkaBrokers  []string
	KafkaTopic    string
	LockTimeout   time.Duration
	Epsilon       stock.Litres
	LogLevel      string
	Dev           bool
	AuditInterval time.Duration
	CORSOrigins   []string
}

// Load parses args (without the program name) over environment defaults.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("fuel-ledger", flag.ContinueOnError)

	port := fs.Int("port", getEnvInt("FUEL_LEDGER_PORT", 8080), "HTTP server port")
	driver := fs.String("db-driver", getEnv("FUEL_LEDGER_DB_DRIVER", DriverSQLite), "database driver: sqlite or postgres")
	sqlitePath := fs.String("db", getEnv("FUEL_LEDGER_SQLITE_PATH", "fuel-ledger.db"), "SQLite database path")
	dsn := fs.String("postgres-dsn", getEnv("FUEL_LEDGER_POSTGRES_DSN", ""), "PostgreSQL connection string")
	brokers := fs.String("kafka-brokers", getEnv("FUEL_LEDGER_KAFKA_BROKERS", ""), "comma separated Kafka brokers")
	topic := fs.String("kafka-topic", getEnv("FUEL_LEDGER_KAFKA_TOPIC", "fuel-ledger-events"), "Kafka topic for ledger events")
	lockTimeout := fs.Duration("lock-timeout", getEnvDuration("FUEL_LEDGER_LOCK_TIMEOUT", stock.DefaultLockTimeout), "product lock timeout")
	epsilon := fs.String("epsilon", getEnv("FUEL_LEDGER_EPSILON", stock.DefaultEpsilon.String()), "reconciliation tolerance in litres")
	level := fs.String("log-level", getEnv("FUEL_LEDGER_LOG_LEVEL", "info"), "log level")
	dev := fs.Bool("dev", getEnvBool("FUEL_LEDGER_DEV", false), "development mode")
	origins := fs.String("cors-origins", getEnv("FUEL_LEDGER_CORS_ORIGINS", ""), "comma separated allowed CORS origins")
	audit := fs.Duration("audit-interval", getEnvDuration("FUEL_LEDGER_AUDIT_INTERVAL", 10*time.Minute), "consistency audit interval, 0 disables")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	eps, err := stock.ParseLitres(*epsilon)
	if err != nil {
		return nil, fmt.Errorf("invalid epsilon %q: %w", *epsilon, err)
	}

	cfg := &Config{
		Port:          *port,
		DBDriver:      strings.ToLower(*driver),
		SQLitePath:    *sqlitePath,
		PostgresDSN:   *dsn,
		KafkaBrokers:  splitList(*brokers),
		KafkaTopic:    *topic,
		LockTimeout:   *lockTimeout,
		Epsilon:       eps,
		LogLevel:      *level,
		Dev:           *dev,
		AuditInterval: *audit,
		CORSOrigins:   splitList(*origins),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AllowedOrigins returns the CORS origins for the router. Explicit origins
// win; dev mode allows any origin; nil keeps the router's localhost default.
func (c *Config) AllowedOrigins() []string {
	if len(c.CORSOrigins) > 0 {
		return c.CORSOrigins
	}
	if c.Dev {
		return []string{"*"}
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite path is required")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db driver %q", c.DBDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive, got %s", c.LockTimeout)
	}
	if c.Epsilon.IsNegative() {
		return fmt.Errorf("epsilon must not be negative, got %s", c.Epsilon)
	}
	if c.AuditInterval < 0 {
		return fmt.Errorf("audit interval must not be negative, got %s", c.AuditInterval)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
