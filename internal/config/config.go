// Package config provides configuration structures and validation for the application.
// It handles environment-based configuration for all major components including
// wallet policy, storage backends, message queues, and operational parameters.
package config

import (
	"errors"
	"strings"
	"time"
)

// Store driver names accepted by STORE_DRIVER
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration (e.g., wallet policy,
// databases, message queues) and is validated during application startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Wallet      WalletConfig
	Store       StoreConfig
	Postgres    PostgresConfig
	SQLite      SQLiteConfig
	MongoDB     MongoDBConfig
	Kafka       KafkaConfig
	Sweep       SweepConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// WalletConfig contains the credit policy of the wallet ledger
type WalletConfig struct {
	ExpiryMonths     int           // Calendar months before an unspent credit is forfeited
	ExpiringSoonDays int           // Look-ahead window for the expiring-soon balance preview
	OperationTimeout time.Duration // Upper bound for a single ledger operation against the store
}

// StoreConfig selects the transaction store backend
type StoreConfig struct {
	Driver string // One of: postgres, sqlite
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	AuditTopic        string
	NumPartitions     int // Number of partitions for topics
	ReplicationFactor int // Replication factor for topics
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	DLQTopic          string // Topic for Dead Letter Queue
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// SQLiteConfig contains the embedded store configuration
type SQLiteConfig struct {
	Path string // Database file path
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// SweepConfig contains expiry sweep configuration
type SweepConfig struct {
	Interval       time.Duration // Time between sweep runs
	WorkerPoolSize int           // Maximum number of users swept concurrently
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Wallet config
	if c.Wallet.ExpiryMonths <= 0 {
		validationErrors = append(validationErrors, "WALLET_EXPIRY_MONTHS must be greater than 0")
	}
	if c.Wallet.ExpiringSoonDays < 0 {
		validationErrors = append(validationErrors, "WALLET_EXPIRING_SOON_DAYS must not be negative")
	}
	if c.Wallet.OperationTimeout <= 0 {
		validationErrors = append(validationErrors, "WALLET_OPERATION_TIMEOUT must be greater than 0")
	}

	// Validate Store config. Only the selected backend's settings are checked.
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Postgres.URL == "" {
			validationErrors = append(validationErrors, "POSTGRES_URL is required")
		}
		if c.Postgres.MaxConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
		}
		if c.Postgres.MinConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
		}
		if c.Postgres.ConnMaxLifetime <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
		}
		if c.Postgres.ConnMaxIdleTime <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
		}
	case StoreDriverSQLite:
		if c.SQLite.Path == "" {
			validationErrors = append(validationErrors, "SQLITE_PATH is required")
		}
	default:
		validationErrors = append(validationErrors, "STORE_DRIVER must be one of: postgres, sqlite")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.AuditTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_AUDIT_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Sweep config
	if c.Sweep.Interval <= 0 {
		validationErrors = append(validationErrors, "SWEEP_INTERVAL must be greater than 0")
	}
	if c.Sweep.WorkerPoolSize <= 0 {
		validationErrors = append(validationErrors, "SWEEP_WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
