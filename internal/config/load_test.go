package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_HappyPath(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	tempConfigsSubDir := filepath.Join(tempDir, "configs")
	err = os.Mkdir(tempConfigsSubDir, 0755)
	require.NoError(t, err)

	testAppName := "TestWallet"
	testExpiryMonths := 6
	testLogLevel := "debug"
	testKafkaBrokers := "kafka1:9092,kafka2:9092"

	envContent := fmt.Sprintf(
		"APP_NAME=%s\nWALLET_EXPIRY_MONTHS=%d\nLOG_LEVEL=%s\nKAFKA_BROKERS=%s\n",
		testAppName, testExpiryMonths, testLogLevel, testKafkaBrokers,
	)
	envFilePath := filepath.Join(tempConfigsSubDir, "test_happy.env")
	err = os.WriteFile(envFilePath, []byte(envContent), 0644)
	require.NoError(t, err)

	originalWD, err := os.Getwd()
	require.NoError(t, err)
	defer func() {
		_ = os.Chdir(originalWD)
	}()

	err = os.Chdir(tempDir)
	require.NoError(t, err)

	cfg, err := LoadConfig("test_happy")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, testAppName, cfg.Application.Name)
	assert.Equal(t, testExpiryMonths, cfg.Wallet.ExpiryMonths)
	assert.Equal(t, testLogLevel, cfg.Logging.Level)
	assert.Equal(t, testKafkaBrokers, cfg.Kafka.Brokers)

	assert.Equal(t, "development", cfg.Application.Env)
	assert.Equal(t, 30, cfg.Wallet.ExpiringSoonDays)
	assert.Equal(t, 5*time.Second, cfg.Wallet.OperationTimeout)
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "wallet_audit_events", cfg.Kafka.AuditTopic)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.Interval)
	assert.Equal(t, 10, cfg.Sweep.WorkerPoolSize)

	cfgWithName, err := LoadConfigWithName("configs/test_happy") // Viper will look for configs/test_happy.env
	require.NoError(t, err)
	require.NotNil(t, cfgWithName)
	assert.Equal(t, testAppName, cfgWithName.Application.Name)

	// Test LoadConfigWithNameAndType
	cfgWithNameAndType, err := LoadConfigWithNameAndType("configs/test_happy", "env")
	require.NoError(t, err)
	require.NotNil(t, cfgWithNameAndType)
	assert.Equal(t, testAppName, cfgWithNameAndType.Application.Name)

}

func defaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	return &Config{
		Application: ApplicationConfig{Env: v.GetString("APP_ENV"), Name: v.GetString("APP_NAME")},
		Logging:     LoggingConfig{Level: v.GetString("LOG_LEVEL")},
		Wallet: WalletConfig{
			ExpiryMonths:     v.GetInt("WALLET_EXPIRY_MONTHS"),
			ExpiringSoonDays: v.GetInt("WALLET_EXPIRING_SOON_DAYS"),
			OperationTimeout: v.GetDuration("WALLET_OPERATION_TIMEOUT"),
		},
		Store: StoreConfig{
			Driver: v.GetString("STORE_DRIVER"),
		},
		Postgres: PostgresConfig{
			URL:             v.GetString("POSTGRES_URL"),
			MaxConns:        int32(v.GetInt("POSTGRES_MAX_CONNS")),
			MinConns:        int32(v.GetInt("POSTGRES_MIN_CONNS")),
			ConnMaxLifetime: v.GetDuration("POSTGRES_MAX_CONN_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("POSTGRES_MAX_CONN_IDLE_TIME"),
			MigrationsPath:  v.GetString("POSTGRES_MIGRATIONS_PATH"),
		},
		SQLite: SQLiteConfig{
			Path: v.GetString("SQLITE_PATH"),
		},
		MongoDB: MongoDBConfig{
			URI:             v.GetString("MONGO_URI"),
			Database:        v.GetString("MONGO_DATABASE"),
			Timeout:         v.GetDuration("MONGO_TIMEOUT"),
			MaxPoolSize:     uint64(v.GetInt("MONGO_MAX_POOL_SIZE")),
			MinPoolSize:     uint64(v.GetInt("MONGO_MIN_POOL_SIZE")),
			MaxConnIdleTime: v.GetDuration("MONGO_MAX_CONN_IDLE_TIME"),
		},
		Kafka: KafkaConfig{
			Brokers:           v.GetString("KAFKA_BROKERS"),
			AuditTopic:        v.GetString("KAFKA_AUDIT_TOPIC"),
			NumPartitions:     v.GetInt("KAFKA_NUM_PARTITIONS"),
			ReplicationFactor: v.GetInt("KAFKA_REPLICATION_FACTOR"),
			ConsumerGroup:     v.GetString("KAFKA_CONSUMER_GROUP"),
			MinBytes:          v.GetInt("KAFKA_CONSUMER_MIN_BYTES"),
			MaxBytes:          v.GetInt("KAFKA_CONSUMER_MAX_BYTES"),
			MaxWait:           v.GetDuration("KAFKA_CONSUMER_MAX_WAIT"),
			DLQTopic:          v.GetString("KAFKA_DLQ_TOPIC"),
		},
		Sweep: SweepConfig{
			Interval:       v.GetDuration("SWEEP_INTERVAL"),
			WorkerPoolSize: v.GetInt("SWEEP_WORKER_POOL_SIZE"),
		},
	}
}

func TestConfig_Validate_HappyPath(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.validate()
	assert.NoError(t, err, "Default config should be valid")
}

func TestConfig_Validate_StoreDriver(t *testing.T) {
	t.Run("UnknownDriverRejected", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Store.Driver = "bolt"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "STORE_DRIVER must be one of")
	})

	t.Run("SqliteRequiresPath", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Store.Driver = StoreDriverSQLite
		cfg.SQLite.Path = ""

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SQLITE_PATH is required")
	})

	t.Run("SqliteIgnoresPostgresSettings", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Store.Driver = StoreDriverSQLite
		cfg.SQLite.Path = ":memory:"
		cfg.Postgres.URL = ""

		assert.NoError(t, cfg.validate(), "postgres settings should not be validated for the sqlite driver")
	})
}

func TestConfig_Validate_WalletPolicy(t *testing.T) {
	cfg := defaultConfig()
	cfg.Wallet.ExpiryMonths = 0
	cfg.Wallet.OperationTimeout = 0

	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLET_EXPIRY_MONTHS must be greater than 0")
	assert.Contains(t, err.Error(), "WALLET_OPERATION_TIMEOUT must be greater than 0")
}
