package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string

	ListenAddr string

	Storage  StorageConfig
	Remote   RemoteConfig
	Kafka    KafkaConfig
	Tracking TrackingConfig
	Page     PageConfig
}

// PageConfig describes the page context this agent process represents.
type PageConfig struct {
	Path           string
	RawQuery       string
	Referrer       string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

type StorageConfig struct {
	// ProfilePath is the sqlite file backing profile-scoped slots
	// (journal, sticky UTMs, user snapshot).
	ProfilePath string
	ExportDir   string
	MaxEvents   int
}

type RemoteConfig struct {
	Enabled         bool
	Host            string
	Port            string
	Database        string
	Username        string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryLimit      int
}

type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Retries     int
	Timeout     time.Duration
	Compression string
}

type TrackingConfig struct {
	DefaultCountry string
	Language       string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ListenAddr:  getEnv("LISTEN_ADDR", "127.0.0.1:8427"),
	}

	cfg.Storage = StorageConfig{
		ProfilePath: getEnv("PROFILE_STORAGE_PATH", "funnel-profile.db"),
		ExportDir:   getEnv("EXPORT_DIR", "."),
		MaxEvents:   getEnvAsInt("MAX_EVENTS", 10000),
	}

	cfg.Remote = RemoteConfig{
		Enabled:         getEnvAsBool("REMOTE_SYNC_ENABLED", true),
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            getEnv("POSTGRES_PORT", "5432"),
		Database:        getEnv("POSTGRES_DB", "funnel"),
		Username:        getEnv("POSTGRES_USER", "funnel"),
		Password:        getEnv("POSTGRES_PASSWORD", "funnel"),
		SSLMode:         getEnv("POSTGRES_SSL_MODE", "disable"),
		MaxOpenConns:    getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		QueryLimit:      getEnvAsInt("REMOTE_QUERY_LIMIT", 1000),
	}

	brokers := getEnv("KAFKA_BROKERS", "")
	if brokers != "" {
		cfg.Kafka = KafkaConfig{
			Brokers:     strings.Split(brokers, ","),
			Topic:       getEnv("KAFKA_TOPIC_EVENTS", "funnel-events"),
			Retries:     getEnvAsInt("KAFKA_PRODUCER_RETRIES", 3),
			Timeout:     getEnvAsDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
			Compression: getEnv("KAFKA_COMPRESSION", "snappy"),
		}
	}

	cfg.Tracking = TrackingConfig{
		DefaultCountry: getEnv("DEFAULT_COUNTRY", "MX"),
		Language:       getEnv("LANGUAGE", "es"),
	}

	cfg.Page = PageConfig{
		Path:           getEnv("PAGE_PATH", "/"),
		RawQuery:       getEnv("PAGE_QUERY", ""),
		Referrer:       getEnv("PAGE_REFERRER", ""),
		UserAgent:      getEnv("PAGE_USER_AGENT", ""),
		ViewportWidth:  getEnvAsInt("PAGE_VIEWPORT_WIDTH", 0),
		ViewportHeight: getEnvAsInt("PAGE_VIEWPORT_HEIGHT", 0),
	}

	return cfg, nil
}

func (c *RemoteConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// StreamEnabled reports whether the Kafka mirror is configured at all.
func (c *Config) StreamEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
