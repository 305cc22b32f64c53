package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	VerifyToken string `envconfig:"VERIFY_TOKEN"`
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret string `envconfig:"APP_SECRET"`

	DBDriver   string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBPath     string `envconfig:"DB_PATH" default:"./crm.db"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"whatsapp_crm"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	RedisURL       string        `envconfig:"REDIS_URL"`
	TenantCacheTTL time.Duration `envconfig:"TENANT_CACHE_TTL" default:"5m"`

	GraphAPIBaseURL string        `envconfig:"GRAPH_API_BASE_URL" default:"https://graph.facebook.com/v19.0"`
	GraphAPITimeout time.Duration `envconfig:"GRAPH_API_TIMEOUT" default:"15s"`

	// FormBaseURL is the public frontend origin intake form links point at.
	FormBaseURL string `envconfig:"FORM_BASE_URL" default:"http://localhost:3000"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"`
	TracingStdout  bool   `envconfig:"TRACING_STDOUT" default:"true"`
	OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT"`
	ServiceName    string `envconfig:"SERVICE_NAME" default:"whatsapp-crm"`
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: Error loading .env file")
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.DBHost == "" || c.DBName == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	return nil
}

// PostgresDSN builds the lib/pq style DSN used by gorm's postgres driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}
