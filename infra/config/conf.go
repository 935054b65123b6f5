package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig represents the application configuration
type AppConfig struct {
	Port        string
	Environment string
	LogLevel    string

	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWTSecret enables bearer auth on the payment API when set
	JWTSecret   string
	JWTExpiry   time.Duration
	CORSOrigins []string
	// WebhookRateLimit is requests per minute per sender, 0 disables it
	WebhookRateLimit int

	CommandTimeout time.Duration
	// RetryScale multiplies every retry delay; 0 disables waiting
	RetryScale float64

	// Gateways maps a gateway name to its adapter configuration
	Gateways map[string]map[string]string

	OpenSearch OpenSearchConfig
	Queue      QueueConfig
}

// OpenSearchConfig configures log and audit indexing
type OpenSearchConfig struct {
	Enabled     bool
	URL         string
	User        string
	Password    string
	Insecure    bool
	IndexPrefix string
}

// QueueConfig selects the webhook transport
type QueueConfig struct {
	Driver       string // "memory" or "sqs"
	Size         int
	Workers      int
	SQSURL       string
	SQSRegion    string
	SQSEndpoint  string
	AWSAccessKey string
	AWSSecretKey string
}

var defaults = map[string]any{
	"APP_PORT":                  "9999",
	"ENVIRONMENT":               "development",
	"LOGGING_LEVEL":             "info",
	"DB_DRIVER":                 "sqlite3",
	"DB_DSN":                    "./data/payflow.db",
	"REDIS_DB":                  0,
	"COMMAND_TIMEOUT":           "30s",
	"JWT_EXPIRY":                "12h",
	"CORS_ALLOWED_ORIGINS":      "*",
	"WEBHOOK_RATE_LIMIT":        600,
	"RETRY_DELAY_SCALE":         1.0,
	"GATEWAYS":                  "example",
	"ENABLE_OPENSEARCH_LOGGING": false,
	"OPENSEARCH_URL":            "http://localhost:9200",
	"OPENSEARCH_INDEX_PREFIX":   "payflow",
	"WEBHOOK_QUEUE":             "memory",
	"WEBHOOK_QUEUE_SIZE":        256,
	"WEBHOOK_WORKERS":           4,
	"AWS_REGION":                "us-east-1",
}

// Load reads .env (when present), the optional YAML file named by
// PAYFLOW_CONFIG and the environment, in increasing precedence
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv("PAYFLOW_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		Port:             v.GetString("APP_PORT"),
		Environment:      v.GetString("ENVIRONMENT"),
		LogLevel:         v.GetString("LOGGING_LEVEL"),
		DBDriver:         v.GetString("DB_DRIVER"),
		DBDSN:            v.GetString("DB_DSN"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		RedisDB:          v.GetInt("REDIS_DB"),
		JWTSecret:        v.GetString("JWT_SECRET"),
		JWTExpiry:        v.GetDuration("JWT_EXPIRY"),
		CORSOrigins:      strings.Fields(strings.ReplaceAll(v.GetString("CORS_ALLOWED_ORIGINS"), ",", " ")),
		WebhookRateLimit: v.GetInt("WEBHOOK_RATE_LIMIT"),
		CommandTimeout:   v.GetDuration("COMMAND_TIMEOUT"),
		RetryScale:       v.GetFloat64("RETRY_DELAY_SCALE"),
		OpenSearch: OpenSearchConfig{
			Enabled:     v.GetBool("ENABLE_OPENSEARCH_LOGGING"),
			URL:         v.GetString("OPENSEARCH_URL"),
			User:        v.GetString("OPENSEARCH_USER"),
			Password:    v.GetString("OPENSEARCH_PASSWORD"),
			Insecure:    v.GetBool("OPENSEARCH_INSECURE"),
			IndexPrefix: v.GetString("OPENSEARCH_INDEX_PREFIX"),
		},
		Queue: QueueConfig{
			Driver:       strings.ToLower(v.GetString("WEBHOOK_QUEUE")),
			Size:         v.GetInt("WEBHOOK_QUEUE_SIZE"),
			Workers:      v.GetInt("WEBHOOK_WORKERS"),
			SQSURL:       v.GetString("SQS_QUEUE_URL"),
			SQSRegion:    v.GetString("AWS_REGION"),
			SQSEndpoint:  v.GetString("SQS_ENDPOINT"),
			AWSAccessKey: v.GetString("AWS_ACCESS_KEY_ID"),
			AWSSecretKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
		},
	}
	cfg.Gateways = gatewaySettings(v, os.Environ())

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.Queue.Driver {
	case "memory":
	case "sqs":
		if c.Queue.SQSURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required when WEBHOOK_QUEUE=sqs")
		}
	default:
		return fmt.Errorf("unsupported WEBHOOK_QUEUE %q", c.Queue.Driver)
	}
	if c.RetryScale < 0 {
		return fmt.Errorf("RETRY_DELAY_SCALE must not be negative")
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must not be negative")
	}
	if c.WebhookRateLimit < 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
