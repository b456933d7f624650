package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ServerConfig configures the HTTP API binary.
type ServerConfig struct {
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`

	Postgres PostgresConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig

	RateLimitCount  int           `envconfig:"RATE_LIMIT_COUNT" default:"10"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	// Empty REDIS_ADDR selects the in-memory limiter for single-instance
	// deployments.

	Providers ProviderConfig
	Prompt    PromptConfig

	// Secret fields, loaded outside envconfig.
	JWTSecret string
}

// WorkerConfig configures the media worker binary.
type WorkerConfig struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsPort string `envconfig:"WORKER_METRICS_PORT" default:"9091"`

	Postgres PostgresConfig
	RabbitMQ RabbitMQConfig

	Providers ProviderConfig
	Storage   StorageConfig
}

type PostgresConfig struct {
	Host     string `envconfig:"DB_HOST" required:"true"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" required:"true"`
	Name     string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	// Secret field, loaded outside envconfig.
	Password string
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RabbitMQConfig struct {
	URL                string `envconfig:"RABBITMQ_URL" required:"true"`
	MediaTaskQueue     string `envconfig:"MEDIA_TASK_QUEUE" default:"media_generation_tasks"`
	ClientUpdatesQueue string `envconfig:"CLIENT_UPDATES_QUEUE" default:"client_updates"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// ProviderConfig wires the provider adapters. The primary/fallback selection
// itself lives in admin settings; this is endpoint plumbing.
type ProviderConfig struct {
	CallTimeout time.Duration `envconfig:"PROVIDER_CALL_TIMEOUT" default:"120s"`

	OpenAIBaseURL    string `envconfig:"OPENAI_BASE_URL"`
	OpenAITextModel  string `envconfig:"OPENAI_TEXT_MODEL" default:"gpt-4o-mini"`
	OpenAIImageModel string `envconfig:"OPENAI_IMAGE_MODEL" default:"dall-e-3"`
	OpenAITTSModel   string `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`

	OVHTextURL   string `envconfig:"OVH_TEXT_URL"`
	OVHTextModel string `envconfig:"OVH_TEXT_MODEL" default:"Qwen2.5-VL-72B-Instruct"`
	OVHImageURL  string `envconfig:"OVH_IMAGE_URL"`

	OllamaBaseURL string `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	OllamaModel   string `envconfig:"OLLAMA_MODEL" default:"llama3.1"`

	// Secret fields, loaded outside envconfig.
	OpenAIAPIKey   string
	OVHAccessToken string
}

type PromptConfig struct {
	MaxWindowSegments int `envconfig:"PROMPT_MAX_WINDOW_SEGMENTS" default:"5"`
	TokenBudget       int `envconfig:"PROMPT_TOKEN_BUDGET" default:"2000"`
}

type StorageConfig struct {
	Dir           string `envconfig:"MEDIA_STORAGE_DIR" default:"/var/lib/taleforge/media"`
	PublicBaseURL string `envconfig:"MEDIA_PUBLIC_BASE_URL" required:"true"`
}

// LoadServer loads the server configuration from the environment plus secret
// files.
func LoadServer() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	var err error
	if cfg.Postgres.Password, err = ReadSecret("db_password"); err != nil {
		return nil, err
	}
	if cfg.JWTSecret, err = ReadSecret("jwt_secret"); err != nil {
		return nil, err
	}
	if err := loadProviderSecrets(&cfg.Providers); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWorker loads the worker configuration from the environment plus secret
// files.
func LoadWorker() (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}

	var err error
	if cfg.Postgres.Password, err = ReadSecret("db_password"); err != nil {
		return nil, err
	}
	if err := loadProviderSecrets(&cfg.Providers); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadProviderSecrets(cfg *ProviderConfig) error {
	var err error
	if cfg.OpenAIAPIKey, err = ReadSecret("openai_api_key"); err != nil {
		return err
	}
	// The OVH token is optional: deployments may run openai-only chains.
	cfg.OVHAccessToken, _ = ReadSecret("ovh_access_token")
	return nil
}

// ReadSecret reads a secret from the standard Docker secrets path, falling
// back to the uppercased environment variable for non-container runs.
func ReadSecret(secretName string) (string, error) {
	filePath := fmt.Sprintf("/run/secrets/%s", secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err == nil {
		secret := strings.TrimSpace(string(secretBytes))
		if secret == "" {
			return "", fmt.Errorf("secret file %s is empty", filePath)
		}
		return secret, nil
	}
	if fromEnv := strings.TrimSpace(os.Getenv(strings.ToUpper(secretName))); fromEnv != "" {
		return fromEnv, nil
	}
	return "", fmt.Errorf("failed to read secret %s: %w", secretName, err)
}
