package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Auth     AuthConfig     `yaml:"auth"`
	Campaign CampaignConfig `yaml:"campaign"`
	SES      SESConfig      `yaml:"ses"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                  int      `yaml:"port"`
	Host                  string   `yaml:"host"`
	CORSOrigins           []string `yaml:"cors_origins"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// RequestTimeout bounds a single API request.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// StorageConfig selects the repository backend
type StorageConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "memory"
}

// LLMConfig holds text-generation provider settings
type LLMConfig struct {
	Provider       string `yaml:"provider"` // "gemini", "bedrock" or "openai"
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Region         string `yaml:"region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the per-call deadline for the provider.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AuthConfig holds token and Google OAuth configuration
type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	TokenTTLHours      int    `yaml:"token_ttl_hours"`
	BcryptCost         int    `yaml:"bcrypt_cost"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURL  string `yaml:"google_redirect_url"`
}

// TokenTTL returns the bearer token lifetime.
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c AuthConfig) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// CampaignConfig holds fan-out settings
type CampaignConfig struct {
	DeliveryMode       string  `yaml:"delivery_mode"` // "sync" or "async"
	Vendor             string  `yaml:"vendor"`        // "simulated" or "ses"
	SuccessRate        float64 `yaml:"success_rate"`
	SendTimeoutSeconds int     `yaml:"send_timeout_seconds"`
	LockTTLSeconds     int     `yaml:"lock_ttl_seconds"`
}

// SendTimeout bounds a single vendor call.
func (c CampaignConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// LockTTL bounds how long a create-campaign lock may be held.
func (c CampaignConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// SESConfig holds AWS SES configuration
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// WorkerConfig holds async delivery worker settings
type WorkerConfig struct {
	Concurrency             int `yaml:"concurrency"`
	RecoveryIntervalSeconds int `yaml:"recovery_interval_seconds"`
	StaleAgeSeconds         int `yaml:"stale_age_seconds"`
	// Embedded runs the delivery worker inside the API server process.
	Embedded bool `yaml:"embedded"`
	// Vendor call caps shared by all workers through Redis; 0 disables.
	RatePerSecond int `yaml:"rate_per_second"`
	RatePerMinute int `yaml:"rate_per_minute"`
}

// RecoveryInterval returns how often the queue recovery sweep runs.
func (c WorkerConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSeconds) * time.Second
}

// StaleAge returns how long a claimed job may run before it is reclaimed.
func (c WorkerConfig) StaleAge() time.Duration {
	return time.Duration(c.StaleAgeSeconds) * time.Second
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // "json" or "console"
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on (default true).
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file. A missing file is not an
// error: defaults plus environment overrides are enough to run.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 60
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "gemini"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "bedrock":
			cfg.LLM.Model = "anthropic.claude-3-haiku-20240307-v1:0"
		case "openai":
			cfg.LLM.Model = "gpt-4o-mini"
		default:
			cfg.LLM.Model = "gemini-2.5-flash"
		}
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 30
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.Region == "" {
		cfg.LLM.Region = "us-east-1"
	}
	if cfg.Auth.TokenTTLHours == 0 {
		cfg.Auth.TokenTTLHours = 24
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 10
	}
	if cfg.Campaign.DeliveryMode == "" {
		cfg.Campaign.DeliveryMode = "sync"
	}
	if cfg.Campaign.Vendor == "" {
		cfg.Campaign.Vendor = "simulated"
	}
	if cfg.Campaign.SuccessRate == 0 {
		cfg.Campaign.SuccessRate = 0.8
	}
	if cfg.Campaign.SendTimeoutSeconds == 0 {
		cfg.Campaign.SendTimeoutSeconds = 10
	}
	if cfg.Campaign.LockTTLSeconds == 0 {
		cfg.Campaign.LockTTLSeconds = 120
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.RecoveryIntervalSeconds == 0 {
		cfg.Worker.RecoveryIntervalSeconds = 120
	}
	if cfg.Worker.StaleAgeSeconds == 0 {
		cfg.Worker.StaleAgeSeconds = 300
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// LLM overrides. The provider-specific key wins over the generic one.
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	switch cfg.LLM.Provider {
	case "gemini":
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			cfg.LLM.APIKey = v
		}
	case "openai":
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.LLM.APIKey = v
		}
		if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
			cfg.LLM.BaseURL = v
		}
	case "bedrock":
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.LLM.Region = v
		}
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("GOOGLE_REDIRECT_URL"); v != "" {
		cfg.Auth.GoogleRedirectURL = v
	}

	if v := os.Getenv("DELIVERY_MODE"); v != "" {
		cfg.Campaign.DeliveryMode = v
	}
	if v := os.Getenv("DELIVERY_VENDOR"); v != "" {
		cfg.Campaign.Vendor = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("WORKER_EMBEDDED"); v != "" {
		cfg.Worker.Embedded, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("WORKER_RATE_PER_SECOND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.RatePerSecond = n
		}
	}
	if v := os.Getenv("WORKER_RATE_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.RatePerMinute = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Validate reports every configuration problem at once. The server treats
// any error as fatal at startup.
func (cfg *Config) Validate() error {
	var result *multierror.Error

	switch cfg.LLM.Provider {
	case "gemini", "openai":
		if cfg.LLM.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("llm: api key is required for provider %q", cfg.LLM.Provider))
		}
	case "bedrock":
		if cfg.LLM.Region == "" {
			result = multierror.Append(result, errors.New("llm: region is required for bedrock"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("llm: unknown provider %q", cfg.LLM.Provider))
	}

	if cfg.Auth.JWTSecret == "" {
		result = multierror.Append(result, errors.New("auth: jwt_secret is required"))
	}

	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Database.URL == "" {
			result = multierror.Append(result, errors.New("database: url is required for the postgres driver"))
		}
	case "memory":
	default:
		result = multierror.Append(result, fmt.Errorf("storage: unknown driver %q", cfg.Storage.Driver))
	}

	switch cfg.Campaign.DeliveryMode {
	case "sync":
	case "async":
		if !cfg.Redis.Enabled() {
			result = multierror.Append(result, errors.New("campaign: async delivery requires redis"))
		}
		if cfg.Storage.Driver == "memory" && !cfg.Worker.Embedded {
			result = multierror.Append(result, errors.New("worker: async delivery with memory storage needs worker.embedded"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("campaign: unknown delivery_mode %q", cfg.Campaign.DeliveryMode))
	}

	if cfg.Worker.RatePerSecond < 0 || cfg.Worker.RatePerMinute < 0 {
		result = multierror.Append(result, errors.New("worker: rate limits must not be negative"))
	}

	switch cfg.Campaign.Vendor {
	case "simulated":
		if cfg.Campaign.SuccessRate < 0 || cfg.Campaign.SuccessRate > 1 {
			result = multierror.Append(result, errors.New("campaign: success_rate must be within [0,1]"))
		}
	case "ses":
		if cfg.SES.FromEmail == "" {
			result = multierror.Append(result, errors.New("ses: from_email is required"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("campaign: unknown vendor %q", cfg.Campaign.Vendor))
	}

	return result.ErrorOrNil()
}
