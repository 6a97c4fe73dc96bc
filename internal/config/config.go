// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev  bool
	Path string
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxWebhookBytes int64         `yaml:"max_webhook_bytes"`
}

type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	MaxTxRetry  int           `yaml:"max_tx_retry"` // retries on serialization failure
	MaxConns    int32         `yaml:"max_conns"`
	ConnectWait time.Duration `yaml:"connect_wait"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type GatewayConfig struct {
	Provider      string        `yaml:"provider"` // razorpay | noop
	BaseURL       string        `yaml:"base_url"`
	KeyID         string        `yaml:"key_id"`
	KeySecret     string        `yaml:"key_secret"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
	RPS           float64       `yaml:"rps"`
	Burst         int           `yaml:"burst"`
	TotalCount    int           `yaml:"total_count"` // billing cycles per mandate
}

type AuthConfig struct {
	ClientJWTSecret string        `yaml:"client_jwt_secret"`
	AdminJWTSecret  string        `yaml:"admin_jwt_secret"`
	AdminAPIKey     string        `yaml:"admin_api_key"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
}

type EntitlementConfig struct {
	GraceWindow          time.Duration `yaml:"grace_window"`
	PromptCooldown       time.Duration `yaml:"prompt_cooldown"`
	VerificationCurrency string        `yaml:"verification_currency"`
}

// PricingConfig is display metadata plus the intro charge amount sent to the gateway.
type PricingConfig struct {
	IntroAmount     int64  `yaml:"intro_amount"` // minor units
	RecurringAmount int64  `yaml:"recurring_amount"`
	Currency        string `yaml:"currency"`
	IntroLabel      string `yaml:"intro_label"`
}

type RateLimitConfig struct {
	LifecycleLimit  int           `yaml:"lifecycle_limit"`
	LifecycleWindow time.Duration `yaml:"lifecycle_window"`
}

type Config struct {
	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Auth        AuthConfig        `yaml:"auth"`
	Entitlement EntitlementConfig `yaml:"entitlement"`
	Pricing     PricingConfig     `yaml:"pricing"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Secrets may come from the process environment, optionally seeded from a
// dotenv file. They override the YAML values.
const (
	EnvDatabaseURL     = "DATABASE_URL"
	EnvRedisPassword   = "REDIS_PASSWORD"
	EnvGatewayKeyID    = "GATEWAY_KEY_ID"
	EnvGatewaySecret   = "GATEWAY_KEY_SECRET"
	EnvWebhookSecret   = "GATEWAY_WEBHOOK_SECRET"
	EnvClientJWTSecret = "CLIENT_JWT_SECRET"
	EnvAdminJWTSecret  = "ADMIN_JWT_SECRET"
	EnvAdminAPIKey     = "ADMIN_API_KEY"
	EnvDotenvPath      = "BILLING_ENV_FILE"
)

// LoadConfig reads the YAML file at path, overlays secrets and validates.
// The result is never mutated afterwards; use a Holder to swap snapshots.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	env, err := readDotenv(os.Getenv(EnvDotenvPath))
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b, lookup(env))
	if err != nil {
		return nil, err
	}
	cfg.Runtime = RuntimeConfig{Dev: dev, Path: path}
	return cfg, nil
}

// Parse builds a Config from YAML bytes. getenv resolves secret overrides.
func Parse(b []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if getenv != nil {
		overlay(&cfg, getenv)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	m, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return m, nil
}

// lookup prefers the real environment over the dotenv file.
func lookup(file map[string]string) func(string) string {
	return func(k string) string {
		if v, ok := os.LookupEnv(k); ok {
			return v
		}
		return file[k]
	}
}

func overlay(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Database.URL, EnvDatabaseURL)
	set(&cfg.Redis.Password, EnvRedisPassword)
	set(&cfg.Gateway.KeyID, EnvGatewayKeyID)
	set(&cfg.Gateway.KeySecret, EnvGatewaySecret)
	set(&cfg.Gateway.WebhookSecret, EnvWebhookSecret)
	set(&cfg.Auth.ClientJWTSecret, EnvClientJWTSecret)
	set(&cfg.Auth.AdminJWTSecret, EnvAdminJWTSecret)
	set(&cfg.Auth.AdminAPIKey, EnvAdminAPIKey)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HTTP.MaxWebhookBytes <= 0 {
		cfg.HTTP.MaxWebhookBytes = 1 << 20
	}
	if cfg.Database.MaxTxRetry <= 0 {
		cfg.Database.MaxTxRetry = 3
	}
	if cfg.Database.ConnectWait <= 0 {
		cfg.Database.ConnectWait = 5 * time.Second
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = "razorpay"
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://api.razorpay.com/v1"
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 5 * time.Second
	}
	if cfg.Gateway.RPS <= 0 {
		cfg.Gateway.RPS = 10
	}
	if cfg.Gateway.Burst <= 0 {
		cfg.Gateway.Burst = 5
	}
	if cfg.Gateway.TotalCount <= 0 {
		cfg.Gateway.TotalCount = 120
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 30 * time.Minute
	}

	if cfg.Entitlement.GraceWindow <= 0 {
		cfg.Entitlement.GraceWindow = 7 * 24 * time.Hour
	}
	if cfg.Entitlement.PromptCooldown <= 0 {
		cfg.Entitlement.PromptCooldown = 30 * 24 * time.Hour
	}
	if cfg.Entitlement.VerificationCurrency == "" {
		cfg.Entitlement.VerificationCurrency = "INR"
	}
	if cfg.Pricing.Currency == "" {
		cfg.Pricing.Currency = cfg.Entitlement.VerificationCurrency
	}
	if cfg.Pricing.IntroLabel == "" {
		cfg.Pricing.IntroLabel = "Verification fee"
	}

	if cfg.RateLimit.LifecycleLimit <= 0 {
		cfg.RateLimit.LifecycleLimit = 10
	}
	if cfg.RateLimit.LifecycleWindow <= 0 {
		cfg.RateLimit.LifecycleWindow = time.Minute
	}
}

// validate rejects configs that cannot serve traffic. A missing webhook
// secret is allowed: the webhook endpoint then fails closed per request.
func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	switch cfg.Gateway.Provider {
	case "razorpay":
		if cfg.Gateway.KeyID == "" || cfg.Gateway.KeySecret == "" {
			return errors.New("gateway.key_id and gateway.key_secret are required")
		}
	case "noop":
	default:
		return fmt.Errorf("gateway.provider %q is not supported", cfg.Gateway.Provider)
	}
	if cfg.Auth.ClientJWTSecret == "" {
		return errors.New("auth.client_jwt_secret is required")
	}
	if cfg.Pricing.IntroAmount < 0 || cfg.Pricing.RecurringAmount < 0 {
		return errors.New("pricing amounts must not be negative")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

// Holder publishes the current config snapshot. Readers always see a
// complete snapshot; Reload swaps it in one step.
type Holder struct {
	cur atomic.Pointer[Config]
}

func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.cur.Store(cfg)
	return h
}

func (h *Holder) Current() *Config { return h.cur.Load() }

// Reload re-reads the file the current snapshot came from. On error the
// current snapshot stays in place. Connection settings (database, redis,
// http address) only take effect after a restart.
func (h *Holder) Reload() (*Config, error) {
	old := h.Current()
	next, err := LoadConfig(old.Runtime.Path, old.Runtime.Dev)
	if err != nil {
		return old, err
	}
	h.cur.Store(next)
	return next, nil
}
