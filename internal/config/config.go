package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/richardliu001/quickpay/internal/logger"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when QUICKPAY_CONFIG is unset.
const DefaultPath = "internal/config/config.yaml"

// Config top-level struct
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Bank        BankConfig        `yaml:"bank"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Simulator   SimulatorConfig   `yaml:"simulator"`
	TopUp       TopUpConfig       `yaml:"topup"`
	Log         logger.Options    `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Env             string        `yaml:"env"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Development reports whether relaxed (dev-only) policies apply.
func (s ServerConfig) Development() bool { return s.Env != "production" }

type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS     int           `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// BankConfig points the gateway adapter at the external processor.
type BankConfig struct {
	URL                  string        `yaml:"url"`
	Timeout              time.Duration `yaml:"timeout"`
	WebhookSecret        string        `yaml:"webhook_secret"`
	AllowedCallbackHosts []string      `yaml:"allowed_callback_hosts"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ReconcileConfig drives the optional stale-processing sweep; a zero
// ProcessingTimeout disables it.
type ReconcileConfig struct {
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
	Interval          time.Duration `yaml:"interval"`
	Batch             int           `yaml:"batch"`
}

// TopUpConfig names the platform merchant that owns wallet top-up intents.
type TopUpConfig struct {
	MerchantName string `yaml:"merchant_name"`
}

type SimulatorConfig struct {
	Port            int           `yaml:"port"`
	SuccessRate     float64       `yaml:"success_rate"`
	MinDelay        time.Duration `yaml:"min_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	CallbackTimeout time.Duration `yaml:"callback_timeout"`
}

// Path returns the config path from QUICKPAY_CONFIG or the default.
func Path() string {
	if p := os.Getenv("QUICKPAY_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = c.Postgres.DSN + " password=" + pw
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		c.Server.PublicBaseURL = v
	}
	if v := os.Getenv("BANK_URL"); v != "" {
		c.Bank.URL = v
	}
	if v := os.Getenv("BANK_WEBHOOK_SECRET"); v != "" {
		c.Bank.WebhookSecret = v
	}
	if v := os.Getenv("ALLOWED_CALLBACK_HOSTS"); v != "" {
		c.Bank.AllowedCallbackHosts = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 20
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.RateLimit.IdleTTL == 0 {
		c.RateLimit.IdleTTL = 10 * time.Minute
	}
	if c.Bank.Timeout == 0 {
		c.Bank.Timeout = 10 * time.Second
	}
	if c.Idempotency.TTL == 0 {
		c.Idempotency.TTL = 24 * time.Hour
	}
	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = time.Minute
	}
	if c.Reconcile.Batch == 0 {
		c.Reconcile.Batch = 100
	}
	if c.TopUp.MerchantName == "" {
		c.TopUp.MerchantName = "QuickPay Wallet"
	}
	if c.Simulator.Port == 0 {
		c.Simulator.Port = 3003
	}
	if c.Simulator.SuccessRate == 0 {
		c.Simulator.SuccessRate = 0.8
	}
	if c.Simulator.MinDelay == 0 {
		c.Simulator.MinDelay = 2 * time.Second
	}
	if c.Simulator.MaxDelay == 0 {
		c.Simulator.MaxDelay = 5 * time.Second
	}
	if c.Simulator.CallbackTimeout == 0 {
		c.Simulator.CallbackTimeout = 10 * time.Second
	}
}

// CallbackURL is where the bank posts settlement results.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.Server.PublicBaseURL, "/") + "/v1/webhooks/bank"
}
