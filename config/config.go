package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/rent-ledger/latefee"
	"github.com/warp/rent-ledger/ledger"
)

// Config holds all application configuration. Values come from defaults,
// then an optional YAML file, then RENT_* environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	LateFee   LateFeeConfig   `yaml:"late_fee"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`

	// Per-IP limit on write endpoints, requests per second.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// StoreConfig selects the ledger store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory", "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the shared charge-run lock when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig holds bearer token settings. An empty secret disables auth.
type JWTConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

type LedgerConfig struct {
	Currency          string `yaml:"currency"`
	ChargeConcurrency int    `yaml:"charge_concurrency"`
}

type LateFeeConfig struct {
	GraceDays int    `yaml:"grace_days"`
	Percent   string `yaml:"percent"`
	Minimum   int64  `yaml:"minimum"`

	// ReminderDays is how old the latest charge must be before an unpaid
	// balance earns a reminder.
	ReminderDays int `yaml:"reminder_days"`
}

type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ChargeRentCron string `yaml:"charge_rent_cron"`
	LateFeeCron    string `yaml:"late_fee_cron"`
	ReminderCron   string `yaml:"reminder_cron"`
	Notify         bool   `yaml:"notify"`
}

type SendGridConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       5,
			RateBurst:       10,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "./data/rent.db",
		},
		JWT: JWTConfig{
			TokenTTL: 12 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ledger: LedgerConfig{
			Currency:          string(ledger.DefaultCurrency),
			ChargeConcurrency: 8,
		},
		LateFee: LateFeeConfig{
			GraceDays: latefee.DefaultGraceDays,
			Percent:   strconv.Itoa(latefee.DefaultPercent),
			Minimum:   latefee.DefaultMinimum,

			ReminderDays: latefee.DefaultReminderDays,
		},
		Scheduler: SchedulerConfig{
			Enabled:        false,
			ChargeRentCron: "0 0 6 1 * *",
			LateFeeCron:    "0 0 7 * * *",
			ReminderCron:   "0 0 9 * * *",
			Notify:         true,
		},
		SendGrid: SendGridConfig{
			FromName: "Property Management",
		},
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error

	c.Server.Addr = getEnv("RENT_SERVER_ADDR", c.Server.Addr)
	if c.Server.ReadTimeout, err = getEnvDuration("RENT_SERVER_READ_TIMEOUT", c.Server.ReadTimeout); err != nil {
		return err
	}
	if c.Server.WriteTimeout, err = getEnvDuration("RENT_SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout); err != nil {
		return err
	}
	if c.Server.ShutdownTimeout, err = getEnvDuration("RENT_SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout); err != nil {
		return err
	}
	c.Server.CORSOrigins = getEnvList("RENT_CORS_ORIGINS", c.Server.CORSOrigins)
	if c.Server.RateLimit, err = getEnvFloat("RENT_RATE_LIMIT", c.Server.RateLimit); err != nil {
		return err
	}
	if c.Server.RateBurst, err = getEnvInt("RENT_RATE_BURST", c.Server.RateBurst); err != nil {
		return err
	}

	c.Store.Driver = getEnv("RENT_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("RENT_STORE_DSN", c.Store.DSN)

	c.Redis.Addr = getEnv("RENT_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("RENT_REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt("RENT_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}

	c.JWT.Secret = getEnv("RENT_JWT_SECRET", c.JWT.Secret)
	if c.JWT.TokenTTL, err = getEnvDuration("RENT_JWT_TOKEN_TTL", c.JWT.TokenTTL); err != nil {
		return err
	}

	c.Log.Level = getEnv("RENT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("RENT_LOG_FORMAT", c.Log.Format)

	c.Ledger.Currency = getEnv("RENT_CURRENCY", c.Ledger.Currency)
	if c.Ledger.ChargeConcurrency, err = getEnvInt("RENT_CHARGE_CONCURRENCY", c.Ledger.ChargeConcurrency); err != nil {
		return err
	}

	if c.LateFee.GraceDays, err = getEnvInt("RENT_LATE_FEE_GRACE_DAYS", c.LateFee.GraceDays); err != nil {
		return err
	}
	c.LateFee.Percent = getEnv("RENT_LATE_FEE_PERCENT", c.LateFee.Percent)
	minimum, err := getEnvInt("RENT_LATE_FEE_MINIMUM", int(c.LateFee.Minimum))
	if err != nil {
		return err
	}
	c.LateFee.Minimum = int64(minimum)
	if c.LateFee.ReminderDays, err = getEnvInt("RENT_LATE_FEE_REMINDER_DAYS", c.LateFee.ReminderDays); err != nil {
		return err
	}

	if c.Scheduler.Enabled, err = getEnvBool("RENT_SCHEDULER_ENABLED", c.Scheduler.Enabled); err != nil {
		return err
	}
	c.Scheduler.ChargeRentCron = getEnv("RENT_SCHEDULER_CHARGE_RENT_CRON", c.Scheduler.ChargeRentCron)
	c.Scheduler.LateFeeCron = getEnv("RENT_SCHEDULER_LATE_FEE_CRON", c.Scheduler.LateFeeCron)
	c.Scheduler.ReminderCron = getEnv("RENT_SCHEDULER_REMINDER_CRON", c.Scheduler.ReminderCron)
	if c.Scheduler.Notify, err = getEnvBool("RENT_SCHEDULER_NOTIFY", c.Scheduler.Notify); err != nil {
		return err
	}

	c.SendGrid.APIKey = getEnv("RENT_SENDGRID_API_KEY", c.SendGrid.APIKey)
	c.SendGrid.FromEmail = getEnv("RENT_SENDGRID_FROM_EMAIL", c.SendGrid.FromEmail)
	c.SendGrid.FromName = getEnv("RENT_SENDGRID_FROM_NAME", c.SendGrid.FromName)
	return nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("RENT_STORE_DSN is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("RENT_STORE_DRIVER must be memory, sqlite or postgres, got %q", c.Store.Driver)
	}

	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return errors.New("RENT_JWT_SECRET must be at least 32 characters")
	}
	if c.JWT.TokenTTL <= 0 {
		return fmt.Errorf("RENT_JWT_TOKEN_TTL must be positive, got %s", c.JWT.TokenTTL)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("RENT_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("RENT_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return errors.New("RENT_RATE_LIMIT and RENT_RATE_BURST must not be negative")
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("RENT_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}
	if len(c.Ledger.Currency) != 3 {
		return fmt.Errorf("RENT_CURRENCY must be a 3-letter code, got %q", c.Ledger.Currency)
	}
	if c.Ledger.ChargeConcurrency < 1 {
		return fmt.Errorf("RENT_CHARGE_CONCURRENCY must be >= 1, got %d", c.Ledger.ChargeConcurrency)
	}

	if _, err := c.LateFeePolicy(); err != nil {
		return err
	}
	if c.LateFee.ReminderDays < 0 {
		return fmt.Errorf("RENT_LATE_FEE_REMINDER_DAYS must not be negative, got %d", c.LateFee.ReminderDays)
	}

	if c.SendGrid.APIKey != "" && c.SendGrid.FromEmail == "" {
		return errors.New("RENT_SENDGRID_FROM_EMAIL is required when a SendGrid key is set")
	}
	return nil
}

// LateFeePolicy converts the late fee settings.
func (c *Config) LateFeePolicy() (latefee.Policy, error) {
	pct, err := decimal.NewFromString(c.LateFee.Percent)
	if err != nil {
		return latefee.Policy{}, fmt.Errorf("RENT_LATE_FEE_PERCENT %q is not a number", c.LateFee.Percent)
	}
	p := latefee.Policy{
		GraceDays: c.LateFee.GraceDays,
		Percent:   pct,
		Minimum:   ledger.NewMoney(c.LateFee.Minimum, ledger.Currency(c.Ledger.Currency)),
	}
	if err := p.Validate(); err != nil {
		return latefee.Policy{}, fmt.Errorf("late fee policy: %w", err)
	}
	return p, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
