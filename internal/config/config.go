package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverBadger   = "badger"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Env      string       `yaml:"env"`
	Port     int          `yaml:"port"`
	LogLevel string       `yaml:"log_level"`
	Store    StoreConfig  `yaml:"store"`
	Redis    RedisConfig  `yaml:"redis"`
	Nats     NatsConfig   `yaml:"nats"`
	Engine   EngineConfig `yaml:"engine"`
	Admin    AdminConfig  `yaml:"admin"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver"`
	BadgerPath string `yaml:"badger_path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NatsConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type EngineConfig struct {
	BettingWindow time.Duration `yaml:"betting_window"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	RoundCooldown time.Duration `yaml:"round_cooldown"`
	GrowthRate    float64       `yaml:"growth_rate"`
	MaxWager      string        `yaml:"max_wager"`
	RetryBudget   time.Duration `yaml:"retry_budget"`
	StatsCacheTTL time.Duration `yaml:"stats_cache_ttl"`
}

type AdminConfig struct {
	Token     string   `yaml:"token"`
	Operators []string `yaml:"operators"`
}

func Default() *Config {
	return &Config{
		Env:      "dev",
		Port:     8080,
		LogLevel: "info",
		Store: StoreConfig{
			Driver:     StoreDriverPostgres,
			BadgerPath: "./data/ledger",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Nats:  NatsConfig{SubjectPrefix: "crash"},
		Engine: EngineConfig{
			BettingWindow: 6 * time.Second,
			TickInterval:  100 * time.Millisecond,
			GrowthRate:    0.06,
			RetryBudget:   5 * time.Second,
			StatsCacheTTL: 5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file at
// CONFIG_PATH and finally environment variables (.env is autoloaded).
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Env = getEnv("APP_ENV", c.Env)
	c.Port = getEnvAsInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.BadgerPath = getEnv("BADGER_PATH", c.Store.BadgerPath)

	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	c.Nats.URL = getEnv("NATS_URL", c.Nats.URL)
	c.Nats.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.Nats.SubjectPrefix)

	c.Engine.BettingWindow = getEnvAsDuration("BETTING_WINDOW", c.Engine.BettingWindow)
	c.Engine.TickInterval = getEnvAsDuration("TICK_INTERVAL", c.Engine.TickInterval)
	c.Engine.RoundCooldown = getEnvAsDuration("ROUND_COOLDOWN", c.Engine.RoundCooldown)
	c.Engine.GrowthRate = getEnvAsFloat("GROWTH_RATE", c.Engine.GrowthRate)
	c.Engine.MaxWager = getEnv("MAX_WAGER", c.Engine.MaxWager)
	c.Engine.RetryBudget = getEnvAsDuration("RETRY_BUDGET", c.Engine.RetryBudget)
	c.Engine.StatsCacheTTL = getEnvAsDuration("STATS_CACHE_TTL", c.Engine.StatsCacheTTL)

	c.Admin.Token = getEnv("ADMIN_TOKEN", c.Admin.Token)
	if ops := os.Getenv("ADMIN_OPERATORS"); ops != "" {
		c.Admin.Operators = splitList(ops)
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverBadger, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Engine.BettingWindow <= 0 {
		return fmt.Errorf("betting window must be positive")
	}
	// 10 Hz is the slowest acceptable crash check
	if c.Engine.TickInterval <= 0 || c.Engine.TickInterval > 100*time.Millisecond {
		return fmt.Errorf("tick interval must be in (0, 100ms], got %s", c.Engine.TickInterval)
	}
	if c.Engine.GrowthRate <= 0 {
		return fmt.Errorf("growth rate must be positive")
	}
	if c.Engine.MaxWager != "" {
		if _, err := c.MaxWager(); err != nil {
			return err
		}
	}
	return nil
}

// MaxWager returns the configured wager cap; zero means uncapped.
func (c *Config) MaxWager() (decimal.Decimal, error) {
	if c.Engine.MaxWager == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(c.Engine.MaxWager)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid max wager %q", c.Engine.MaxWager)
	}
	return d, nil
}

func (c *Config) IsOperator(id string) bool {
	for _, op := range c.Admin.Operators {
		if op == id {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
