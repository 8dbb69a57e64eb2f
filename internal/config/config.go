// Package config loads raffled configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/raffle_engine/services/raffle"
	"github.com/R3E-Network/raffle_engine/services/raffle/feeds"
)

// DefaultPath is read when RAFFLE_CONFIG is unset.
var DefaultPath = filepath.Join("config", "raffle.yaml")

// Config is the full daemon configuration.
type Config struct {
	DevMode  bool           `yaml:"dev_mode" env:"RAFFLE_DEV_MODE"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Raffle   RaffleConfig   `yaml:"raffle"`
	Tokens   []TokenConfig  `yaml:"tokens"`
}

// ServerConfig configures the HTTP listener and request middleware.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"RAFFLE_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"RAFFLE_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"RAFFLE_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"RAFFLE_SHUTDOWN_TIMEOUT"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	// CORSOriginsEnv is a comma-separated override for CORSOrigins.
	CORSOriginsEnv string  `yaml:"-" env:"RAFFLE_CORS_ORIGINS"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RAFFLE_RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RAFFLE_RATE_LIMIT_BURST"`
}

// LogConfig selects logger level and format.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// AuthConfig holds the HS256 signing secret for API tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"RAFFLE_JWT_SECRET"`
}

// DatabaseConfig selects the snapshot store. An empty DSN keeps snapshots in memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_URL"`
}

// RedisConfig enables the Redis event bus when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX"`
	History  int64  `yaml:"history"`
}

// RaffleConfig mirrors raffle.Config in file-friendly types.
type RaffleConfig struct {
	Owner          string `yaml:"owner" env:"RAFFLE_OWNER"`
	Coordinator    string `yaml:"coordinator" env:"RAFFLE_COORDINATOR"`
	Engine         string `yaml:"engine" env:"RAFFLE_ENGINE_ADDRESS"`
	PayoutToken    string `yaml:"payout_token" env:"RAFFLE_PAYOUT_TOKEN"`
	PayoutDecimals uint8  `yaml:"payout_decimals" env:"RAFFLE_PAYOUT_DECIMALS"`
	PlatformWallet string `yaml:"platform_wallet" env:"RAFFLE_PLATFORM_WALLET"`
	FounderWallet  string `yaml:"founder_wallet" env:"RAFFLE_FOUNDER_WALLET"`

	PlatformFeeBps    uint32 `yaml:"platform_fee_bps" env:"RAFFLE_PLATFORM_FEE_BPS"`
	FounderFeeBps     uint32 `yaml:"founder_fee_bps" env:"RAFFLE_FOUNDER_FEE_BPS"`
	MaxCombinedFeeBps uint32 `yaml:"max_combined_fee_bps" env:"RAFFLE_MAX_COMBINED_FEE_BPS"`

	MaxParticipants int           `yaml:"max_participants" env:"RAFFLE_MAX_PARTICIPANTS"`
	MinDepositUSD   string        `yaml:"min_deposit_usd" env:"RAFFLE_MIN_DEPOSIT_USD"`
	GameDuration    time.Duration `yaml:"game_duration" env:"RAFFLE_GAME_DURATION"`
	FreshnessWindow time.Duration `yaml:"freshness_window" env:"RAFFLE_FRESHNESS_WINDOW"`
	MinOutBps       uint32        `yaml:"min_out_bps" env:"RAFFLE_MIN_OUT_BPS"`
	FeeTier         uint32        `yaml:"fee_tier" env:"RAFFLE_FEE_TIER"`

	UpkeepSchedule string            `yaml:"upkeep_schedule" env:"RAFFLE_UPKEEP_SCHEDULE"`
	Draw           raffle.DrawConfig `yaml:"draw"`
}

// TokenConfig allow-lists a token with its HTTP price source. SwapRate is the
// payout units the in-process router pays per token unit.
type TokenConfig struct {
	Address  string       `yaml:"address"`
	Decimals uint8        `yaml:"decimals"`
	Feed     feeds.Source `yaml:"feed"`
	SwapRate raffle.Rate  `yaml:"swap_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    10,
			RateLimitBurst:  20,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Redis: RedisConfig{
			Prefix: "raffle",
		},
		Raffle: RaffleConfig{
			PayoutDecimals:    raffle.DefaultTokenDecimals,
			MaxCombinedFeeBps: raffle.DefaultMaxCombinedFeeBps,
			MaxParticipants:   raffle.DefaultMaxParticipants,
			MinDepositUSD:     "0",
			GameDuration:      raffle.DefaultGameDuration,
			FreshnessWindow:   raffle.DefaultFreshnessWindow,
			MinOutBps:         raffle.DefaultMinOutBps,
			FeeTier:           raffle.DefaultFeeTier,
			UpkeepSchedule:    raffle.DefaultUpkeepSchedule,
			Draw: raffle.DrawConfig{
				Confirmations:    raffle.DefaultConfirmations,
				CallbackGasLimit: raffle.DefaultCallbackGasLimit,
			},
		},
	}
}

// Load reads RAFFLE_CONFIG (or DefaultPath when present), then .env, then the
// environment. Later sources override earlier ones.
func Load() (*Config, error) {
	path := os.Getenv("RAFFLE_CONFIG")
	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	return LoadFromPath(path)
}

// LoadFromPath loads the YAML file at path (skipped when empty) and applies
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read raffle config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse raffle config: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	if cfg.Server.CORSOriginsEnv != "" {
		cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOriginsEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "server rate limit must not be negative")
	}
	if c.Auth.JWTSecret == "" && !c.DevMode {
		errs = append(errs, "auth.jwt_secret is required outside dev mode")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, "auth.jwt_secret must be at least 16 bytes")
	}
	if _, err := c.MinDepositUSD(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Raffle.UpkeepSchedule == "" {
		errs = append(errs, "raffle.upkeep_schedule is required")
	}

	seen := make(map[string]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		addr := strings.ToLower(strings.TrimSpace(t.Address))
		switch {
		case addr == "":
			errs = append(errs, fmt.Sprintf("tokens[%d]: address is required", i))
		case seen[addr]:
			errs = append(errs, fmt.Sprintf("tokens[%d]: duplicate address %s", i, t.Address))
		}
		seen[addr] = true
		if t.SwapRate.Num < 0 || t.SwapRate.Den < 0 {
			errs = append(errs, fmt.Sprintf("tokens[%d]: swap_rate must not be negative", i))
		}
		if t.Feed.URL == "" && !c.DevMode {
			errs = append(errs, fmt.Sprintf("tokens[%d]: feed.url is required outside dev mode", i))
		}
	}

	if !c.DevMode {
		if err := c.Engine().Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MinDepositUSD parses the minimum deposit into an 18-decimal USD value.
func (c *Config) MinDepositUSD() (*big.Int, error) {
	raw := strings.TrimSpace(c.Raffle.MinDepositUSD)
	if raw == "" {
		return new(big.Int), nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("raffle.min_deposit_usd %q is not a decimal", raw)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("raffle.min_deposit_usd must not be negative")
	}
	return d.Shift(raffle.USDDecimals).Truncate(0).BigInt(), nil
}

// Engine converts the raffle section into engine configuration.
func (c *Config) Engine() raffle.Config {
	minDeposit, err := c.MinDepositUSD()
	if err != nil {
		minDeposit = new(big.Int)
	}
	r := c.Raffle
	return raffle.Config{
		Owner:             raffle.Address(r.Owner),
		Coordinator:       raffle.Address(r.Coordinator),
		Engine:            raffle.Address(r.Engine),
		PayoutToken:       raffle.Address(r.PayoutToken),
		PayoutDecimals:    r.PayoutDecimals,
		PlatformWallet:    raffle.Address(r.PlatformWallet),
		FounderWallet:     raffle.Address(r.FounderWallet),
		PlatformFeeBps:    r.PlatformFeeBps,
		FounderFeeBps:     r.FounderFeeBps,
		MaxCombinedFeeBps: r.MaxCombinedFeeBps,
		MaxParticipants:   r.MaxParticipants,
		MinDepositUSD:     minDeposit,
		GameDuration:      r.GameDuration,
		FreshnessWindow:   r.FreshnessWindow,
		MinOutBps:         r.MinOutBps,
		FeeTier:           r.FeeTier,
		Draw:              r.Draw,
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
