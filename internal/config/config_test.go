package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle_engine/services/raffle"
	"github.com/R3E-Network/raffle_engine/services/raffle/feeds"
)

const sampleYAML = `
server:
  addr: ":9090"
  cors_origins: ["https://raffle.example"]
auth:
  jwt_secret: "0123456789abcdef0123"
raffle:
  owner: "0xOwner"
  coordinator: "0xcoordinator"
  engine: "0xengine"
  payout_token: "0xusdc"
  payout_decimals: 6
  platform_wallet: "0xplatform"
  founder_wallet: "0xfounder"
  platform_fee_bps: 500
  founder_fee_bps: 300
  min_deposit_usd: "1.25"
  game_duration: 12h
  draw:
    key_hash: "0xkeyhash"
    confirmations: 5
tokens:
  - address: "0xusdc"
    decimals: 6
    feed:
      name: usdc
      url: "https://prices.example/usdc"
      price_path: "usd"
      cache_ttl: 30s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raffle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func feedSource(url string) feeds.Source {
	return feeds.Source{Name: "test", URL: url, PricePath: "usd"}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "@every 1m", cfg.Raffle.UpkeepSchedule)
	assert.Equal(t, uint32(raffle.DefaultMinOutBps), cfg.Raffle.MinOutBps)
	assert.Equal(t, raffle.DefaultGameDuration, cfg.Raffle.GameDuration)
}

func TestLoadFromPath(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, sampleYAML)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://raffle.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 12*time.Hour, cfg.Raffle.GameDuration)
	assert.Equal(t, uint16(5), cfg.Raffle.Draw.Confirmations)
	assert.Equal(t, uint32(raffle.DefaultCallbackGasLimit), cfg.Raffle.Draw.CallbackGasLimit)
	require.Len(t, cfg.Tokens, 1)
	assert.Equal(t, 30*time.Second, cfg.Tokens[0].Feed.CacheTTL)

	engine := cfg.Engine()
	assert.Equal(t, raffle.Address("0xOwner"), engine.Owner)
	assert.Equal(t, uint8(6), engine.PayoutDecimals)
	want, _ := new(big.Int).SetString("1250000000000000000", 10)
	assert.Equal(t, 0, engine.MinDepositUSD.Cmp(want))
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, sampleYAML)

	t.Setenv("RAFFLE_ADDR", ":7070")
	t.Setenv("RAFFLE_PLATFORM_FEE_BPS", "100")
	t.Setenv("RAFFLE_GAME_DURATION", "30m")
	t.Setenv("RAFFLE_CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, uint32(100), cfg.Raffle.PlatformFeeBps)
	assert.Equal(t, uint32(300), cfg.Raffle.FounderFeeBps)
	assert.Equal(t, 30*time.Minute, cfg.Raffle.GameDuration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoadFromPath_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RAFFLE_DEV_MODE=true\nLOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("RAFFLE_DEV_MODE")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := LoadFromPath("")
	require.NoError(t, err)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RAFFLE_CONFIG", "does-not-exist.yaml")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read raffle config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.JWTSecret = "0123456789abcdef"
		cfg.Raffle.Owner = "0xowner"
		cfg.Raffle.Coordinator = "0xcoordinator"
		cfg.Raffle.Engine = "0xengine"
		cfg.Raffle.PayoutToken = "0xusdc"
		cfg.Tokens = []TokenConfig{{Address: "0xusdc", Feed: feedSource("https://p.example")}}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret is required"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 16 bytes"},
		{"bad min deposit", func(c *Config) { c.Raffle.MinDepositUSD = "ten" }, "not a decimal"},
		{"negative min deposit", func(c *Config) { c.Raffle.MinDepositUSD = "-1" }, "must not be negative"},
		{"missing owner", func(c *Config) { c.Raffle.Owner = "" }, "owner is required"},
		{"fees too high", func(c *Config) {
			c.Raffle.PlatformWallet = "0xp"
			c.Raffle.PlatformFeeBps = 3000
		}, "combined fee exceeds cap"},
		{"duplicate token", func(c *Config) {
			c.Tokens = append(c.Tokens, TokenConfig{Address: "0xUSDC", Feed: feedSource("https://p.example")})
		}, "duplicate address"},
		{"missing feed url", func(c *Config) { c.Tokens[0].Feed.URL = "" }, "feed.url is required"},
		{"empty schedule", func(c *Config) { c.Raffle.UpkeepSchedule = "" }, "upkeep_schedule is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("dev mode relaxes identities", func(t *testing.T) {
		cfg := Default()
		cfg.DevMode = true
		cfg.Tokens = []TokenConfig{{Address: "0xusdc"}}
		assert.NoError(t, cfg.Validate())
	})
}
