package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return LoadWithLookuper(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Fibonacci.Lookback)
	assert.Equal(t, 0, cfg.Fibonacci.Offset)
	assert.Equal(t, 0.382, cfg.Fibonacci.GoldenZoneLow)
	assert.Equal(t, 0.618, cfg.Fibonacci.GoldenZoneHigh)
	assert.Equal(t, "binance", cfg.Source.Provider)
	assert.Equal(t, "5m", cfg.Source.Interval)
	assert.Equal(t, 100, cfg.Source.Limit)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
	assert.Equal(t, "https://api-fxpractice.oanda.com", cfg.OANDA.APIURL)
	assert.False(t, cfg.Sinks.RedisEnabled)
	assert.Equal(t, "localhost:6379", cfg.GetRedisAddr())
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddr())

	levels, err := ParseLevels(cfg.Fibonacci.Levels)
	require.NoError(t, err)
	require.Len(t, levels, 10)
	assert.Equal(t, "level_0", levels[0].Name)
	assert.Equal(t, 2.618, levels[9].Ratio)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"FIB_LOOKBACK":        "30",
		"FIB_OFFSET":          "2",
		"SOURCE_PROVIDER":     "oanda",
		"SOURCE_SYMBOLS":      "EUR_USD,GBP_USD",
		"OANDA_ENVIRONMENT":   "live",
		"SINKS_REDIS_ENABLED": "true",
	})
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Fibonacci.Lookback)
	assert.Equal(t, 2, cfg.Fibonacci.Offset)
	assert.Equal(t, []string{"EUR_USD", "GBP_USD"}, cfg.Source.Symbols)
	assert.Equal(t, "https://api-fxtrade.oanda.com", cfg.OANDA.APIURL)
	assert.True(t, cfg.Sinks.RedisEnabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero lookback", map[string]string{"FIB_LOOKBACK": "0"}},
		{"negative offset", map[string]string{"FIB_OFFSET": "-1"}},
		{"bad levels", map[string]string{"FIB_LEVELS": "0,abc"}},
		{"unknown provider", map[string]string{"SOURCE_PROVIDER": "yahoo"}},
		{"limit below window", map[string]string{"SOURCE_LIMIT": "10"}},
		{"bad port", map[string]string{"SERVER_PORT": "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.env)
			assert.Error(t, err)
		})
	}
}

func TestParseLevels(t *testing.T) {
	levels, err := ParseLevels(" 0 , golden=0.618, 1.618 ")
	require.NoError(t, err)
	require.Len(t, levels, 3)

	assert.Equal(t, "level_0", levels[0].Name)
	assert.Equal(t, 0.0, levels[0].Ratio)
	assert.Equal(t, "golden", levels[1].Name)
	assert.Equal(t, 0.618, levels[1].Ratio)
	assert.Equal(t, "level_2", levels[2].Name)

	_, err = ParseLevels("")
	assert.Error(t, err)

	_, err = ParseLevels("a=0.1,a=0.2")
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("AUTOFIB_TEST_DOTENV=from-file\nAUTOFIB_TEST_PRESET=from-file\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("AUTOFIB_TEST_PRESET", "from-env")
	os.Unsetenv("AUTOFIB_TEST_DOTENV")
	t.Cleanup(func() { os.Unsetenv("AUTOFIB_TEST_DOTENV") })

	path, err := LoadDotEnv()
	require.NoError(t, err)
	assert.Equal(t, ".env", path)
	assert.Equal(t, "from-file", os.Getenv("AUTOFIB_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("AUTOFIB_TEST_PRESET"))
}
