package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/auto-fib/pkg/models"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `env:", prefix=SERVER_"`
	Fibonacci  FibonacciConfig  `env:", prefix=FIB_"`
	Source     SourceConfig     `env:", prefix=SOURCE_"`
	Binance    BinanceConfig    `env:", prefix=BINANCE_"`
	OANDA      OANDAConfig      `env:", prefix=OANDA_"`
	InfluxDB   InfluxConfig     `env:", prefix=INFLUXDB_"`
	Redis      RedisConfig      `env:", prefix=REDIS_"`
	NATS       NATSConfig       `env:", prefix=NATS_"`
	MySQL      MySQLConfig      `env:", prefix=MYSQL_"`
	Sinks      SinksConfig      `env:", prefix=SINKS_"`
	Output     OutputConfig     `env:", prefix=OUTPUT_"`
	Security   SecurityConfig   `env:", prefix=SECURITY_"`
	WebSocket  WebSocketConfig  `env:", prefix=WEBSOCKET_"`
	Logging    LoggingConfig    `env:", prefix=LOG_"`
	Monitoring MonitoringConfig `env:", prefix=MONITORING_"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
}

// FibonacciConfig holds the indicator parameters
type FibonacciConfig struct {
	Lookback       int     `env:"LOOKBACK, default=20"`
	Offset         int     `env:"OFFSET, default=0"`
	Levels         string  `env:"LEVELS, default=0,0.236,0.382,0.5,0.618,0.764,0.886,1,1.618,2.618"`
	GoldenZoneLow  float64 `env:"GOLDEN_ZONE_LOW, default=0.382"`
	GoldenZoneHigh float64 `env:"GOLDEN_ZONE_HIGH, default=0.618"`
}

// SourceConfig selects and tunes the historical bar provider
type SourceConfig struct {
	Provider string        `env:"PROVIDER, default=binance"` // binance, oanda or influx
	Interval string        `env:"INTERVAL, default=5m"`
	Limit    int           `env:"LIMIT, default=100"`
	Timeout  time.Duration `env:"TIMEOUT, default=30s"`
	Symbols  []string      `env:"SYMBOLS, default=BTCUSDT,ETHUSDT,SOLUSDT"`
	Pause    time.Duration `env:"PAUSE, default=1s"` // between symbols in a multi-symbol run
}

// BinanceConfig holds Binance-specific configuration
type BinanceConfig struct {
	APIKey    string `env:"API_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	APIURL    string `env:"API_URL, default=https://api.binance.com"`
}

// OANDAConfig holds OANDA-specific configuration
type OANDAConfig struct {
	APIKey         string        `env:"API_KEY"`
	AccountID      string        `env:"ACCOUNT_ID"`
	Environment    string        `env:"ENVIRONMENT, default=practice"` // live or practice
	APIURL         string        `env:"API_URL"`                       // Auto-set based on environment
	RequestsPerSec float64       `env:"REQUESTS_PER_SEC, default=10"`
	Timeout        time.Duration `env:"TIMEOUT, default=30s"`
}

// InfluxConfig holds InfluxDB configuration
type InfluxConfig struct {
	URL     string        `env:"URL, default=http://localhost:8086"`
	Token   string        `env:"TOKEN"`
	Org     string        `env:"ORG, default=trading-org"`
	Bucket  string        `env:"BUCKET, default=trading"`
	Timeout time.Duration `env:"TIMEOUT, default=10s"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS, default=2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
	ResultTTL    time.Duration `env:"RESULT_TTL, default=24h"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
	SubjectPrefix string        `env:"SUBJECT_PREFIX, default=autofib"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host            string        `env:"HOST, default=localhost"`
	Port            int           `env:"PORT, default=3306"`
	Database        string        `env:"DATABASE, default=trading"`
	User            string        `env:"USER, default=trading"`
	Password        string        `env:"PASSWORD"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=2"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
}

// SinksConfig toggles where analyses are delivered besides the console
type SinksConfig struct {
	RedisEnabled  bool `env:"REDIS_ENABLED, default=false"`
	InfluxEnabled bool `env:"INFLUX_ENABLED, default=false"`
	NATSEnabled   bool `env:"NATS_ENABLED, default=false"`
	MySQLEnabled  bool `env:"MYSQL_ENABLED, default=false"`
}

// OutputConfig controls console reports and JSON result files
type OutputConfig struct {
	Dir         string `env:"DIR, default=."`
	JSONEnabled bool   `env:"JSON_ENABLED, default=true"`
	Report      bool   `env:"REPORT, default=true"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	CORSEnabled bool     `env:"CORS_ENABLED, default=true"`
	CORSOrigins []string `env:"CORS_ORIGINS, default=*"`
	CORSMethods []string `env:"CORS_METHODS, default=GET,POST,OPTIONS"`
	CORSHeaders []string `env:"CORS_HEADERS, default=*"`
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `env:"ENABLED, default=true"`
	ReadBufferSize  int           `env:"READ_BUFFER_SIZE, default=1024"`
	WriteBufferSize int           `env:"WRITE_BUFFER_SIZE, default=1024"`
	PingInterval    time.Duration `env:"PING_INTERVAL, default=30s"`
	PongTimeout     time.Duration `env:"PONG_TIMEOUT, default=60s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT, default=10s"`
	SendBuffer      int           `env:"SEND_BUFFER, default=64"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=text"`
	Output string `env:"OUTPUT, default=stdout"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	MetricsEnabled bool   `env:"METRICS_ENABLED, default=true"`
	MetricsPath    string `env:"METRICS_PATH, default=/metrics"`
}

// Load loads configuration from environment variables using go-envconfig
func Load() (*Config, error) {
	return LoadWithLookuper(context.Background(), envconfig.OsLookuper())
}

// LoadWithLookuper loads configuration from an arbitrary lookuper (tests use envconfig.MapLookuper)
func LoadWithLookuper(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	// Auto-set OANDA URL based on environment
	if cfg.OANDA.APIURL == "" {
		if cfg.OANDA.Environment == "live" {
			cfg.OANDA.APIURL = "https://api-fxtrade.oanda.com"
		} else {
			cfg.OANDA.APIURL = "https://api-fxpractice.oanda.com"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Fibonacci.Lookback <= 0 {
		return fmt.Errorf("fibonacci lookback must be positive: %d", c.Fibonacci.Lookback)
	}

	if c.Fibonacci.Offset < 0 {
		return fmt.Errorf("fibonacci offset must not be negative: %d", c.Fibonacci.Offset)
	}

	if _, err := ParseLevels(c.Fibonacci.Levels); err != nil {
		return err
	}

	switch c.Source.Provider {
	case "binance", "oanda", "influx":
	default:
		return fmt.Errorf("unknown source provider: %s", c.Source.Provider)
	}

	if c.Source.Limit < c.Fibonacci.Lookback+c.Fibonacci.Offset {
		return fmt.Errorf("source limit %d is smaller than lookback+offset %d",
			c.Source.Limit, c.Fibonacci.Lookback+c.Fibonacci.Offset)
	}

	if c.Sinks.InfluxEnabled || c.Source.Provider == "influx" {
		if c.InfluxDB.URL == "" {
			return fmt.Errorf("InfluxDB URL is required")
		}
	}

	if c.Sinks.RedisEnabled && c.Redis.Host == "" {
		return fmt.Errorf("Redis host is required")
	}

	if c.Sinks.NATSEnabled && c.NATS.URL == "" {
		return fmt.Errorf("NATS URL is required")
	}

	if c.Sinks.MySQLEnabled && c.MySQL.Host == "" {
		return fmt.Errorf("MySQL host is required")
	}

	return nil
}

// ParseLevels parses a comma-separated ratio list. Entries are either a bare
// ratio ("0.618", named level_<index>) or name=ratio ("golden=0.618").
func ParseLevels(raw string) ([]models.Level, error) {
	parts := strings.Split(raw, ",")
	levels := make([]models.Level, 0, len(parts))
	seen := make(map[string]bool, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		name := fmt.Sprintf("level_%d", len(levels))
		value := p
		if k, v, ok := strings.Cut(p, "="); ok {
			name, value = strings.TrimSpace(k), strings.TrimSpace(v)
		}

		ratio, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fibonacci level %q: %w", p, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate fibonacci level name %q", name)
		}
		seen[name] = true

		levels = append(levels, models.Level{Name: name, Ratio: ratio})
	}

	if len(levels) == 0 {
		return nil, fmt.Errorf("no fibonacci levels configured")
	}

	return levels, nil
}

// GetMySQLDSN returns MySQL DSN string
func (c *Config) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.Database,
	)
}

// GetRedisAddr returns Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
