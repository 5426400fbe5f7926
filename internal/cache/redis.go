package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

const keyPrefix = "autofib"

// RedisClient keeps the latest analysis per symbol in Redis
type RedisClient struct {
	client *redis.Client
	logger *logrus.Entry
	ttl    time.Duration
}

// NewRedisClient creates a new Redis client and pings the server
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  4 * time.Second,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		logger: logger.WithField("component", "redis"),
		ttl:    cfg.ResultTTL,
	}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Health checks Redis health
func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// SetAnalysis stores an analysis as the latest one for its symbol and records
// the symbol's signal in a shared hash
func (rc *RedisClient) SetAnalysis(ctx context.Context, a *models.Analysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	pipe := rc.client.TxPipeline()
	pipe.Set(ctx, LatestKey(a.Symbol), data, rc.ttl)
	pipe.HSet(ctx, SignalsKey(), strings.ToUpper(a.Symbol), string(a.Signal))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store analysis for %s: %w", a.Symbol, err)
	}

	rc.logger.WithFields(logrus.Fields{
		"symbol": a.Symbol,
		"signal": a.Signal,
	}).Debug("Cached analysis")

	return nil
}

// GetAnalysis returns the latest cached analysis for symbol, nil when absent
func (rc *RedisClient) GetAnalysis(ctx context.Context, symbol string) (*models.Analysis, error) {
	data, err := rc.client.Get(ctx, LatestKey(symbol)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return DecodeAnalysis(data)
}

// GetSignals returns the last signal recorded for every symbol
func (rc *RedisClient) GetSignals(ctx context.Context) (map[string]models.Signal, error) {
	raw, err := rc.client.HGetAll(ctx, SignalsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get signals: %w", err)
	}

	signals := make(map[string]models.Signal, len(raw))
	for symbol, s := range raw {
		signals[symbol] = models.Signal(s)
	}
	return signals, nil
}

// LatestKey is the key holding the latest analysis of symbol
func LatestKey(symbol string) string {
	return fmt.Sprintf("%s:latest:%s", keyPrefix, strings.ToUpper(symbol))
}

// SignalsKey is the hash of symbol -> last signal
func SignalsKey() string {
	return keyPrefix + ":signals"
}

// DecodeAnalysis unmarshals a cached analysis
func DecodeAnalysis(data []byte) (*models.Analysis, error) {
	var a models.Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}
	return &a, nil
}
