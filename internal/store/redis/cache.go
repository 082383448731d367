// Package redis implements the recovery cache: in-progress aggregator
// candles under ohlc:{source}:{symbol}:{tf} and latest trade prices
// under price:{source}:{symbol}. The cache is advisory — a write
// failure never stops the pipeline, and closed candles are never
// restored from here (the historical store is authoritative).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

const (
	ohlcKeyPrefix  = "ohlc:"
	priceKeyPrefix = "price:"
	priceTTL       = 30 * time.Minute
)

// CacheConfig configures the recovery cache.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
}

// Cache implements model.RecoveryCache over Redis.
type Cache struct {
	client  *goredis.Client
	breaker *CircuitBreaker
}

// NewCache creates a recovery cache and pings the server.
func NewCache(cfg CacheConfig) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[cache] connected to %s", cfg.Addr)
	return &Cache{
		client:  client,
		breaker: NewCircuitBreaker(5, 10*time.Second),
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// Breaker exposes the circuit breaker for metrics hooks.
func (c *Cache) Breaker() *CircuitBreaker { return c.breaker }

func ohlcKey(source, symbol string, tf model.Timeframe) string {
	return ohlcKeyPrefix + source + ":" + symbol + ":" + string(tf)
}

// SaveCandle caches an in-progress candle, written after every update.
func (c *Cache) SaveCandle(ctx context.Context, candle model.Candle) error {
	return c.breaker.Execute(func() error {
		return c.client.Set(ctx, ohlcKey(candle.Source, candle.Symbol, candle.Timeframe), candle.JSON(), 0).Err()
	})
}

// LoadCandles scans all cached in-progress candles for rehydration.
func (c *Cache) LoadCandles(ctx context.Context) ([]model.Candle, error) {
	var candles []model.Candle
	iter := c.client.Scan(ctx, 0, ohlcKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == goredis.Nil {
				continue
			}
			return nil, fmt.Errorf("cache get %s: %w", iter.Val(), err)
		}
		var candle model.Candle
		if err := json.Unmarshal(data, &candle); err != nil {
			log.Printf("[cache] bad candle at %s, skipping: %v", iter.Val(), err)
			continue
		}
		candles = append(candles, candle)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache scan: %w", err)
	}
	return candles, nil
}

// DeleteCandle drops the cached in-progress candle for one series.
func (c *Cache) DeleteCandle(ctx context.Context, source, symbol string, tf model.Timeframe) error {
	return c.client.Del(ctx, ohlcKey(source, symbol, tf)).Err()
}

// SetLastPrice caches the latest observed trade price as a decimal string.
func (c *Cache) SetLastPrice(ctx context.Context, source, symbol string, price decimal.Decimal) error {
	return c.breaker.Execute(func() error {
		return c.client.Set(ctx, priceKeyPrefix+source+":"+symbol, price.String(), priceTTL).Err()
	})
}

// LastPrice returns the cached latest price, or ErrRowNotFound.
func (c *Cache) LastPrice(ctx context.Context, source, symbol string) (decimal.Decimal, error) {
	val, err := c.client.Get(ctx, priceKeyPrefix+source+":"+symbol).Result()
	if err != nil {
		if err == goredis.Nil {
			return decimal.Zero, model.ErrRowNotFound
		}
		return decimal.Zero, fmt.Errorf("cache get price: %w", err)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(val))
	if err != nil {
		return decimal.Zero, fmt.Errorf("cache bad price %q: %w", val, err)
	}
	return price, nil
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
