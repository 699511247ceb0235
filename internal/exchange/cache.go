package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/metrics"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// ErrCacheMiss is returned by a BarStore when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// BarStore is the byte-level key/value store behind CachedProvider.
type BarStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore adapts a go-redis client to BarStore.
type RedisStore struct {
	client *goredis.Client
}

// DialRedis parses a redis:// URL and pings the server.
func DialRedis(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps an open client.
func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	return val, err
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// CachedProvider serves bar series from a BarStore and falls through to the
// wrapped provider on a miss. Store failures only cost a cache bypass.
type CachedProvider struct {
	next      Provider
	store     BarStore
	namespace string
	ttl       time.Duration
	log       zerolog.Logger
}

// NewCachedProvider decorates next. The namespace separates series fetched
// with different providers or timeframes.
func NewCachedProvider(next Provider, store BarStore, namespace string, ttl time.Duration, log zerolog.Logger) *CachedProvider {
	return &CachedProvider{next: next, store: store, namespace: namespace, ttl: ttl, log: log}
}

func (c *CachedProvider) key(symbol string, lookback int) string {
	return fmt.Sprintf("tradebot:bars:%s:%s:%d", c.namespace, symbol, lookback)
}

// FetchBars returns the cached series when present, otherwise fetches and stores it.
func (c *CachedProvider) FetchBars(ctx context.Context, symbol string, lookback int) ([]signal.Bar, error) {
	key := c.key(symbol, lookback)
	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var bars []signal.Bar
		jsonErr := json.Unmarshal(raw, &bars)
		if jsonErr == nil {
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			return bars, nil
		}
		c.log.Warn().Err(jsonErr).Str("key", key).Msg("discarding corrupt cache entry")
	case !errors.Is(err, ErrCacheMiss):
		c.log.Warn().Err(err).Str("key", key).Msg("bar cache read failed")
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	bars, err := c.next.FetchBars(ctx, symbol, lookback)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(bars); err == nil {
		if err := c.store.Set(ctx, key, payload, c.ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("bar cache write failed")
		}
	}
	return bars, nil
}

// Ping delegates to the wrapped provider when it supports it.
func (c *CachedProvider) Ping(ctx context.Context) error {
	if pinger, ok := c.next.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
