package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares tokens between processes. Opt-in; entries expire with
// the token so the store never outlives a credential.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

type RedisOption func(*redis.Options)

func WithDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

func WithPoolSize(n int) RedisOption {
	return func(o *redis.Options) { o.PoolSize = n }
}

func NewRedisStore(ctx context.Context, addr string, opts ...RedisOption) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	ro := &redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
	for _, f := range opts {
		f(ro)
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, now: time.Now}, nil
}

func (s *RedisStore) Get(ctx context.Context, domain string) (Token, bool, error) {
	raw, err := s.rdb.Get(ctx, storeKey(domain)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("redis GET token: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Token{}, false, fmt.Errorf("redis token decode: %w", err)
	}
	return tok, true, nil
}

func (s *RedisStore) Put(ctx context.Context, domain string, tok Token) error {
	ttl := tok.Expires.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("redis token encode: %w", err)
	}
	if err := s.rdb.Set(ctx, storeKey(domain), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET token: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, domain string) error {
	if err := s.rdb.Del(ctx, storeKey(domain)).Err(); err != nil {
		return fmt.Errorf("redis DEL token: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
