package authstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the token triple as one JSON value under a single key, so
// the triple is written and cleared atomically. Intended for shared or test
// deployments where local file storage is unavailable.
type RedisStore struct {
	client *redis.Client
	key    string
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Key      string `env:"REDIS_TOKEN_KEY" envDefault:"dialer:auth_token"`
}

// NewRedisStore connects and verifies the connection with a short ping.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: rdb, key: cfg.Key}, nil
}

func (r *RedisStore) Save(ctx context.Context, tok Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}

	// Let Redis expire the entry alongside the access token when an expiry is
	// known; refresh-token-bearing triples stay until cleared.
	var ttl time.Duration
	if !tok.ExpiresAt.IsZero() && !tok.Refreshable() {
		ttl = time.Until(tok.ExpiresAt)
		if ttl < 0 {
			ttl = time.Second
		}
	}

	if err := r.client.Set(ctx, r.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context) (Token, bool, error) {
	data, err := r.client.Get(ctx, r.key).Result()
	if err == redis.Nil {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("loading token: %w", err)
	}

	var tok Token
	if err := json.Unmarshal([]byte(data), &tok); err != nil {
		return Token{}, false, fmt.Errorf("unmarshaling token: %w", err)
	}
	return tok, true, nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
