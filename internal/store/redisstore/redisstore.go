// Package redisstore caches channel credentials in Redis, sealed at rest.
package redisstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb    *redis.Client
	sealer *Sealer
}

func New(addr, password string, db int, secret string) (*Store, error) {
	sealer, err := NewSealer(secret)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{rdb: rdb, sealer: sealer}, nil
}

// Client exposes the connection for other Redis-backed components.
func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Get returns the unsealed value, or "" when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "redis get %s", key)
	}
	plain, err := s.sealer.Open(v, key)
	if err != nil {
		return "", errors.Wrapf(err, "unseal %s", key)
	}
	return plain, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	sealed, err := s.sealer.Seal(value, key)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, sealed, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
