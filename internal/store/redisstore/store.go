package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	contentKeyPrefix = "filecontent:"
	contentTTL       = 10 * time.Minute
)

// ErrMiss is returned when a key is not cached.
var ErrMiss = errors.New("redisstore: cache miss")

// Store caches decoded file text keyed by storage path. The database and the
// blob store stay authoritative; everything here is best-effort.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) GetFileContent(ctx context.Context, storagePath string) (string, error) {
	v, err := s.rdb.Get(ctx, contentKeyPrefix+storagePath).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) SetFileContent(ctx context.Context, storagePath, content string) error {
	return s.rdb.Set(ctx, contentKeyPrefix+storagePath, content, contentTTL).Err()
}

func (s *Store) DeleteFileContent(ctx context.Context, storagePaths ...string) error {
	if len(storagePaths) == 0 {
		return nil
	}
	keys := make([]string, 0, len(storagePaths))
	for _, p := range storagePaths {
		keys = append(keys, contentKeyPrefix+p)
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
