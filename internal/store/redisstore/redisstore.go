// Package redisstore wraps the shared redis client used to buffer
// live-update events for projects with no connected subscriber.
package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Close() error { return s.rdb.Close() }

func bufferKey(projectID string) string {
	return fmt.Sprintf("liveupdate:pending:%s", projectID)
}

// PushPending appends a serialized event to project's pending buffer,
// trimming to maxSize from the front (drop-oldest) when full.
func (s *Store) PushPending(ctx context.Context, projectID string, payload []byte, maxSize int) error {
	key := bufferKey(projectID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-maxSize), -1)
	_, err := pipe.Exec(ctx)
	return err
}

// FlushPending returns and clears all buffered events for a project, in
// the order they were pushed (oldest first).
func (s *Store) FlushPending(ctx context.Context, projectID string) ([][]byte, error) {
	key := bufferKey(projectID)
	vals, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
