package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// PaperCache keeps the key-free payload of every question drawn for a
// session in one Redis hash, so opening an attempt never touches the bank.
type PaperCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPaperCache creates a new PaperCache. ttl <= 0 keeps entries forever.
func NewPaperCache(rdb *redis.Client, ttl time.Duration) *PaperCache {
	return &PaperCache{rdb: rdb, ttl: ttl}
}

// Put merges questions into the session's hash and refreshes its TTL.
func (c *PaperCache) Put(ctx context.Context, sessionID string, questions []model.QuestionForStudent) error {
	if len(questions) == 0 {
		return nil
	}
	fields := make(map[string]any, len(questions))
	for _, q := range questions {
		b, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question %s: %w", q.ID, err)
		}
		fields[q.ID] = b
	}

	key := config.CacheKey.SessionPaperKey(sessionID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the cached questions among ids. Misses are simply absent.
func (c *PaperCache) Get(ctx context.Context, sessionID string, ids []string) (map[string]model.QuestionForStudent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := c.rdb.HMGet(ctx, config.CacheKey.SessionPaperKey(sessionID), ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.QuestionForStudent, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var q model.QuestionForStudent
		if err := json.Unmarshal([]byte(s), &q); err != nil {
			return nil, fmt.Errorf("decode cached question %s: %w", ids[i], err)
		}
		out[ids[i]] = q
	}
	return out, nil
}

// Drop removes a session's paper, e.g. after the session closes.
func (c *PaperCache) Drop(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, config.CacheKey.SessionPaperKey(sessionID)).Err()
}
