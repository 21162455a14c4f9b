// Package redis caches learned models in front of a persistent repository.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"sleepstage/domain/core"
	"sleepstage/domain/model"
	"sleepstage/internal"
	"sleepstage/internal/errors"
	"sleepstage/ports"
)

// DefaultKeyPrefix namespaces cached model keys.
const DefaultKeyPrefix = "sleepstage:model:"

// NewClient creates a redis client.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Ping checks the connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.ExternalServiceError("redis", err)
	}
	return nil
}

// ModelCache is a read-through, write-through cache over a ModelRepository.
// The repository stays the source of truth; cache failures are logged and
// never fail an operation that the repository completed.
type ModelCache struct {
	client *redis.Client
	next   ports.ModelRepository
	ttl    time.Duration
	prefix string
	logger *internal.Logger
}

var _ ports.ModelRepository = (*ModelCache)(nil)

// NewModelCache wraps next with a redis cache. A zero ttl keeps entries forever.
func NewModelCache(client *redis.Client, next ports.ModelRepository, ttl time.Duration, logger *internal.Logger) *ModelCache {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &ModelCache{client: client, next: next, ttl: ttl, prefix: DefaultKeyPrefix, logger: logger}
}

func (c *ModelCache) key(userID core.UserID) string {
	return c.prefix + userID.String()
}

func (c *ModelCache) Load(ctx context.Context, userID core.UserID) (*model.LearnedModel, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err == nil {
		var m model.LearnedModel
		if err := json.Unmarshal(raw, &m); err == nil {
			return &m, nil
		}
		c.logger.Warn("[ModelCache] dropping undecodable entry for %s", userID)
		c.client.Del(ctx, c.key(userID))
	} else if err != redis.Nil {
		c.logger.Warn("[ModelCache] get %s: %v", userID, err)
	}

	m, err := c.next.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, m)
	return m, nil
}

func (c *ModelCache) Save(ctx context.Context, m *model.LearnedModel) error {
	if err := c.next.Save(ctx, m); err != nil {
		return err
	}
	c.store(ctx, m)
	return nil
}

func (c *ModelCache) Clear(ctx context.Context, userID core.UserID) error {
	if err := c.next.Clear(ctx, userID); err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		c.logger.Warn("[ModelCache] del %s: %v", userID, err)
	}
	return nil
}

func (c *ModelCache) store(ctx context.Context, m *model.LearnedModel) {
	payload, err := json.Marshal(m)
	if err != nil {
		c.logger.Warn("[ModelCache] encoding model %s: %v", m.ID, err)
		return
	}
	if err := c.client.Set(ctx, c.key(m.UserID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("[ModelCache] set %s: %v", m.UserID, err)
	}
}
