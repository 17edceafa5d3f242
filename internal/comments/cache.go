package comments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/weslintw/jira-issue-monitor/internal/models"
)

// Cache memoizes resolved comments by issue key for the duration of a run.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.RenderedComment, bool, error)
	Set(ctx context.Context, key string, comments []models.RenderedComment) error
}

// MemoryCache is an in-process Cache. Create one per run.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]models.RenderedComment
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]models.RenderedComment)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]models.RenderedComment, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, comments []models.RenderedComment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = comments
	return nil
}

// Len returns the number of cached issues
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache stores resolved comments in Redis under a per-run namespace,
// so that several processes can share one run's memo without seeing
// entries from other runs.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and namespaces keys with a fresh run ID
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, uuid.NewString(), ttl), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client
func NewRedisCacheWithClient(client *redis.Client, runID string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{
		client: client,
		prefix: "comments:" + runID + ":",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(issueKey string) string {
	return c.prefix + issueKey
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]models.RenderedComment, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup cached comments: %w", err)
	}

	var comments []models.RenderedComment
	if err := json.Unmarshal(data, &comments); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached comments: %w", err)
	}
	return comments, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, comments []models.RenderedComment) error {
	data, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache comments: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
