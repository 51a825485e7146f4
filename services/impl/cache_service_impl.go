package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/models"
	"github.com/tas-context-cache/services"
)

const (
	// cacheKeyPrefix namespaces every response cache key
	cacheKeyPrefix = "ctx_resp"

	// defaultCacheTTL applies when no TTL is configured (5 minutes)
	defaultCacheTTL = 300
)

// responseCacheImpl implements ResponseCache over Redis with an in-memory
// fallback. Entries are stored as JSON, so a cache hit decodes into a fresh
// deep copy and callers can never mutate a cached response in place.
type responseCacheImpl struct {
	memCache map[string]cacheEntry
	mu       sync.RWMutex

	redis *redis.Client

	ttl      int
	enabled  bool
	useRedis bool
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewResponseCache builds the cache from config, probing Redis and falling
// back to in-memory storage when it is unreachable
func NewResponseCache(cacheCfg config.CacheConfig, redisCfg config.RedisConfig) services.ResponseCache {
	if !cacheCfg.Enabled {
		return &responseCacheImpl{enabled: false}
	}

	svc := &responseCacheImpl{
		memCache: make(map[string]cacheEntry),
		ttl:      cacheCfg.TTLSeconds,
		enabled:  true,
	}

	if redisCfg.Enabled && redisCfg.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", redisCfg.Host, redisCfg.Port),
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err == nil {
			svc.redis = client
			svc.useRedis = true
		}
		// Redis down at startup falls back to memory, not an error
	}

	return svc
}

// NewResponseCacheWithRedis builds the cache around an existing client
func NewResponseCacheWithRedis(client *redis.Client, cacheCfg config.CacheConfig) services.ResponseCache {
	return &responseCacheImpl{
		memCache: make(map[string]cacheEntry),
		redis:    client,
		ttl:      cacheCfg.TTLSeconds,
		enabled:  cacheCfg.Enabled,
		useRedis: client != nil,
	}
}

// Get returns the cached response for key, or nil on a miss
func (s *responseCacheImpl) Get(ctx context.Context, key string) (*models.RetrieveResponse, error) {
	if !s.enabled {
		return nil, nil
	}

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		data, err := s.redis.Get(ctx, prefixedKey).Bytes()
		if err == nil {
			var resp models.RetrieveResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				// stale or corrupt payload, drop it
				s.redis.Del(ctx, prefixedKey)
				return nil, nil
			}
			return &resp, nil
		}
		if err != redis.Nil {
			return s.getFromMemCache(prefixedKey)
		}
		return nil, nil
	}

	return s.getFromMemCache(prefixedKey)
}

func (s *responseCacheImpl) getFromMemCache(prefixedKey string) (*models.RetrieveResponse, error) {
	s.mu.RLock()
	entry, exists := s.memCache[prefixedKey]
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.memCache, prefixedKey)
		s.mu.Unlock()
		return nil, nil
	}

	var resp models.RetrieveResponse
	if err := json.Unmarshal(entry.data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}
	return &resp, nil
}

// Set stores resp under key for ttlSeconds
func (s *responseCacheImpl) Set(ctx context.Context, key string, resp *models.RetrieveResponse, ttlSeconds int) error {
	if !s.enabled || resp == nil {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response for caching: %w", err)
	}

	if ttlSeconds <= 0 {
		ttlSeconds = s.ttl
	}
	if ttlSeconds <= 0 {
		ttlSeconds = defaultCacheTTL
	}
	ttl := time.Duration(ttlSeconds) * time.Second

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		if err := s.redis.Set(ctx, prefixedKey, data, ttl).Err(); err != nil {
			s.setInMemCache(prefixedKey, data, ttl)
			return nil
		}
		return nil
	}

	s.setInMemCache(prefixedKey, data, ttl)
	return nil
}

func (s *responseCacheImpl) setInMemCache(prefixedKey string, data []byte, ttl time.Duration) {
	s.mu.Lock()
	s.memCache[prefixedKey] = cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
}

// Invalidate drops every cached response. Stores and deletes call this so a
// following retrieve always sees fresh tier state.
func (s *responseCacheImpl) Invalidate(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	if s.useRedis && s.redis != nil {
		var cursor uint64
		pattern := cacheKeyPrefix + ":*"
		for {
			keys, newCursor, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				break
			}
			if len(keys) > 0 {
				s.redis.Del(ctx, keys...)
			}
			cursor = newCursor
			if cursor == 0 {
				break
			}
		}
	}

	s.mu.Lock()
	s.memCache = make(map[string]cacheEntry)
	s.mu.Unlock()
	return nil
}

// IsUsingRedis reports whether the Redis backend is active
func (s *responseCacheImpl) IsUsingRedis() bool {
	return s.useRedis
}

func (s *responseCacheImpl) prefixKey(key string) string {
	return fmt.Sprintf("%s:%s", cacheKeyPrefix, key)
}

// ResponseCacheKey derives the deterministic cache key for a request from
// its normalized query, strategy, conversation and filters
func ResponseCacheKey(req models.RetrieveRequest) string {
	query := strings.Join(strings.Fields(strings.ToLower(req.Query)), " ")

	kinds := make([]string, len(req.Kinds))
	for i, k := range req.Kinds {
		kinds[i] = string(k)
	}
	sort.Strings(kinds)

	var since, until string
	if req.Since != nil {
		since = req.Since.UTC().Format(time.RFC3339Nano)
	}
	if req.Until != nil {
		until = req.Until.UTC().Format(time.RFC3339Nano)
	}

	keyData := fmt.Sprintf("%s|%s|%s|%s|%.4f|%d|%d|%s|%s",
		query,
		req.Strategy,
		req.ConversationID,
		strings.Join(kinds, ","),
		req.MinScore,
		req.MaxResults,
		req.MaxTokens,
		since,
		until,
	)
	hash := sha256.Sum256([]byte(keyData))
	return hex.EncodeToString(hash[:16])
}
