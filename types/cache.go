package types

import (
	"time"
)

type CacheManager interface {
	LifecycleManager
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Invalidate(prefix string) error
	BuildCacheKey(method, path string, query []byte) string
}

type CacheManagerCreator func(config interface{}) (CacheManager, error)

// CachedResponse is what the response cache stores for a route.
type CachedResponse struct {
	Status      int               `json:"status"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body"`
}
