package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

const DefaultTTL = time.Hour

type MemoryConfig struct {
	MaxEntries      int           `json:"max_entries"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	createdAt time.Time
}

// MemoryCache is an in-process TTL cache that evicts the oldest entry once
// MaxEntries is reached.
type MemoryCache struct {
	config      *MemoryConfig
	logger      types.Logger
	defaultTTL  time.Duration
	data        map[string]*memoryEntry
	mu          sync.RWMutex
	state       atomic.Int32
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	now         func() time.Time
}

func NewMemoryCache(logger types.Logger, config *types.CacheConfig) (*MemoryCache, error) {
	memConfig := &MemoryConfig{
		MaxEntries:      10000,
		CleanupInterval: 5 * time.Minute,
	}

	if config != nil && config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory cache config")
		}
	}

	defaultTTL := DefaultTTL
	if config != nil && config.DefaultTTL > 0 {
		defaultTTL = config.DefaultTTL
	}

	return &MemoryCache{
		logger:     logger,
		config:     memConfig,
		defaultTTL: defaultTTL,
		data:       make(map[string]*memoryEntry),
		now:        time.Now,
	}, nil
}

func (m *MemoryCache) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()

	if !ok || m.now().After(entry.expiresAt) {
		m.misses.Add(1)
		return nil, false
	}

	m.hits.Add(1)
	return entry.value, true
}

func (m *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.now()
	entry := &memoryEntry{
		value:     append([]byte(nil), value...),
		createdAt: now,
		expiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; !exists && m.config.MaxEntries > 0 && len(m.data) >= m.config.MaxEntries {
		m.evictOldestUnsafe()
	}

	m.data[key] = entry
	return nil
}

func (m *MemoryCache) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Invalidate drops every key starting with prefix.
func (m *MemoryCache) Invalidate(prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
		}
	}
	return nil
}

func (m *MemoryCache) BuildCacheKey(method, path string, query []byte) string {
	return BuildCacheKey(method, path, query)
}

func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryCache) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.stopCleanup = make(chan struct{})
	m.cleanupDone = make(chan struct{})
	go m.cleanupLoop()

	m.setState(MemoryStateRunning)
	return nil
}

func (m *MemoryCache) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		return types.ErrServerNotRunning
	}

	close(m.stopCleanup)
	<-m.cleanupDone

	m.logger.Debug("Memory cache stopped",
		zap.Uint64("hits", m.hits.Load()),
		zap.Uint64("misses", m.misses.Load()),
		zap.Uint64("evictions", m.evictions.Load()))

	m.setState(MemoryStateStopped)
	return nil
}

func (m *MemoryCache) IsRunning() bool {
	return MemoryState(m.state.Load()) == MemoryStateRunning
}

func (m *MemoryCache) setState(newState MemoryState) {
	m.state.Store(int32(newState))
}

func (m *MemoryCache) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(int32(from), int32(to))
}

func (m *MemoryCache) cleanupLoop() {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *MemoryCache) cleanup() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.data {
		if now.After(entry.expiresAt) {
			delete(m.data, key)
		}
	}
}

func (m *MemoryCache) evictOldestUnsafe() {
	var victim string
	var oldest time.Time

	for key, entry := range m.data {
		if victim == "" || entry.createdAt.Before(oldest) {
			victim, oldest = key, entry.createdAt
		}
	}

	if victim != "" {
		delete(m.data, victim)
		m.evictions.Add(1)
	}
}
