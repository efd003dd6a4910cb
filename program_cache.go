package syncstate

import "sync"

// ProgramCache stores compiled expression programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// WithProgramCache lets the default evaluator of a state reuse compiled
// programs. Entries are keyed by function registry, so states with different
// custom functions can share one cache.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *stateConfig) {
		cfg.programCache = cache
	}
}

// NewProgramCache returns a concurrency-safe ProgramCache holding at most
// limit programs. Once full, new programs are not cached. A limit <= 0 means
// no bound.
func NewProgramCache(limit int) ProgramCache {
	return &programCache{limit: limit, programs: map[string]any{}}
}

type programCache struct {
	mu       sync.RWMutex
	limit    int
	programs map[string]any
}

func (c *programCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.programs[key]
	return value, ok
}

func (c *programCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.programs[key]; !exists && c.limit > 0 && len(c.programs) >= c.limit {
		return
	}
	c.programs[key] = value
}
