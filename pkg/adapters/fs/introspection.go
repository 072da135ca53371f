package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Serializers   []string   `json:"serializers"`
	CacheSize     int        `json:"cache_size"`
	Loads         int        `json:"loads"`
	CacheHits     int        `json:"cache_hits"`
	Strict        bool       `json:"strict"`
	WatcherActive bool       `json:"watcher_active"`
	LastLoad      *time.Time `json:"last_load,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreState{
		Serializers:   Extensions(s.serializers),
		CacheSize:     s.cache.Len(),
		Loads:         s.loads,
		CacheHits:     s.cacheHits,
		Strict:        s.config.Strict,
		WatcherActive: s.watcherActive,
		LastLoad:      s.lastLoad,
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "prov_store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)

func (s *Store) setWatcherActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watcherActive = active
}
