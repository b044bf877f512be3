package cache

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const sweepInterval = 1 * time.Minute

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Store is an in-memory TTL cache shared by the source clients. Entries
// are grouped by namespace ("lastfm", "bpm", "playlists", ...) so each
// concern can be flushed or counted on its own. Only successful lookups
// may be stored; callers never write a value for a failed fetch.
type Store struct {
	mutex      sync.RWMutex
	namespaces map[string]map[string]entry
	logger     *logrus.Logger
	done       chan struct{}
	closeOnce  sync.Once
}

func New(logger *logrus.Logger) *Store {
	s := &Store{
		namespaces: make(map[string]map[string]entry),
		logger:     logger,
		done:       make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Get returns the cached value for key, or false when the key is absent
// or its entry has expired. Expired entries are left for the sweeper.
func (s *Store) Get(namespace, key string) (interface{}, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		return nil, false
	}
	e, ok := ns[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under namespace/key for ttl. Nil values and
// non-positive TTLs are ignored so a failed fetch can never shadow a
// later successful one.
func (s *Store) Set(namespace, key string, value interface{}, ttl time.Duration) {
	if value == nil || ttl <= 0 {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]entry)
		s.namespaces[namespace] = ns
	}
	ns[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (s *Store) Delete(namespace, key string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if ns, ok := s.namespaces[namespace]; ok {
		delete(ns, key)
	}
}

// Flush drops every entry in the namespace.
func (s *Store) Flush(namespace string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if ns, ok := s.namespaces[namespace]; ok && len(ns) > 0 {
		s.logger.WithFields(logrus.Fields{
			"namespace": namespace,
			"entries":   len(ns),
		}).Info("Flushing cache namespace")
		delete(s.namespaces, namespace)
	}
}

// Len counts the live entries across all namespaces.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := time.Now()
	total := 0
	for _, ns := range s.namespaces {
		for _, e := range ns {
			if now.Before(e.expiresAt) {
				total++
			}
		}
	}
	return total
}

// Close stops the background sweeper. The store remains usable but no
// longer reclaims expired entries on its own.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *Store) sweep() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	removed := 0
	for name, ns := range s.namespaces {
		for key, e := range ns {
			if now.After(e.expiresAt) {
				delete(ns, key)
				removed++
			}
		}
		if len(ns) == 0 {
			delete(s.namespaces, name)
		}
	}

	if removed > 0 {
		s.logger.WithField("removed", removed).Debug("Swept expired cache entries")
	}
}
