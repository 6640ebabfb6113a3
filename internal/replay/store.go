// Package replay provides a bounded, TTL-pruned at-most-once-execute store
// keyed by a payment token's authorizationRef (or gateId, or tokenSha256
// fallback). Capacity eviction is FIFO by insertion order.
package replay

import (
	"container/list"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Row is one cached response, replayed verbatim on a duplicate request with
// the same replay key.
type Row struct {
	Key                  string
	ExpiresAtMs          int64
	StatusCode           int
	Headers              map[string]string
	ContentType          string
	BodyBytes            []byte
	Signature            string
	RequestBindingMode   string
	RequestBindingSha256 string
}

// Store is the in-memory reference implementation of §4.6. get/set/prune are
// safe for concurrent use; the same key is linearized by the internal mutex.
type Store struct {
	mu       sync.Mutex
	maxKeys  int
	cache    *gocache.Cache
	order    *list.List               // front = oldest insertion
	elements map[string]*list.Element // key -> its node in order
}

// NewStore builds a Store bounded to maxKeys entries. defaultTTL is used by
// the underlying cache's janitor only; actual expiry is governed by each
// Row's ExpiresAtMs, checked explicitly on Get.
func NewStore(maxKeys int) *Store {
	return &Store{
		maxKeys:  maxKeys,
		cache:    gocache.New(gocache.NoExpiration, time.Minute),
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

// Get prunes expired entries relative to now, then returns the row for key if
// present and unexpired.
func (s *Store) Get(key string, nowMs int64) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(nowMs)

	v, ok := s.cache.Get(key)
	if !ok {
		return Row{}, false
	}
	row := v.(Row)
	if nowMs >= row.ExpiresAtMs {
		s.deleteLocked(key)
		return Row{}, false
	}
	return row, true
}

// Set inserts row under key, then prunes expired rows and evicts the oldest
// insertions while over capacity.
func (s *Store) Set(key string, row Row, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.elements[key]; !exists {
		el := s.order.PushBack(key)
		s.elements[key] = el
	}
	s.cache.Set(key, row, gocache.NoExpiration)

	s.pruneLocked(nowMs)
	s.evictOverCapacityLocked()
}

// Prune drops expired rows and evicts the oldest insertions while over
// capacity, without touching any specific key.
func (s *Store) Prune(nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(nowMs)
	s.evictOverCapacityLocked()
}

// Len reports the current number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *Store) pruneLocked(nowMs int64) {
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		key := el.Value.(string)
		v, ok := s.cache.Get(key)
		if !ok {
			s.order.Remove(el)
			delete(s.elements, key)
			el = next
			continue
		}
		row := v.(Row)
		if nowMs >= row.ExpiresAtMs {
			s.cache.Delete(key)
			s.order.Remove(el)
			delete(s.elements, key)
		}
		el = next
	}
}

func (s *Store) evictOverCapacityLocked() {
	if s.maxKeys <= 0 {
		return
	}
	for s.order.Len() > s.maxKeys {
		oldest := s.order.Front()
		if oldest == nil {
			return
		}
		key := oldest.Value.(string)
		s.cache.Delete(key)
		s.order.Remove(oldest)
		delete(s.elements, key)
	}
}

func (s *Store) deleteLocked(key string) {
	s.cache.Delete(key)
	if el, ok := s.elements[key]; ok {
		s.order.Remove(el)
		delete(s.elements, key)
	}
}

// Key derives the replay key for a verified token: authorizationRef if
// present, else gateId, else sha256(token) (the caller supplies whichever of
// these is available, in priority order).
func Key(authorizationRef, gateID, tokenSha256 string) string {
	if authorizationRef != "" {
		return authorizationRef
	}
	if gateID != "" {
		return gateID
	}
	return tokenSha256
}
