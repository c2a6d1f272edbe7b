package weft

import (
	"context"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/vmihailenco/msgpack/v5"
)

// MemorySessionStore is the reference SessionStore backed by an in-process
// fastcache, for single-instance deployments and tests.
//
// Grounded on no single air file (air has no session concept); the
// fastcache-backed cache structure and msgpack encoding are drawn from
// github.com/VictoriaMetrics/fastcache and github.com/vmihailenco/msgpack/v5,
// since fastcache has no built-in per-entry TTL and expiry is tracked in a
// separate id-to-deadline map instead.
type MemorySessionStore struct {
	cache *fastcache.Cache

	mu sync.Mutex
	expires map[string]time.Time

	cancel context.CancelFunc
}

type sessionRecord struct {
	Values map[string]interface{}
}

// NewMemorySessionStore returns a MemorySessionStore with an internal cache
// sized for roughly maxBytes of entries, and starts a sweeper goroutine that
// evicts expired sessions every interval. Call Close to stop the sweeper.
func NewMemorySessionStore(maxBytes int, interval time.Duration) *MemorySessionStore {
	ctx, cancel := context.WithCancel(context.Background())

	s := &MemorySessionStore{
		cache: fastcache.New(maxBytes),
		expires: map[string]time.Time{},
		cancel: cancel,
	}

	if interval <= 0 {
		interval = time.Minute
	}

	go s.sweep(ctx, interval)

	return s
}

// Close stops the background sweeper. It does not release the underlying
// cache's memory; discard the MemorySessionStore afterward.
func (s *MemorySessionStore) Close() {
	s.cancel()
}

// Load implements SessionStore.
func (s *MemorySessionStore) Load(id string) (map[string]interface{}, bool, error) {
	s.mu.Lock()
	exp, known := s.expires[id]
	s.mu.Unlock()

	if !known || time.Now().After(exp) {
		return nil, false, nil
	}

	b, ok := s.cache.HasGet(nil, []byte(id))
	if !ok {
		return nil, false, nil
	}

	var rec sessionRecord
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return nil, false, err
	}

	// msgpack decodes integers as sized types; hand them back as int.
	for k, v := range rec.Values {
		switch n := v.(type) {
		case int8:
			rec.Values[k] = int(n)
		case int16:
			rec.Values[k] = int(n)
		case int32:
			rec.Values[k] = int(n)
		case int64:
			rec.Values[k] = int(n)
		}
	}

	return rec.Values, true, nil
}

// Save implements SessionStore.
func (s *MemorySessionStore) Save(id string, values map[string]interface{}, ttl time.Duration) error {
	b, err := msgpack.Marshal(sessionRecord{Values: values})
	if err != nil {
		return err
	}

	s.cache.Set([]byte(id), b)

	s.mu.Lock()
	s.expires[id] = time.Now().Add(ttl)
	s.mu.Unlock()

	return nil
}

// Delete implements SessionStore.
func (s *MemorySessionStore) Delete(id string) error {
	s.cache.Del([]byte(id))

	s.mu.Lock()
	delete(s.expires, id)
	s.mu.Unlock()

	return nil
}

// sweep periodically removes expired entries from both the expiry index and
// the underlying cache, until ctx is cancelled.
func (s *MemorySessionStore) sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()

			s.mu.Lock()
			var expired []string
			for id, exp := range s.expires {
				if now.After(exp) {
					expired = append(expired, id)
				}
			}

			for _, id := range expired {
				delete(s.expires, id)
			}
			s.mu.Unlock()

			for _, id := range expired {
				s.cache.Del([]byte(id))
			}
		}
	}
}
