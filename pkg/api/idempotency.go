package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// CachedResponse is a previously produced response held for idempotent
// replay.
type CachedResponse struct {
	StatusCode int
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStore is the replay cache behind the Idempotency-Key
// header on plan apply.
type IdempotencyStore interface {
	Lookup(key string) (*CachedResponse, bool)
	Save(key string, statusCode int, body []byte)
}

// MemoryIdempotencyStore is the in-process default.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates an in-memory store with the given
// entry lifetime.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*CachedResponse),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Lookup returns a live cached response, evicting expired entries
// lazily.
func (s *MemoryIdempotencyStore) Lookup(key string) (*CachedResponse, bool) {
	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.now().Sub(cached.CachedAt) > s.ttl {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return cached, true
}

// Save stores a response.
func (s *MemoryIdempotencyStore) Save(key string, statusCode int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &CachedResponse{
		StatusCode: statusCode,
		Body:       body,
		CachedAt:   s.now(),
	}
}

// responseCapture tees the response for caching.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the cached response for a repeated
// Idempotency-Key, so a retried apply cannot submit the plan twice.
// Only 2xx responses are cached; a failed attempt may be retried with
// the same key.
func IdempotencyMiddleware(store IdempotencyStore, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}
		if cached, ok := store.Lookup(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}
		capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next(capture, r)
		if capture.statusCode >= 200 && capture.statusCode < 300 {
			store.Save(key, capture.statusCode, capture.body.Bytes())
		}
	}
}
