package reactive

import (
	"sort"
	"sync"
)

// Registry tracks the live sessions of every connected client.
type Registry struct {
	mu   sync.RWMutex
	data map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{data: make(map[string]*Session)}
}

// Register adds s unless a session with the same key exists.
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[s.Key()]; ok {
		return false
	}
	r.data[s.Key()] = s
	return true
}

func (r *Registry) Unregister(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[key]
	delete(r.data, key)
	return s, ok
}

func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[key]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.data))
	for _, s := range r.data {
		out = append(out, s)
	}
	return out
}

// ForEach calls fn for every session until fn returns false. fn runs under
// the read lock and must not call back into the registry.
func (r *Registry) ForEach(fn func(*Session) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.data {
		if !fn(s) {
			break
		}
	}
}

// SnapshotView lists the sessions oldest first.
func (r *Registry) SnapshotView() []SessionView {
	sessions := r.Snapshot()
	out := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.View())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// CleanupOrphans drops sessions whose query has ended and returns how many
// were removed.
func (r *Registry) CleanupOrphans() int {
	var ended []*Session
	r.ForEach(func(s *Session) bool {
		if s.Ended() {
			ended = append(ended, s)
		}
		return true
	})
	if len(ended) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range ended {
		// the key may have been re-registered since the scan
		if r.data[s.Key()] == s {
			delete(r.data, s.Key())
			count++
		}
	}
	return count
}

// CloseAll closes and removes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.data))
	for id, s := range r.data {
		sessions = append(sessions, s)
		delete(r.data, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Query.Close()
		}()
	}
	wg.Wait()
}
