package registry

import (
	"context"
	"sync"
)

// MemoryRegistry tracks presence for a single instance.
type MemoryRegistry struct {
	mu      sync.RWMutex
	present map[string]int
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{present: make(map[string]int)}
}

func memoryKey(matchID, profileID string) string {
	return matchID + "/" + profileID
}

func (r *MemoryRegistry) Register(_ context.Context, matchID, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.present[memoryKey(matchID, profileID)]++
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, matchID, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memoryKey(matchID, profileID)
	if r.present[key] <= 1 {
		delete(r.present, key)
		return nil
	}
	r.present[key]--
	return nil
}

func (r *MemoryRegistry) IsPresent(_ context.Context, matchID, profileID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.present[memoryKey(matchID, profileID)] > 0, nil
}

func (r *MemoryRegistry) StartHeartbeat(context.Context) error { return nil }
func (r *MemoryRegistry) StopHeartbeat()                       {}
func (r *MemoryRegistry) Close() error                         { return nil }

var _ Registry = (*MemoryRegistry)(nil)
