package community

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// relaySet holds the ids of blocks this peer already broadcast or relayed.
// Entries expire after ttl and the oldest are evicted beyond capacity.
type relaySet struct {
	mu  sync.Mutex
	ids *expirable.LRU[string, struct{}]
}

func newRelaySet(capacity int, ttl time.Duration) *relaySet {
	if capacity <= 0 {
		capacity = DefaultConfig().RelayCapacity
	}
	if ttl <= 0 {
		ttl = DefaultConfig().RelayTTL
	}
	return &relaySet{ids: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// add records ids as relayed.
func (r *relaySet) add(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.ids.Add(id, struct{}{})
	}
}

// markNew records ids and reports whether the first was not yet present.
// Concurrent callers racing on one id see true at most once.
func (r *relaySet) markNew(ids ...string) bool {
	if len(ids) == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fresh := !r.ids.Contains(ids[0])
	for _, id := range ids {
		r.ids.Add(id, struct{}{})
	}
	return fresh
}

func (r *relaySet) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids.Contains(id)
}

func (r *relaySet) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids.Len()
}
