// Package registry holds the per block type dispatch tables: listeners
// notified of accepted blocks, transaction validators consulted before
// acceptance, and signers asked to answer proposals.
//
// All registries are safe for concurrent use. Dispatch runs on a snapshot
// taken under a read lock, so handlers may register or remove entries.
package registry

import (
	"sync"

	"github.com/Klingon-tech/xchain/pkg/block"
)

// AnyType registers a listener for every block type.
const AnyType = ""

// Listener is notified of accepted blocks.
type Listener interface {
	OnBlockReceived(b *block.Block)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(b *block.Block)

// OnBlockReceived calls f(b).
func (f ListenerFunc) OnBlockReceived(b *block.Block) { f(b) }

// ListenerID identifies a registration for removal.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	l  Listener
}

// Listeners is a multimap from block type to listeners.
type Listeners struct {
	mu     sync.RWMutex
	byType map[string][]listenerEntry
	nextID ListenerID
}

// NewListeners returns an empty registry.
func NewListeners() *Listeners {
	return &Listeners{byType: make(map[string][]listenerEntry)}
}

// Add registers l for blockType, or for every type with AnyType.
func (r *Listeners) Add(blockType string, l Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.byType[blockType] = append(r.byType[blockType], listenerEntry{id: r.nextID, l: l})
	return r.nextID
}

// Remove drops the registration. It reports whether it was found.
func (r *Listeners) Remove(id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, entries := range r.byType {
		for i, e := range entries {
			if e.id != id {
				continue
			}
			rest := append(entries[:i:i], entries[i+1:]...)
			if len(rest) == 0 {
				delete(r.byType, t)
			} else {
				r.byType[t] = rest
			}
			return true
		}
	}
	return false
}

// Len returns the number of listeners for blockType.
func (r *Listeners) Len(blockType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType[blockType])
}

// Notify calls the AnyType listeners and then the listeners of b.Type, each
// group in registration order.
func (r *Listeners) Notify(b *block.Block) {
	r.mu.RLock()
	snapshot := make([]Listener, 0, len(r.byType[AnyType])+len(r.byType[b.Type]))
	for _, e := range r.byType[AnyType] {
		snapshot = append(snapshot, e.l)
	}
	if b.Type != AnyType {
		for _, e := range r.byType[b.Type] {
			snapshot = append(snapshot, e.l)
		}
	}
	r.mu.RUnlock()

	for _, l := range snapshot {
		l.OnBlockReceived(b)
	}
}
