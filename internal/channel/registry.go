package channel

import (
	"sync"

	"tourcast/internal/model"
)

// Registry holds the adapter for each channel. Adapters are independently
// pluggable; a channel with no registered adapter fails sends permanently.
type Registry struct {
	mu sync.RWMutex
	m  map[model.Channel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{m: map[model.Channel]Adapter{}}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	r.m[a.Channel()] = a
	r.mu.Unlock()
}

func (r *Registry) Get(ch model.Channel) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.m[ch]
	return a, ok
}

func (r *Registry) Channels() []model.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Channel, 0, len(r.m))
	for ch := range r.m {
		out = append(out, ch)
	}
	return out
}
