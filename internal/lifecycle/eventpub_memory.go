package lifecycle

import (
	"slices"
	"sync"
)

// MemoryPublisher records published events so callers can inspect the
// transitions a promotion emitted.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

// Events returns a snapshot of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

// Has reports whether an event with the given model and name was published.
func (p *MemoryPublisher) Has(model, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Model == model && e.Name == name {
			return true
		}
	}
	return false
}
