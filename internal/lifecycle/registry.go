package lifecycle

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"ramad/internal/artifact"
	"ramad/internal/supervisor"
)

// Model bundles the per-name state: the slot pair, the hold queue and the
// controller driving both.
type Model struct {
	Name  string
	Pair  *SlotPair
	Ctrl  *Controller
	queue *holdQueue
}

// Registry is the process-wide mapping from model name to its Model. It is
// the single writer of that mapping: concurrent first access to one name
// yields exactly one slot pair and one controller. Entries are created
// lazily and live for the process lifetime.
type Registry struct {
	cfg    Config
	gw     supervisor.Gateway
	store  *artifact.Store
	events EventPublisher
	log    zerolog.Logger

	mu      sync.Mutex
	entries map[string]*Model
	// nextPort tracks slot port assignment for names never seen before:
	// two consecutive ports per model. Assignments are persisted through
	// the store so a model keeps its ports across daemon restarts
	// regardless of reference order.
	nextPort int
}

func newRegistry(cfg Config, gw supervisor.Gateway, store *artifact.Store, events EventPublisher, log zerolog.Logger) *Registry {
	r := &Registry{
		cfg:      cfg,
		gw:       gw,
		store:    store,
		events:   events,
		log:      log,
		entries:  make(map[string]*Model),
		nextPort: cfg.PortBase,
	}
	// Start past assignments from earlier runs so a new name never
	// collides with a persisted model that has yet to be referenced.
	for _, p := range store.SlotPortBases() {
		if p+2 > r.nextPort {
			r.nextPort = p + 2
		}
	}
	return r
}

// GetOrCreate returns the entry for name, creating it on first reference.
func (r *Registry) GetOrCreate(name string) *Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.entries[name]; ok {
		return m
	}
	portA, ok := r.store.SlotPortBase(name)
	if !ok {
		portA = r.nextPort
		r.nextPort += 2
		if err := r.store.SaveSlotPortBase(name, portA); err != nil {
			r.log.Warn().Err(err).Str("model", name).Msg("persist port assignment")
		}
	} else if portA+2 > r.nextPort {
		r.nextPort = portA + 2
	}
	pair := newSlotPair(name, r.cfg.WorkerHost, portA, portA+1)
	queue := newHoldQueue(name, r.cfg.MaxQueueDepth, r.cfg.MaxQueueWait)
	m := &Model{
		Name:  name,
		Pair:  pair,
		Ctrl:  newController(name, pair, queue, r.gw, r.store, r.cfg, r.events, r.log),
		queue: queue,
	}
	r.entries[name] = m
	return m
}

// Lookup returns the entry for name without creating one.
func (r *Registry) Lookup(name string) (*Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[name]
	return m, ok
}

// Names returns all registered model names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
