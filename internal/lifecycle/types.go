package lifecycle

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the per-model lifecycle state driven by the controller.
type State string

const (
	// StateEmpty: no artifact has ever been promoted for this name.
	StateEmpty State = "empty"
	// StateActiveOnly: steady state, one slot active, the other stopped.
	StateActiveOnly State = "active_only"
	// StatePromoting: standby slot is starting with a new artifact.
	StatePromoting State = "promoting"
	// StateDraining: old slot finishing in-flight work before stop.
	StateDraining State = "draining"
	// StateFailed: last promotion attempt failed; the previously active
	// slot, if any, keeps serving.
	StateFailed State = "failed"
)

// Health is the observed health of one worker process.
type Health string

const (
	HealthStarting  Health = "starting"
	HealthReady     Health = "ready"
	HealthUnhealthy Health = "unhealthy"
	HealthStopped   Health = "stopped"
)

// SlotID names one of the two fixed process identities of a model.
type SlotID int

const (
	SlotA SlotID = iota
	SlotB
)

func (s SlotID) String() string {
	if s == SlotA {
		return "a"
	}
	return "b"
}

func (s SlotID) other() SlotID {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// WorkerHandle represents one running (or stopped) model-server process.
// It is owned exclusively by its SlotPair; the router only reads it and
// tracks in-flight requests against it.
type WorkerHandle struct {
	Slot    SlotID
	Group   string // supervisor process group name
	BaseURL string // worker inference endpoint

	mu       sync.Mutex
	health   Health
	version  string
	inflight atomic.Int64
}

func (h *WorkerHandle) Health() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.health
}

func (h *WorkerHandle) setHealth(v Health) {
	h.mu.Lock()
	h.health = v
	h.mu.Unlock()
}

func (h *WorkerHandle) Version() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

func (h *WorkerHandle) setVersion(id string) {
	h.mu.Lock()
	h.version = id
	h.mu.Unlock()
}

// beginRequest/endRequest bracket a forwarded request so draining can wait
// for work already dispatched to a superseded slot.
func (h *WorkerHandle) beginRequest() { h.inflight.Add(1) }
func (h *WorkerHandle) endRequest()   { h.inflight.Add(-1) }

// Inflight reports requests currently forwarded against this slot.
func (h *WorkerHandle) Inflight() int64 { return h.inflight.Load() }

// SlotPair owns the two worker handles of one model name and the pointer
// to whichever is active. The pair is a fixed two-element array, never a
// pool, which keeps the at-most-one-active invariant trivial to check.
type SlotPair struct {
	model string
	slots [2]*WorkerHandle
	// active holds the active SlotID, or activeNone. Written only by the
	// controller through promote(); read by the router as one atomic load.
	active atomic.Int32
}

const activeNone int32 = -1

func newSlotPair(model, host string, portA, portB int) *SlotPair {
	p := &SlotPair{model: model}
	ports := [2]int{portA, portB}
	for _, id := range []SlotID{SlotA, SlotB} {
		p.slots[id] = &WorkerHandle{
			Slot:    id,
			Group:   fmt.Sprintf("%s_%s", model, id),
			BaseURL: fmt.Sprintf("http://%s:%d", host, ports[id]),
			health:  HealthStopped,
		}
	}
	p.active.Store(activeNone)
	return p
}

// Handle returns the handle of the given slot.
func (p *SlotPair) Handle(id SlotID) *WorkerHandle { return p.slots[id] }

// Active returns the currently active handle, or nil when no slot has ever
// been promoted. This is the router's single consistent snapshot read.
func (p *SlotPair) Active() *WorkerHandle {
	a := p.active.Load()
	if a == activeNone {
		return nil
	}
	return p.slots[a]
}

// ActiveSlot reports the active slot id, if any.
func (p *SlotPair) ActiveSlot() (SlotID, bool) {
	a := p.active.Load()
	if a == activeNone {
		return 0, false
	}
	return SlotID(a), true
}

// standby returns the handle promotion should target next.
func (p *SlotPair) standby() *WorkerHandle {
	a := p.active.Load()
	if a == activeNone {
		return p.slots[SlotA]
	}
	return p.slots[SlotID(a).other()]
}

// promote flips the active pointer to the given slot. Invoked exclusively
// by the lifecycle controller; the store is the single atomic flip point.
func (p *SlotPair) promote(id SlotID) {
	p.active.Store(int32(id))
}
