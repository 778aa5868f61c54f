package lifecycle

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ramad/internal/artifact"
	"ramad/internal/supervisor"
	"ramad/pkg/types"
)

// Manager is the facade the HTTP layer talks to: artifact submission,
// request routing and status reporting for all model names.
type Manager struct {
	cfg       Config
	store     *artifact.Store
	reg       *Registry
	router    *Router
	events    EventPublisher
	log       zerolog.Logger
	startTime time.Time
}

// Option mutates construction-time collaborators.
type Option func(*Manager)

// WithEvents installs an event publisher; the default drops events.
func WithEvents(p EventPublisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.events = p
		}
	}
}

// WithLogger installs a structured logger; the default is a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// New constructs a Manager. gw controls worker processes, store persists
// uploaded artifacts.
func New(cfg Config, store *artifact.Store, gw supervisor.Gateway, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		store:     store,
		events:    noopPublisher{},
		log:       zerolog.Nop(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reg = newRegistry(m.cfg, gw, store, m.events, m.log)
	m.router = newRouter(m.reg, m.cfg, m.log)
	return m
}

// Bootstrap re-registers every model that already has an artifact on disk
// and submits its latest version, so workers come back after a daemon
// restart without a fresh upload.
func (m *Manager) Bootstrap() {
	for _, name := range m.store.Models() {
		v, ok := m.store.Latest(name)
		if !ok {
			continue
		}
		ent := m.reg.GetOrCreate(name)
		m.log.Info().Str("model", name).Str("version", v.ID).Msg("bootstrapping model from disk")
		ent.Ctrl.SubmitArtifact(v)
	}
}

// SubmitArtifact persists the payload as a new version and triggers an
// asynchronous promotion. It returns as soon as the artifact is on disk.
func (m *Manager) SubmitArtifact(ctx context.Context, name string, payload io.Reader) (types.UploadResponse, error) {
	v, reused, err := m.store.Save(name, payload)
	if err != nil {
		return types.UploadResponse{}, err
	}
	ent := m.reg.GetOrCreate(name)
	noop := ent.Ctrl.SubmitArtifact(v)
	return types.UploadResponse{
		Model:   name,
		Version: v.ID,
		Digest:  v.Digest,
		NoOp:    reused && noop,
	}, nil
}

// Route forwards one inference request per the routing contract; see
// Router.Route.
func (m *Manager) Route(ctx context.Context, name string, req ForwardRequest, w http.ResponseWriter) error {
	return m.router.Route(ctx, name, req, w)
}

// ListModels summarizes every registered model name.
func (m *Manager) ListModels() []types.ModelSummary {
	names := m.reg.Names()
	out := make([]types.ModelSummary, 0, len(names))
	for _, name := range names {
		ent, ok := m.reg.Lookup(name)
		if !ok {
			continue
		}
		s := types.ModelSummary{Name: name, State: string(ent.Ctrl.State())}
		if slot, ok := ent.Pair.ActiveSlot(); ok {
			s.ActiveSlot = slot.String()
		}
		if v, ok := ent.Ctrl.CurrentVersion(); ok {
			s.Version = v.ID
		}
		out = append(out, s)
	}
	return out
}

// ModelStatus reports the full status of one model name; ErrNotFound if
// the name was never referenced.
func (m *Manager) ModelStatus(name string) (types.ModelStatusResponse, error) {
	ent, ok := m.reg.Lookup(name)
	if !ok {
		return types.ModelStatusResponse{}, ErrNotFound(name)
	}
	resp := types.ModelStatusResponse{
		Name:      name,
		State:     string(ent.Ctrl.State()),
		QueueLen:  ent.queue.len(),
		LastError: ent.Ctrl.LastError(),
	}
	if slot, ok := ent.Pair.ActiveSlot(); ok {
		resp.ActiveSlot = slot.String()
	}
	if v, ok := ent.Ctrl.CurrentVersion(); ok {
		resp.Version = v.ID
		resp.Digest = v.Digest
	}
	for _, id := range []SlotID{SlotA, SlotB} {
		h := ent.Pair.Handle(id)
		resp.Slots = append(resp.Slots, types.SlotStatus{
			Slot:     id.String(),
			Group:    h.Group,
			BaseURL:  h.BaseURL,
			Health:   string(h.Health()),
			Inflight: int(h.Inflight()),
			Version:  h.Version(),
		})
	}
	return resp, nil
}

// Ready reports whether the daemon can serve: trivially true with no
// models, otherwise true once any model has an active slot.
func (m *Manager) Ready() bool {
	names := m.reg.Names()
	if len(names) == 0 {
		return true
	}
	for _, name := range names {
		if ent, ok := m.reg.Lookup(name); ok && ent.Pair.Active() != nil {
			return true
		}
	}
	return false
}
