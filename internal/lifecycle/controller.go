package lifecycle

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ramad/internal/artifact"
	"ramad/internal/supervisor"
)

// Controller is the per-model state machine. It is the sole writer of the
// lifecycle state and of the slot pair's active pointer; everything else
// only reads or requests transitions through it. Promotions for one model
// never run concurrently.
type Controller struct {
	model  string
	pair   *SlotPair
	queue  *holdQueue
	gw     supervisor.Gateway
	store  *artifact.Store
	cfg    Config
	events EventPublisher
	log    zerolog.Logger

	probeClient *http.Client

	// promoteMu serializes promotion attempts for this model.
	promoteMu sync.Mutex
	// mu guards the snapshot fields below.
	mu      sync.Mutex
	state   State
	current *artifact.Version
	target  *artifact.Version
	lastErr string
}

func newController(model string, pair *SlotPair, queue *holdQueue, gw supervisor.Gateway, store *artifact.Store, cfg Config, events EventPublisher, log zerolog.Logger) *Controller {
	return &Controller{
		model:       model,
		pair:        pair,
		queue:       queue,
		gw:          gw,
		store:       store,
		cfg:         cfg,
		events:      events,
		log:         log.With().Str("model", model).Logger(),
		probeClient: &http.Client{Timeout: 0},
		state:       StateEmpty,
	}
}

// SubmitArtifact accepts a new artifact version and returns immediately.
// Promotion proceeds in the background; callers observe the outcome via
// status queries or by their queued requests being resumed. Returns true
// when the upload is a no-op (byte-identical to the serving version).
func (c *Controller) SubmitArtifact(v artifact.Version) bool {
	if c.isNoOp(v) {
		c.events.Publish(Event{Name: "promote_skipped", Model: c.model, Fields: map[string]any{"version": v.ID}})
		promotionsTotal.WithLabelValues("skipped").Inc()
		return true
	}
	go c.promote(v)
	return false
}

// isNoOp reports whether v is byte-identical to the version currently
// serving. A failed state never short-circuits: a re-upload of the same
// content is the operator's retry.
func (c *Controller) isNoOp(v artifact.Version) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateFailed && c.current != nil && c.current.Digest == v.Digest
}

// promote runs one full transition sequence: stage artifact, start the
// standby slot, await readiness, flip, replay the hold queue, drain and
// stop the old slot. Any failure leaves the previously active slot
// untouched and the state at FAILED for this attempt only.
func (c *Controller) promote(v artifact.Version) {
	c.promoteMu.Lock()
	defer c.promoteMu.Unlock()

	// An earlier queued attempt may have promoted this exact content.
	if c.isNoOp(v) {
		promotionsTotal.WithLabelValues("skipped").Inc()
		return
	}

	standby := c.pair.standby()
	c.setState(StatePromoting, &v, "")
	c.events.Publish(Event{Name: "promote_start", Model: c.model, Fields: map[string]any{
		"version": v.ID, "slot": standby.Slot.String(),
	}})
	start := time.Now()

	if _, err := c.store.StageSlot(c.model, standby.Slot.String(), v); err != nil {
		c.fail("stage artifact: "+err.Error(), "failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReadyTimeout)
	defer cancel()

	standby.setHealth(HealthStarting)
	standby.setVersion(v.ID)
	if err := c.gw.Start(ctx, standby.Group); err != nil {
		standby.setHealth(HealthStopped)
		c.fail("start "+standby.Group+": "+err.Error(), "failed")
		return
	}

	if err := c.awaitReady(ctx, standby); err != nil {
		// Best effort teardown of the half-started slot.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = c.gw.Stop(stopCtx, standby.Group)
		stopCancel()
		standby.setHealth(HealthStopped)
		outcome := "failed"
		if IsPromotionTimeout(err) {
			outcome = "timeout"
		}
		c.fail(err.Error(), outcome)
		return
	}
	standby.setHealth(HealthReady)

	// The single atomic flip point: after this store the router routes new
	// requests to the standby; requests already forwarded keep running
	// against the old slot and are drained below.
	old := c.pair.Active()
	c.pair.promote(standby.Slot)
	c.setState(StateDraining, nil, "")
	c.mu.Lock()
	c.current = &v
	c.mu.Unlock()
	c.events.Publish(Event{Name: "promoted", Model: c.model, Fields: map[string]any{
		"version": v.ID, "slot": standby.Slot.String(), "dur_ms": time.Since(start).Milliseconds(),
	}})

	released := c.queue.releaseAll(standby)
	if released > 0 {
		c.events.Publish(Event{Name: "queue_replayed", Model: c.model, Fields: map[string]any{"count": released}})
	}

	if old != nil && old != standby {
		c.drain(old)
	}

	c.setState(StateActiveOnly, nil, "")
	promotionsTotal.WithLabelValues("promoted").Inc()
	c.events.Publish(Event{Name: "promote_done", Model: c.model, Fields: map[string]any{
		"version": v.ID, "dur_ms": time.Since(start).Milliseconds(),
	}})
}

// awaitReady polls the worker's health endpoint until it answers 2xx,
// checking the supervisor for an early FATAL exit between probes.
func (c *Controller) awaitReady(ctx context.Context, h *WorkerHandle) error {
	url := h.BaseURL + c.cfg.HealthPath
	for {
		if c.probeOnce(ctx, url) {
			return nil
		}
		// A crashed process fails fast instead of burning the deadline.
		if st, err := c.gw.Status(ctx, h.Group); err == nil && st == supervisor.StateFatal {
			return ErrPromotionFailed(c.model, "worker process "+h.Group+" is FATAL")
		}
		select {
		case <-ctx.Done():
			return ErrPromotionTimeout(c.model)
		case <-time.After(c.cfg.ProbeInterval):
		}
	}
}

func (c *Controller) probeOnce(ctx context.Context, url string) bool {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// drain waits for requests already dispatched to the superseded slot, then
// stops its process. A stop failure is logged and leaves the new slot
// serving; it never fails the promotion that already happened.
func (c *Controller) drain(old *WorkerHandle) {
	deadline := time.Now().Add(c.cfg.DrainTimeout)
	for old.Inflight() > 0 {
		if time.Now().After(deadline) {
			c.events.Publish(Event{Name: "drain_timeout", Model: c.model, Fields: map[string]any{
				"slot": old.Slot.String(), "inflight": old.Inflight(),
			}})
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.gw.Stop(ctx, old.Group); err != nil {
		c.log.Error().Err(err).Str("group", old.Group).Msg("stop superseded slot")
		c.events.Publish(Event{Name: "stop_failed", Model: c.model, Fields: map[string]any{
			"slot": old.Slot.String(), "error": err.Error(),
		}})
	}
	old.setHealth(HealthStopped)
	c.events.Publish(Event{Name: "drained", Model: c.model, Fields: map[string]any{"slot": old.Slot.String()}})
}

func (c *Controller) fail(msg, outcome string) {
	c.setState(StateFailed, nil, msg)
	promotionsTotal.WithLabelValues(outcome).Inc()
	c.log.Error().Str("reason", msg).Msg("promotion failed")
	c.events.Publish(Event{Name: "promote_failed", Model: c.model, Fields: map[string]any{"error": msg}})
}

func (c *Controller) setState(s State, target *artifact.Version, lastErr string) {
	c.mu.Lock()
	c.state = s
	if target != nil {
		c.target = target
	}
	if s != StatePromoting && s != StateDraining {
		c.target = nil
	}
	c.lastErr = lastErr
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentVersion returns the version currently serving, if any.
func (c *Controller) CurrentVersion() (artifact.Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return artifact.Version{}, false
	}
	return *c.current, true
}

// LastError returns the failure reason of the last attempt, if any.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
