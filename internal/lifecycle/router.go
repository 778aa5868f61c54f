package lifecycle

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ForwardRequest is the client payload the router carries to a worker.
// The body is buffered up front so a parked request can be replayed after
// a promotion completes.
type ForwardRequest struct {
	Body        []byte
	ContentType string
}

// Router resolves a model name to its slot pair and either forwards the
// request to the active worker or parks it in the hold queue until a slot
// becomes active.
type Router struct {
	reg    *Registry
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

func newRouter(reg *Registry, cfg Config, log zerolog.Logger) *Router {
	// Timeout intentionally 0: forwarding is bounded by the caller's
	// request context, not a client-wide deadline.
	return &Router{reg: reg, cfg: cfg, client: &http.Client{Timeout: 0}, log: log}
}

// Route forwards one request. The caller's connection stays open for the
// duration; queued requests are resumed in arrival order once the first
// promotion succeeds. Worker responses, including worker-reported errors,
// pass through verbatim.
func (rt *Router) Route(ctx context.Context, name string, req ForwardRequest, w http.ResponseWriter) error {
	m, ok := rt.reg.Lookup(name)
	if !ok {
		return ErrNotFound(name)
	}

	h := m.Pair.Active()
	if h == nil {
		var err error
		h, err = rt.awaitRelease(ctx, m)
		if err != nil {
			return err
		}
	}
	return rt.forward(ctx, name, h, req, w)
}

// awaitRelease parks the caller until the controller releases the queue
// (promotion succeeded), the hold expires, or the caller goes away.
func (rt *Router) awaitRelease(ctx context.Context, m *Model) (*WorkerHandle, error) {
	e, err := m.queue.enqueue()
	if err != nil {
		return nil, err
	}
	// A promotion can flip and replay the queue between the caller's
	// active check and the enqueue above; an entry appended after that
	// replay would only ever expire. Re-check and pull it back out.
	if h := m.Pair.Active(); h != nil {
		if m.queue.cancel(e) {
			return h, nil
		}
		// Released concurrently; the buffered result below carries the
		// handle.
	}
	queuedTotal.Inc()
	rt.log.Debug().Str("model", m.Name).Msg("request parked, no active slot")

	select {
	case res := <-e.ch:
		queueWaitSeconds.Observe(time.Since(e.enqueued).Seconds())
		if res.err != nil {
			return nil, res.err
		}
		return res.handle, nil
	case <-ctx.Done():
		if m.queue.cancel(e) {
			return nil, ctx.Err()
		}
		// Released concurrently with the disconnect; the entry is already
		// off the queue, so just consume the result and report the cancel.
		<-e.ch
		return nil, ctx.Err()
	}
}

func (rt *Router) forward(ctx context.Context, name string, h *WorkerHandle, req ForwardRequest, w http.ResponseWriter) error {
	h.beginRequest()
	defer h.endRequest()

	url := h.BaseURL + rt.cfg.InferencePath
	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
	if err != nil {
		forwardsTotal.WithLabelValues("error").Inc()
		return ErrUpstreamUnavailable(name, err.Error())
	}
	ct := req.ContentType
	if ct == "" {
		ct = "application/json"
	}
	upReq.Header.Set("Content-Type", ct)

	resp, err := rt.client.Do(upReq)
	if err != nil {
		if ctx.Err() != nil {
			forwardsTotal.WithLabelValues("canceled").Inc()
			return ctx.Err()
		}
		// Connection failure means this worker is no longer trustworthy.
		// No retry against the other slot: it is mid-switch and may not
		// hold equivalent state.
		h.setHealth(HealthUnhealthy)
		forwardsTotal.WithLabelValues("unavailable").Inc()
		rt.log.Error().Err(err).Str("model", name).Str("slot", h.Slot.String()).Msg("forward failed")
		return ErrUpstreamUnavailable(name, err.Error())
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				forwardsTotal.WithLabelValues("client_gone").Inc()
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			forwardsTotal.WithLabelValues("truncated").Inc()
			return nil
		}
	}
	forwardsTotal.WithLabelValues("ok").Inc()
	return nil
}
