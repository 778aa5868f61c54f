package lifecycle

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ramad/internal/artifact"
	"ramad/internal/supervisor"
)

// fakeWorker is an httptest-backed stand-in for a supervised model server.
// It answers the health probe with 503 until ready is set, and records the
// bodies of forwarded inference requests.
type fakeWorker struct {
	srv   *httptest.Server
	ready atomic.Bool
	delay time.Duration
	reply string

	mu     sync.Mutex
	bodies []string
}

func newFakeWorker(t *testing.T, reply string) *fakeWorker {
	t.Helper()
	w := &fakeWorker{reply: reply}
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/status":
			if w.ready.Load() {
				rw.WriteHeader(http.StatusOK)
				return
			}
			rw.WriteHeader(http.StatusServiceUnavailable)
		case r.Method == http.MethodPost && r.URL.Path == "/webhooks/rest/webhook":
			b, _ := io.ReadAll(r.Body)
			w.mu.Lock()
			w.bodies = append(w.bodies, string(b))
			w.mu.Unlock()
			if w.delay > 0 {
				time.Sleep(w.delay)
			}
			rw.Header().Set("Content-Type", "application/json")
			io.WriteString(rw, w.reply)
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(w.srv.Close)
	return w
}

func (w *fakeWorker) seen() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.bodies))
	copy(out, w.bodies)
	return out
}

// testConfig keeps promotion-related timeouts short so failure paths do
// not stall the suite.
func testConfig() Config {
	return Config{
		ReadyTimeout:  2 * time.Second,
		ProbeInterval: 10 * time.Millisecond,
		ProbeTimeout:  200 * time.Millisecond,
		DrainTimeout:  1 * time.Second,
		MaxQueueWait:  2 * time.Second,
	}
}

// newTestManager builds a manager on a temp artifact store and a fake
// gateway, and binds the model's two slots to the given fake workers.
func newTestManager(t *testing.T, cfg Config, model string, wa, wb *fakeWorker) (*Manager, *supervisor.Fake) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	gw := supervisor.NewFake()
	m := New(cfg, store, gw)
	ent := m.reg.GetOrCreate(model)
	if wa != nil {
		ent.Pair.Handle(SlotA).BaseURL = wa.srv.URL
	}
	if wb != nil {
		ent.Pair.Handle(SlotB).BaseURL = wb.srv.URL
	}
	return m, gw
}

// upload pushes payload bytes as a new artifact for model.
func upload(t *testing.T, m *Manager, model, payload string) {
	t.Helper()
	if _, err := m.SubmitArtifact(context.Background(), model, strings.NewReader(payload)); err != nil {
		t.Fatalf("submit artifact: %v", err)
	}
}

// waitState polls until the model reaches the wanted state or the deadline
// elapses.
func waitState(t *testing.T, m *Manager, model string, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ent, ok := m.reg.Lookup(model)
		if ok && ent.Ctrl.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	ent, _ := m.reg.Lookup(model)
	t.Fatalf("model %s never reached %s (now %s, lastErr=%q)", model, want, ent.Ctrl.State(), ent.Ctrl.LastError())
}
