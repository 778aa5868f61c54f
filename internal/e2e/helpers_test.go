package e2e

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ramad/internal/artifact"
	"ramad/internal/httpapi"
	"ramad/internal/lifecycle"
	"ramad/internal/supervisor"
)

// worker is a real TCP-bound stand-in for one supervised model server.
// The daemon assigns slot ports deterministically, so the worker must
// listen on the exact port the slot was given.
type worker struct {
	ready atomic.Bool
	reply atomic.Value // string
	srv   *http.Server
}

func (w *worker) handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/status":
			if w.ready.Load() {
				rw.WriteHeader(http.StatusOK)
				return
			}
			rw.WriteHeader(http.StatusServiceUnavailable)
		case r.Method == http.MethodPost && r.URL.Path == "/webhooks/rest/webhook":
			rw.Header().Set("Content-Type", "application/json")
			io.WriteString(rw, w.reply.Load().(string))
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	})
}

// reservePortPair finds two consecutive free localhost ports and returns
// listeners bound to them, so nothing else can grab them first.
func reservePortPair(t *testing.T) (int, net.Listener, net.Listener) {
	t.Helper()
	for attempt := 0; attempt < 50; attempt++ {
		base := 20000 + rand.Intn(20000)
		lnA, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", base))
		if err != nil {
			continue
		}
		lnB, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", base+1))
		if err != nil {
			lnA.Close()
			continue
		}
		return base, lnA, lnB
	}
	t.Fatal("could not reserve a consecutive port pair")
	return 0, nil, nil
}

// daemon bundles everything a scenario needs: the public HTTP endpoint,
// the fake process gateway and the two slot workers for one model.
type daemon struct {
	url     string
	gw      *supervisor.Fake
	workerA *worker
	workerB *worker
}

// newDaemon wires a full stack: artifact store on a temp dir, fake
// supervisor gateway, lifecycle manager and the public mux, plus two real
// workers bound to the ports slot a and slot b will be assigned. The
// gateway marks a worker ready when its group is started, mimicking a
// process coming up.
func newDaemon(t *testing.T, mutate func(*lifecycle.Config)) *daemon {
	t.Helper()
	base, lnA, lnB := reservePortPair(t)

	d := &daemon{gw: supervisor.NewFake(), workerA: &worker{}, workerB: &worker{}}
	d.workerA.reply.Store(`[{"text":"a"}]`)
	d.workerB.reply.Store(`[{"text":"b"}]`)
	d.workerA.srv = &http.Server{Handler: d.workerA.handler()}
	d.workerB.srv = &http.Server{Handler: d.workerB.handler()}
	go d.workerA.srv.Serve(lnA)
	go d.workerB.srv.Serve(lnB)
	t.Cleanup(func() {
		d.workerA.srv.Close()
		d.workerB.srv.Close()
	})

	d.gw.OnStart = func(group string) {
		if strings.HasSuffix(group, "_a") {
			d.workerA.ready.Store(true)
		} else {
			d.workerB.ready.Store(true)
		}
	}
	d.gw.OnStop = func(group string) {
		if strings.HasSuffix(group, "_a") {
			d.workerA.ready.Store(false)
		} else {
			d.workerB.ready.Store(false)
		}
	}

	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	cfg := lifecycle.Config{
		WorkerHost:    "127.0.0.1",
		PortBase:      base,
		ReadyTimeout:  5 * time.Second,
		ProbeInterval: 10 * time.Millisecond,
		DrainTimeout:  2 * time.Second,
		MaxQueueWait:  5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr := lifecycle.New(cfg, store, d.gw)

	srv := httptest.NewServer(httpapi.NewMux(mgr, httpapi.Options{}))
	t.Cleanup(srv.Close)
	d.url = srv.URL
	return d
}

func putArtifact(t *testing.T, url, model, payload string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url+"/model/"+model, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put artifact: %v", err)
	}
	return resp
}

func postInference(t *testing.T, url, model, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url+"/model/"+model, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post inference: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, string(b)
}

// waitForState polls the status endpoint until the model reports the
// wanted lifecycle state.
func waitForState(t *testing.T, url, model, want string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last string
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/model/" + model)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		last = string(b)
		if resp.StatusCode == http.StatusOK && strings.Contains(last, `"state":"`+want+`"`) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("model %s never reached %s; last status: %s", model, want, last)
}
