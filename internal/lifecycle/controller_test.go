package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ramad/internal/artifact"
	"ramad/internal/supervisor"
)

func TestFirstUploadPromotesSlotA(t *testing.T) {
	wa := newFakeWorker(t, `[{"text":"hi from a"}]`)
	wb := newFakeWorker(t, `[{"text":"hi from b"}]`)
	m, gw := newTestManager(t, testConfig(), "greeter", wa, wb)
	gw.OnStart = func(group string) {
		if strings.HasSuffix(group, "_a") {
			wa.ready.Store(true)
		}
	}

	upload(t, m, "greeter", "weights-v1")
	waitState(t, m, "greeter", StateActiveOnly)

	ent, _ := m.reg.Lookup("greeter")
	slot, ok := ent.Pair.ActiveSlot()
	if !ok || slot != SlotA {
		t.Fatalf("active slot = %v ok=%v, want slot a", slot, ok)
	}
	if h := ent.Pair.Active(); h.Health() != HealthReady {
		t.Fatalf("active health = %s, want ready", h.Health())
	}
	calls := gw.Calls()
	if len(calls) == 0 || calls[0] != "start greeter_a" {
		t.Fatalf("gateway calls = %v, want start greeter_a first", calls)
	}
}

func TestSecondUploadFlipsToStandbyAndStopsOld(t *testing.T) {
	wa := newFakeWorker(t, `[{"text":"v1"}]`)
	wb := newFakeWorker(t, `[{"text":"v2"}]`)
	m, gw := newTestManager(t, testConfig(), "greeter", wa, wb)
	gw.OnStart = func(group string) {
		if strings.HasSuffix(group, "_a") {
			wa.ready.Store(true)
		} else {
			wb.ready.Store(true)
		}
	}

	upload(t, m, "greeter", "weights-v1")
	waitState(t, m, "greeter", StateActiveOnly)
	upload(t, m, "greeter", "weights-v2")
	waitState(t, m, "greeter", StateActiveOnly)

	ent, _ := m.reg.Lookup("greeter")
	if slot, _ := ent.Pair.ActiveSlot(); slot != SlotB {
		t.Fatalf("active slot after second upload = %s, want b", slot)
	}

	rec := httptest.NewRecorder()
	err := m.Route(context.Background(), "greeter", ForwardRequest{Body: []byte(`{"message":"hi"}`)}, rec)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got := rec.Body.String(); got != `[{"text":"v2"}]` {
		t.Fatalf("response body = %q, want v2 reply", got)
	}

	var stoppedOld bool
	for _, c := range gw.Calls() {
		if c == "stop greeter_a" {
			stoppedOld = true
		}
	}
	if !stoppedOld {
		t.Fatalf("superseded slot never stopped: calls=%v", gw.Calls())
	}
}

func TestFailedPromotionLeavesOldVersionServing(t *testing.T) {
	wa := newFakeWorker(t, `[{"text":"v1"}]`)
	wb := newFakeWorker(t, `[{"text":"v2"}]`)
	cfg := testConfig()
	cfg.ReadyTimeout = 150 * time.Millisecond
	m, gw := newTestManager(t, cfg, "greeter", wa, wb)
	gw.OnStart = func(group string) {
		// Slot b stays unready: its readiness probe never passes.
		if strings.HasSuffix(group, "_a") {
			wa.ready.Store(true)
		}
	}

	upload(t, m, "greeter", "weights-v1")
	waitState(t, m, "greeter", StateActiveOnly)
	upload(t, m, "greeter", "weights-v2")
	waitState(t, m, "greeter", StateFailed)

	ent, _ := m.reg.Lookup("greeter")
	if slot, _ := ent.Pair.ActiveSlot(); slot != SlotA {
		t.Fatalf("active slot after failed promotion = %s, want a", slot)
	}
	if ent.Ctrl.LastError() == "" {
		t.Fatal("failed promotion recorded no error")
	}
	if v, ok := ent.Ctrl.CurrentVersion(); !ok || v.ID == "" {
		t.Fatal("current version lost after failed promotion")
	}

	// The old slot keeps serving.
	rec := httptest.NewRecorder()
	if err := m.Route(context.Background(), "greeter", ForwardRequest{Body: []byte(`{}`)}, rec); err != nil {
		t.Fatalf("route after failed promotion: %v", err)
	}
	if got := rec.Body.String(); got != `[{"text":"v1"}]` {
		t.Fatalf("response body = %q, want v1 reply", got)
	}

	// The half-started standby was torn down.
	var stoppedB bool
	for _, c := range gw.Calls() {
		if c == "stop greeter_b" {
			stoppedB = true
		}
	}
	if !stoppedB {
		t.Fatalf("half-started standby never stopped: calls=%v", gw.Calls())
	}
}

func TestCrashedWorkerFailsPromotionBeforeDeadline(t *testing.T) {
	wa := newFakeWorker(t, `[]`)
	wb := newFakeWorker(t, `[]`)
	cfg := testConfig()
	cfg.ReadyTimeout = 10 * time.Second // the FATAL check must fire long before this
	m, gw := newTestManager(t, cfg, "greeter", wa, wb)
	gw.OnStart = func(group string) {
		gw.SetState(group, supervisor.StateFatal)
	}

	start := time.Now()
	upload(t, m, "greeter", "weights-v1")
	waitState(t, m, "greeter", StateFailed)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("FATAL exit took %v to surface", elapsed)
	}
	ent, _ := m.reg.Lookup("greeter")
	if !strings.Contains(ent.Ctrl.LastError(), "FATAL") {
		t.Fatalf("last error %q does not mention the crash", ent.Ctrl.LastError())
	}
}

func TestByteIdenticalUploadIsNoOp(t *testing.T) {
	wa := newFakeWorker(t, `[]`)
	wb := newFakeWorker(t, `[]`)
	m, gw := newTestManager(t, testConfig(), "greeter", wa, wb)
	gw.OnStart = func(group string) {
		if strings.HasSuffix(group, "_a") {
			wa.ready.Store(true)
		}
	}

	upload(t, m, "greeter", "weights-v1")
	waitState(t, m, "greeter", StateActiveOnly)

	resp, err := m.SubmitArtifact(context.Background(), "greeter", strings.NewReader("weights-v1"))
	if err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	if !resp.NoOp {
		t.Fatal("byte-identical re-upload not reported as no-op")
	}

	starts := 0
	for _, c := range gw.Calls() {
		if strings.HasPrefix(c, "start ") {
			starts++
		}
	}
	if starts != 1 {
		t.Fatalf("no-op upload triggered a restart: calls=%v", gw.Calls())
	}
}

func TestReuploadAfterFailureRetriesPromotion(t *testing.T) {
	wa := newFakeWorker(t, `[]`)
	wb := newFakeWorker(t, `[]`)
	cfg := testConfig()
	cfg.ReadyTimeout = 150 * time.Millisecond
	m, gw := newTestManager(t, cfg, "greeter", wa, wb)

	// First attempt: slot a never becomes ready.
	upload(t, m, "greeter", "weights-v1")
	waitState(t, m, "greeter", StateFailed)

	// Same bytes again, now with a worker that comes up. A failed state
	// must not short-circuit the retry as a no-op.
	gw.OnStart = func(group string) {
		if strings.HasSuffix(group, "_a") {
			wa.ready.Store(true)
		}
	}
	resp, err := m.SubmitArtifact(context.Background(), "greeter", strings.NewReader("weights-v1"))
	if err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	if resp.NoOp {
		t.Fatal("retry after failure wrongly reported as no-op")
	}
	waitState(t, m, "greeter", StateActiveOnly)
}

func TestQueuedRequestsReplayAfterFirstPromotion(t *testing.T) {
	wa := newFakeWorker(t, `[{"text":"ok"}]`)
	wb := newFakeWorker(t, `[]`)
	m, gw := newTestManager(t, testConfig(), "greeter", wa, wb)

	readyGate := make(chan struct{})
	gw.OnStart = func(group string) {
		go func() {
			<-readyGate
			wa.ready.Store(true)
		}()
	}

	upload(t, m, "greeter", "weights-v1")

	// Issue requests while the model has no active slot; they must park,
	// not fail.
	const n = 3
	var wg sync.WaitGroup
	errs := make([]error, n)
	recs := make([]*httptest.ResponseRecorder, n)
	for i := 0; i < n; i++ {
		recs[i] = httptest.NewRecorder()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Route(context.Background(), "greeter", ForwardRequest{Body: []byte(fmt.Sprintf(`{"i":%d}`, i))}, recs[i])
		}(i)
	}

	// Wait until all three are parked, then let the worker become ready.
	ent, _ := m.reg.Lookup("greeter")
	deadline := time.Now().Add(3 * time.Second)
	for ent.queue.len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d requests parked", ent.queue.len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(readyGate)

	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if recs[i].Body.String() != `[{"text":"ok"}]` {
			t.Fatalf("request %d body = %q", i, recs[i].Body.String())
		}
	}
	if got := len(wa.seen()); got != n {
		t.Fatalf("worker received %d requests, want %d", got, n)
	}
}

func TestInflightRequestFinishesOnOldSlotDuringSwitch(t *testing.T) {
	wa := newFakeWorker(t, `[{"text":"slow v1"}]`)
	wa.delay = 300 * time.Millisecond
	wb := newFakeWorker(t, `[{"text":"v2"}]`)
	m, gw := newTestManager(t, testConfig(), "greeter", wa, wb)
	gw.OnStart = func(group string) {
		if strings.HasSuffix(group, "_a") {
			wa.ready.Store(true)
		} else {
			wb.ready.Store(true)
		}
	}

	upload(t, m, "greeter", "weights-v1")
	waitState(t, m, "greeter", StateActiveOnly)

	// A slow request against v1, still running when v2 takes over.
	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() {
		done <- m.Route(context.Background(), "greeter", ForwardRequest{Body: []byte(`{}`)}, rec)
	}()

	ent, _ := m.reg.Lookup("greeter")
	deadline := time.Now().Add(3 * time.Second)
	for ent.Pair.Handle(SlotA).Inflight() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow request never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}

	upload(t, m, "greeter", "weights-v2")
	waitState(t, m, "greeter", StateActiveOnly)

	if err := <-done; err != nil {
		t.Fatalf("in-flight request failed across switch: %v", err)
	}
	if got := rec.Body.String(); got != `[{"text":"slow v1"}]` {
		t.Fatalf("in-flight request answered by %q, want the old slot", got)
	}
	if slot, _ := ent.Pair.ActiveSlot(); slot != SlotB {
		t.Fatalf("active slot = %s after switch, want b", slot)
	}
}

func TestAtMostOneActiveSlotThroughoutSwitch(t *testing.T) {
	wa := newFakeWorker(t, `[]`)
	wb := newFakeWorker(t, `[]`)
	m, gw := newTestManager(t, testConfig(), "greeter", wa, wb)
	gw.OnStart = func(group string) {
		if strings.HasSuffix(group, "_a") {
			wa.ready.Store(true)
		} else {
			wb.ready.Store(true)
		}
	}

	ent := m.reg.GetOrCreate("greeter")
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			a := ent.Pair.Handle(SlotA)
			b := ent.Pair.Handle(SlotB)
			active := ent.Pair.Active()
			if active != nil && active != a && active != b {
				t.Error("active handle outside the pair")
				return
			}
		}
	}()

	for i, payload := range []string{"v1", "v2", "v3", "v4"} {
		upload(t, m, "greeter", payload)
		waitState(t, m, "greeter", StateActiveOnly)
		want := SlotA
		if i%2 == 1 {
			want = SlotB
		}
		if slot, _ := ent.Pair.ActiveSlot(); slot != want {
			t.Fatalf("upload %d: active slot %s, want %s", i, slot, want)
		}
	}
	close(stop)
	wg.Wait()
}

func TestDrainTimeoutAndStopFailureAreReported(t *testing.T) {
	wa := newFakeWorker(t, `[{"text":"slow v1"}]`)
	wa.delay = 400 * time.Millisecond
	wb := newFakeWorker(t, `[{"text":"v2"}]`)

	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	gw := supervisor.NewFake()
	pub := NewMemoryPublisher()
	cfg := testConfig()
	cfg.DrainTimeout = 50 * time.Millisecond
	m := New(cfg, store, gw, WithEvents(pub))
	ent := m.reg.GetOrCreate("greeter")
	ent.Pair.Handle(SlotA).BaseURL = wa.srv.URL
	ent.Pair.Handle(SlotB).BaseURL = wb.srv.URL
	gw.OnStart = func(group string) {
		if strings.HasSuffix(group, "_a") {
			wa.ready.Store(true)
		} else {
			wb.ready.Store(true)
		}
	}

	upload(t, m, "greeter", "weights-v1")
	waitState(t, m, "greeter", StateActiveOnly)

	// A request still running on the old slot when the switch happens,
	// slower than the drain window.
	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() {
		done <- m.Route(context.Background(), "greeter", ForwardRequest{Body: []byte(`{}`)}, rec)
	}()
	deadline := time.Now().Add(3 * time.Second)
	for ent.Pair.Handle(SlotA).Inflight() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow request never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The superseded slot also refuses to stop.
	gw.StopErr = errors.New("supervisord: SIGTERM refused")
	upload(t, m, "greeter", "weights-v2")

	deadline = time.Now().Add(5 * time.Second)
	for !(pub.Has("greeter", "drain_timeout") && pub.Has("greeter", "stop_failed")) {
		if time.Now().After(deadline) {
			t.Fatalf("missing drain events; saw %v", pub.Events())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Neither the blown drain window nor the failed stop undoes the
	// promotion that already happened.
	waitState(t, m, "greeter", StateActiveOnly)
	if slot, _ := ent.Pair.ActiveSlot(); slot != SlotB {
		t.Fatalf("active slot = %s, want b", slot)
	}
	if err := <-done; err != nil {
		t.Fatalf("in-flight request failed: %v", err)
	}
	if got := rec.Body.String(); got != `[{"text":"slow v1"}]` {
		t.Fatalf("in-flight request answered by %q, want the old slot", got)
	}
}
