package supervisor

import (
	"context"
	"sync"
)

// Fake is an in-memory Gateway for tests. It records calls and lets tests
// inject per-group failures and states without a real process manager.
type Fake struct {
	mu     sync.Mutex
	states map[string]ProcessState
	calls  []string

	// StartErr/StopErr, when set, are returned by the corresponding call.
	StartErr error
	StopErr  error
	// OnStart, when set, runs after a successful Start (e.g. to bring a
	// fake worker server up).
	OnStart func(group string)
	// OnStop, when set, runs after a successful Stop.
	OnStop func(group string)
}

func NewFake() *Fake {
	return &Fake{states: make(map[string]ProcessState)}
}

func (f *Fake) Start(ctx context.Context, group string) error {
	f.mu.Lock()
	f.calls = append(f.calls, "start "+group)
	err := f.StartErr
	if err == nil {
		f.states[group] = StateRunning
	}
	onStart := f.OnStart
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if onStart != nil {
		onStart(group)
	}
	return nil
}

func (f *Fake) Stop(ctx context.Context, group string) error {
	f.mu.Lock()
	f.calls = append(f.calls, "stop "+group)
	err := f.StopErr
	if err == nil {
		f.states[group] = StateStopped
	}
	onStop := f.OnStop
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if onStop != nil {
		onStop(group)
	}
	return nil
}

func (f *Fake) Status(ctx context.Context, group string) (ProcessState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[group]
	if !ok {
		return StateUnknown, nil
	}
	return st, nil
}

// SetState overrides the reported state of a group.
func (f *Fake) SetState(group string, st ProcessState) {
	f.mu.Lock()
	f.states[group] = st
	f.mu.Unlock()
}

// Calls returns a copy of the recorded call log.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
