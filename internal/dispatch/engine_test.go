package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/wledsync/internal/show"
)

func intPtr(v int) *int {
	return &v
}

func controller(id string, urls ...string) *show.Controller {
	return &show.Controller{ID: show.ControllerID(id), Type: show.ControllerTypeWLED, URLs: urls}
}

func cueFor(ctrls ...*show.Controller) show.Cue {
	return show.Cue{
		Target: show.ResolvedTarget{Ref: "grp", Controllers: ctrls},
		Action: show.Action{Preset: intPtr(1)},
	}
}

// fakeBackend records calls and fails selected endpoints.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeBackend) apply(_ context.Context, endpoint string, _ *show.Controller, _ show.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpoint)
	if err, ok := f.fail[endpoint]; ok {
		return err
	}
	return nil
}

func (f *fakeBackend) callCount(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == endpoint {
			n++
		}
	}
	return n
}

func newTestEngine(backend *fakeBackend, opts Options) *Engine {
	return NewEngine(map[show.ControllerType]ApplyFunc{
		show.ControllerTypeWLED: backend.apply,
	}, opts)
}

func collectOutcomes(t *testing.T, e Dispatcher, n int) []Outcome {
	t.Helper()
	outcomes := make([]Outcome, 0, n)
	deadline := time.After(5 * time.Second)
	for len(outcomes) < n {
		select {
		case o := <-e.Outcomes():
			outcomes = append(outcomes, o)
		case <-deadline:
			t.Fatalf("timed out waiting for outcomes: got %d, want %d", len(outcomes), n)
		}
	}
	return outcomes
}

func TestEngine_GroupFanOutIsolatesFailures(t *testing.T) {
	backend := &fakeBackend{fail: map[string]error{
		"http://b": errors.New("connection refused"),
	}}
	e := newTestEngine(backend, Options{Retries: 0, RetryBackoff: time.Millisecond})

	e.Dispatch(context.Background(), show.Seconds(1), cueFor(
		controller("a", "http://a"),
		controller("b", "http://b"),
		controller("c", "http://c"),
	))

	outcomes := collectOutcomes(t, e, 3)
	byController := map[show.ControllerID]Status{}
	for _, o := range outcomes {
		byController[o.Controller] = o.Status
	}
	if byController["a"] != StatusSuccess || byController["c"] != StatusSuccess {
		t.Errorf("healthy controllers affected by failing peer: %v", byController)
	}
	if byController["b"] != StatusFailed {
		t.Errorf("controller b = %v, want failed", byController["b"])
	}
}

func TestEngine_RedundantURLFailover(t *testing.T) {
	backend := &fakeBackend{fail: map[string]error{
		"http://primary": errors.New("timeout"),
	}}
	e := newTestEngine(backend, Options{Retries: 0})

	e.Dispatch(context.Background(), 0, cueFor(controller("dev", "http://primary", "http://secondary")))

	o := collectOutcomes(t, e, 1)[0]
	if o.Status != StatusSuccess {
		t.Fatalf("status = %v, want success via secondary URL", o.Status)
	}
	if o.Endpoint != "http://secondary" {
		t.Errorf("endpoint = %q, want the fallback URL", o.Endpoint)
	}
	if backend.callCount("http://primary") != 1 {
		t.Errorf("primary tried %d times before failover, want 1", backend.callCount("http://primary"))
	}
}

func TestEngine_RetriesThenGivesUp(t *testing.T) {
	backend := &fakeBackend{fail: map[string]error{
		"http://dead": errors.New("connection refused"),
	}}
	e := newTestEngine(backend, Options{Retries: 2, RetryBackoff: time.Millisecond})

	e.Dispatch(context.Background(), 0, cueFor(controller("dev", "http://dead")))

	o := collectOutcomes(t, e, 1)[0]
	if o.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", o.Status)
	}
	if o.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", o.Attempts)
	}
	if got := backend.callCount("http://dead"); got != 3 {
		t.Errorf("endpoint called %d times, want 3", got)
	}
	if o.Err == nil {
		t.Error("failed outcome must carry the last error")
	}
}

func TestEngine_DispatchDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	slow := func(ctx context.Context, _ string, _ *show.Controller, _ show.Action) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	e := NewEngine(map[show.ControllerType]ApplyFunc{show.ControllerTypeWLED: slow},
		Options{Concurrency: 1, Timeout: 5 * time.Second})

	start := time.Now()
	for i := 0; i < 10; i++ {
		e.Dispatch(context.Background(), 0, cueFor(controller("dev", "http://slow")))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Dispatch blocked for %v; it must be fire-and-forget", elapsed)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestEngine_CloseAbandonsStuckDeliveries(t *testing.T) {
	stuck := func(ctx context.Context, _ string, _ *show.Controller, _ show.Action) error {
		<-ctx.Done()
		return ctx.Err()
	}
	e := NewEngine(map[show.ControllerType]ApplyFunc{show.ControllerTypeWLED: stuck},
		Options{Timeout: time.Minute})

	e.Dispatch(context.Background(), 0, cueFor(controller("dev", "http://stuck")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Close(ctx); err == nil {
		t.Error("Close should report the shutdown timeout when deliveries are stuck")
	}
}

func TestEngine_RejectsWorkAfterClose(t *testing.T) {
	backend := &fakeBackend{}
	e := newTestEngine(backend, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = e.Close(ctx)

	e.Dispatch(context.Background(), 0, cueFor(controller("dev", "http://a")))

	select {
	case o := <-e.Outcomes():
		t.Errorf("unexpected outcome after close: %+v", o)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDryRun_ReportsEverythingSkipped(t *testing.T) {
	d := NewDryRun(16)
	d.Dispatch(context.Background(), show.Seconds(3), cueFor(
		controller("a", "http://a"),
		controller("b", "http://b"),
	))

	outcomes := collectOutcomes(t, d, 2)
	for _, o := range outcomes {
		if o.Status != StatusDryRun {
			t.Errorf("outcome = %v, want dry_run", o.Status)
		}
		if o.Err != nil {
			t.Errorf("dry-run outcome carries error: %v", o.Err)
		}
	}
}
