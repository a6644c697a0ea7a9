package peripheral

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Arceliar/phony"

	"github.com/nextlevelbuilder/blelink/internal/bridge"
	"github.com/nextlevelbuilder/blelink/internal/bus"
)

// --- fake RPC channel ---

type fakeCall struct {
	method string
	params interface{}
}

type fakeChannel struct {
	mu      sync.Mutex
	open    bool
	handler bridge.Handler
	calls   []fakeCall
	errs    map[string]error
	blocked map[string]bool
	closes  int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{errs: make(map[string]error), blocked: make(map[string]bool)}
}

func (f *fakeChannel) Open(_ context.Context, h bridge.Handler) error {
	f.mu.Lock()
	f.open = true
	f.handler = h
	f.mu.Unlock()
	h.OnOpen()
	return nil
}

func (f *fakeChannel) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{method: method, params: params})
	if f.blocked[method] {
		// hang like an unanswered request until the caller gives up
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return nil, ctx.Err()
	}
	if err := f.errs[method]; err != nil {
		return nil, err
	}
	return json.RawMessage("null"), nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return nil
}

func (f *fakeChannel) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeChannel) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *fakeChannel) block(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[method] = true
}

func (f *fakeChannel) callsTo(method string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeChannel) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// --- manual clock ---

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// active counts timers neither stopped nor fired.
func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// --- event recorder ---

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) Broadcast(e bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (r *recorder) last(name string) (bus.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i], true
		}
	}
	return bus.Event{}, false
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// --- session helpers ---

type harness struct {
	s     *Session
	ch    *fakeChannel
	clock *fakeClock
	rec   *recorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		ch:    newFakeChannel(),
		clock: &fakeClock{},
		rec:   &recorder{},
	}
	if opts.ExtensionID == "" {
		opts.ExtensionID = "icobot"
	}
	opts.Clock = h.clock
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	h.s = NewSession(h.ch, h.rec, opts)
	return h
}

// open opens the session and waits for the initial discover call.
func (h *harness) open(t *testing.T) {
	t.Helper()
	if err := h.s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.settle()
}

// settle waits until every queued inbox message and in-flight RPC
// completion has been processed.
func (h *harness) settle() {
	phony.Block(h.s, func() {})
	h.s.inflight.Wait()
	phony.Block(h.s, func() {})
}

func (h *harness) notify(t *testing.T, method, params string) (interface{}, error) {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	return h.s.HandleNotification(method, raw)
}

// connectTo discovers a peripheral and connects to it.
func (h *harness) connectTo(t *testing.T, record, id string) {
	t.Helper()
	if _, err := h.notify(t, "didDiscoverPeripheral", record); err != nil {
		t.Fatalf("didDiscoverPeripheral: %v", err)
	}
	h.s.Connect(id, "")
	h.settle()
	if !h.s.IsConnected() {
		t.Fatalf("state = %v, want connected", h.s.State())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}
