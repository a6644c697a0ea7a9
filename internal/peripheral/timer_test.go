package peripheral

import (
	"testing"
	"time"
)

// queue is a serial context whose messages run only when drained.
type queue struct{ msgs []func() }

func (q *queue) post(fn func()) { q.msgs = append(q.msgs, fn) }

func (q *queue) drain() {
	for len(q.msgs) > 0 {
		fn := q.msgs[0]
		q.msgs = q.msgs[1:]
		fn()
	}
}

func TestSupervisor_FiresOnce(t *testing.T) {
	clk := &fakeClock{}
	q := &queue{}
	sv := NewSupervisor(clk, time.Second, q.post)

	fired := 0
	sv.Arm(func() { fired++ })
	if !sv.Pending() {
		t.Fatal("Pending() = false after Arm")
	}

	clk.Advance(time.Second)
	q.drain()
	clk.Advance(time.Hour)
	q.drain()

	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if sv.Pending() {
		t.Error("Pending() = true after firing")
	}
}

func TestSupervisor_RearmReplaces(t *testing.T) {
	clk := &fakeClock{}
	q := &queue{}
	sv := NewSupervisor(clk, time.Second, q.post)

	var fired []string
	sv.Arm(func() { fired = append(fired, "first") })
	clk.Advance(500 * time.Millisecond)
	sv.Arm(func() { fired = append(fired, "second") })

	if n := clk.active(); n != 1 {
		t.Errorf("active timers = %d, want 1", n)
	}

	clk.Advance(500 * time.Millisecond)
	q.drain()
	if len(fired) != 0 {
		t.Fatalf("fired = %v, want none yet", fired)
	}

	clk.Advance(500 * time.Millisecond)
	q.drain()
	if len(fired) != 1 || fired[0] != "second" {
		t.Errorf("fired = %v, want [second]", fired)
	}
}

func TestSupervisor_CancelBeforeQueuedFireWins(t *testing.T) {
	clk := &fakeClock{}
	q := &queue{}
	sv := NewSupervisor(clk, time.Second, q.post)

	fired := 0
	sv.Arm(func() { fired++ })
	clk.Advance(time.Second) // fire is now queued, not yet run
	sv.Cancel()
	q.drain()

	if fired != 0 {
		t.Errorf("fired = %d, want 0", fired)
	}
}

func TestSupervisor_RearmBeforeQueuedFire(t *testing.T) {
	clk := &fakeClock{}
	q := &queue{}
	sv := NewSupervisor(clk, time.Second, q.post)

	fired := 0
	sv.Arm(func() { fired++ })
	clk.Advance(time.Second)
	sv.Arm(func() { fired += 10 })
	q.drain()

	if fired != 0 {
		t.Errorf("fired = %d, want 0 (stale fire discarded)", fired)
	}
	if !sv.Pending() {
		t.Error("re-armed timer should still be pending")
	}
}

func TestSupervisor_CancelWithoutTimer(t *testing.T) {
	sv := NewSupervisor(&fakeClock{}, time.Second, func(fn func()) { fn() })
	sv.Cancel()
	sv.Cancel()
	if sv.Pending() {
		t.Error("Pending() = true, want false")
	}
}
