package peripheral

import "time"

// Timer is a pending delayed action. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed actions. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

// Supervisor holds at most one pending timeout. It is not safe for
// concurrent use: all methods, and the callback, run on the owner's
// goroutine or inbox. Fired timers are routed back through post so the
// callback is serialized with every other owner action.
//
// Each Arm bumps a generation number; a fire whose generation is stale (the
// timer was cancelled or re-armed after it went off but before post ran it)
// is discarded, so a Cancel that is processed first always wins.
type Supervisor struct {
	clock Clock
	after time.Duration
	post  func(func())

	timer Timer
	gen   uint64
}

// NewSupervisor creates a Supervisor firing after d. post must run the given
// func on the owner's serial context.
func NewSupervisor(clock Clock, d time.Duration, post func(func())) *Supervisor {
	return &Supervisor{
		clock: clock,
		after: d,
		post:  post,
	}
}

// Arm cancels any pending action and schedules fn.
func (s *Supervisor) Arm(fn func()) {
	s.Cancel()
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.after, func() {
		s.post(func() {
			if s.timer == nil || s.gen != gen {
				return
			}
			s.timer = nil
			fn()
		})
	})
}

// Cancel drops the pending action, if any.
func (s *Supervisor) Cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// Pending reports whether an action is armed and not yet consumed.
func (s *Supervisor) Pending() bool {
	return s.timer != nil
}
