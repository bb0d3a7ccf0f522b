package rotation

import (
	"sync"
	"time"
)

// rearmBuffer pushes each firing slightly past the slot boundary so the
// regenerated code is always for the new slot, never the one just ended.
const rearmBuffer = time.Second

// Scheduler fires a callback once per slot transition for each armed
// session. Timers are aligned to the slot boundary rather than running on a
// fixed period, so repeated re-arms cannot drift.
type Scheduler struct {
	engine *Engine

	mu     sync.Mutex
	timers map[string]*time.Timer

	nowFunc func() time.Time
}

// NewScheduler creates a scheduler over the given engine.
func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{
		engine:  engine,
		timers:  make(map[string]*time.Timer),
		nowFunc: time.Now,
	}
}

// Arm schedules fn to run just after every upcoming slot boundary for the
// session code. Arming an already-armed code first cancels the prior timer,
// so repeated calls never stack duplicate firings.
func (s *Scheduler) Arm(code string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(code, fn)
}

func (s *Scheduler) armLocked(code string, fn func()) {
	if prev, ok := s.timers[code]; ok {
		prev.Stop()
	}
	delay := s.engine.NextRotation(s.nowFunc()).Sub(s.nowFunc()) + rearmBuffer
	if delay <= 0 {
		delay = rearmBuffer
	}
	s.timers[code] = time.AfterFunc(delay, func() {
		fn()
		s.mu.Lock()
		if _, armed := s.timers[code]; armed {
			s.armLocked(code, fn)
		}
		s.mu.Unlock()
	})
}

// Cancel halts the timer for one session code.
func (s *Scheduler) Cancel(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[code]; ok {
		t.Stop()
		delete(s.timers, code)
	}
}

// StopAll drains every armed timer. Ending a session or shutting down must
// leave no repeating timer behind.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, t := range s.timers {
		t.Stop()
		delete(s.timers, code)
	}
}

// Armed reports whether a timer is currently tracked for code.
func (s *Scheduler) Armed(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[code]
	return ok
}
