package cfq

import "time"

func flagName(flag uint8) string {
	if flag == waitRT {
		return "wait_rt"
	}
	return "wait_norm"
}

// flagIndex maps a grace flag onto its slot in waitEnd
func flagIndex(flag uint8) int {
	if flag == waitRT {
		return 0
	}
	return 1
}

// armGrace starts a grace period: until it ends, the classes below the
// one just serviced are held off. Each flag keeps its own expiry.
func (s *Scheduler) armGrace(flag uint8, d time.Duration) {
	s.flags |= flag
	s.waitEnd[flagIndex(flag)] = s.clock.Now().Add(d)
	s.logger.GraceArmed(flagName(flag), d)
}

// cancelGrace ends both grace periods early
func (s *Scheduler) cancelGrace() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.flags = 0
}

// holdOff reports whether flag's grace period is still running. If so the
// timer is armed to retry selection at its end; if not the flag is cleared.
func (s *Scheduler) holdOff(flag uint8) bool {
	if s.flags&flag == 0 {
		return false
	}
	now := s.clock.Now()
	end := s.waitEnd[flagIndex(flag)]
	if now.Before(end) {
		s.armTimer(end.Sub(now))
		if s.metrics != nil {
			s.metrics.GraceWaits.Add(1)
		}
		return true
	}
	s.flags &^= flag
	return false
}

// armTimer sets the grace timer to fire after d, replacing any earlier
// deadline
func (s *Scheduler) armTimer(d time.Duration) {
	if s.closed {
		return
	}
	if s.timer == nil {
		s.timer = s.clock.AfterFunc(d, s.timerFired)
		return
	}
	s.timer.Reset(d)
}

// timerFired runs on the clock's goroutine and only posts the work
func (s *Scheduler) timerFired() {
	if s.metrics != nil {
		s.metrics.TimerFires.Add(1)
	}
	s.work.Schedule()
}

// runWork is the deferred half of the timer: under the host lock it ends
// the grace periods and restarts the host if there is work now.
func (s *Scheduler) runWork() {
	s.host.Lock()
	defer s.host.Unlock()
	if s.closed {
		return
	}
	s.flags = 0
	if s.NextRequest() != nil {
		s.host.RunQueue()
	}
}
