package cfq

import (
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-cfq/internal/constants"
)

// CurrentIOContext returns the I/O context of the calling process: its
// process id as fairness key, in the given class
func CurrentIOContext(class int) IOContext {
	return IOContext{Key: int64(unix.Getpid()), Class: class}
}

// SetCongested records that a submitter of ioc's class is waiting for a
// free request
func (s *Scheduler) SetCongested(ioc IOContext) {
	s.starved |= 1 << classOf(ioc)
}

// MayQueue decides whether ioc may allocate another request for dir.
// A queue is never throttled below the queued tunable. Above it, it is
// held back while an equal or higher class starves, or once it holds more
// than its class share of the device's requests.
func (s *Scheduler) MayQueue(ioc IOContext, dir Direction) bool {
	if s.busyQueues == 0 {
		return true
	}

	q := s.findQueue(ioc.Key)
	if q == nil {
		return true
	}

	class := classOf(ioc)
	rw := dir.DataDir()
	if q.queued[rw] < s.tun.Queued || s.cid[class].busyQueues == 0 {
		return true
	}

	if s.starved&^(1<<class-1) != 0 {
		s.denied(class)
		return false
	}

	limit := s.host.NrRequests() * (class + 1) / constants.NumClasses
	limit /= s.cid[class].busyQueues
	if q.queued[rw] > limit {
		s.denied(class)
		return false
	}
	return true
}

func (s *Scheduler) denied(class int) {
	s.logger.Debug("admission denied", "class", class, "starved", s.starved)
	if s.metrics != nil {
		s.metrics.AdmissionDenials.Add(1)
	}
}

// SetRequest attaches scheduler data to a new request. It fails without
// blocking when the metadata pool is exhausted.
func (s *Scheduler) SetRequest(rq *Request) error {
	sr, ok := s.rqPool.Get()
	if !ok {
		return NewClassError("SET_REQUEST", classOf(rq.Ctx), rq.Ctx.Key, ErrCodeInsufficientMemory,
			"request pool exhausted")
	}

	// the submitter now holds a request
	s.starved &^= 1 << classOf(rq.Ctx)

	sr.rq = rq
	rq.ElevatorPrivate = sr
	return nil
}

// PutRequest releases the scheduler data of a finished request
func (s *Scheduler) PutRequest(rq *Request) {
	sr := private(rq)
	if sr == nil {
		return
	}
	invariant(s.lastMerge != rq, "PUT_REQUEST", "request at sector %d is still the last merge hint", rq.Sector)
	invariant(!sr.hashed, "PUT_REQUEST", "request at sector %d is still hashed", rq.Sector)

	rq.ElevatorPrivate = nil
	s.rqPool.Put(sr)
}
