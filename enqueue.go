package cfq

import (
	"fmt"

	"github.com/ehrlich-b/go-cfq/internal/constants"
)

// InsertRequest hands rq to the scheduler. InsertBack and InsertFront put
// it straight on the dispatch list; InsertSort queues it for fair
// selection.
func (s *Scheduler) InsertRequest(rq *Request, where InsertWhere) error {
	switch where {
	case InsertBack:
		rq.QueueList = s.dispatch.PushBack(rq)
	case InsertFront:
		rq.QueueList = s.dispatch.PushFront(rq)
	case InsertSort:
		sr := private(rq)
		if sr == nil {
			return NewClassError("INSERT", classOf(rq.Ctx), rq.Ctx.Key, ErrCodeInvalidParameters,
				"sorted insert of a request without scheduler data")
		}
		s.enqueueNew(sr)
	default:
		s.logger.WithRequest(rq.Sector, rq.Dir.String()).Error("bad insert point", "where", int(where))
		return NewClassError("INSERT", classOf(rq.Ctx), rq.Ctx.Key, ErrCodeInvalidInsert,
			fmt.Sprintf("bad insert point %d", where))
	}
	return nil
}

// enqueueNew queues a request freshly submitted by the block layer, then
// pulls back dispatched work the new request outranks
func (s *Scheduler) enqueueNew(sr *schedRequest) {
	class := classOf(sr.rq.Ctx)
	sr.class = class
	sr.enqueued = true
	sr.nrSectors = sr.rq.NrSectors
	s.enqueue(sr)

	switch {
	case class == constants.ClassRealtime:
		for i := constants.ClassIdle; i < constants.ClassRealtime; i++ {
			s.reenqueue(i)
		}
	case class != constants.ClassIdle:
		s.reenqueue(constants.ClassIdle)
	}
}

func (s *Scheduler) enqueue(sr *schedRequest) {
	q := s.getQueue(sr.rq.Ctx.Key, sr.class)
	if sr.class > q.class {
		s.promote(q, sr.class)
	}

	s.addSorted(q, sr)
	s.activate(q)

	if sr.rq.Mergeable() {
		s.addHash(sr)
		if s.lastMerge == nil {
			s.lastMerge = sr.rq
		}
	}
}

// reenqueue moves requests of class that were dispatched but not yet
// handed to the device back into their queues
func (s *Scheduler) reenqueue(class int) {
	cd := &s.cid[class]
	for e := cd.prio.Front(); e != nil; {
		next := e.Next()
		sr := e.Value.(*schedRequest)
		cd.prio.Remove(e)
		sr.prio = nil
		if sr.rq.QueueList != nil {
			s.dispatch.Remove(sr.rq.QueueList)
			sr.rq.QueueList = nil
		}
		s.enqueue(sr)
		if s.metrics != nil {
			s.metrics.Reenqueued.Add(1)
		}
		e = next
	}
}

// unlinkPrio drops sr from the recently-serviced list it is on
func (s *Scheduler) unlinkPrio(sr *schedRequest) {
	if sr.prio == nil {
		return
	}
	s.cid[sr.prioClass].prio.Remove(sr.prio)
	sr.prio = nil
}

// RemoveRequest takes rq out of the scheduler, typically because the
// device is about to service it. Releasing realtime or normal work starts
// the matching grace period.
func (s *Scheduler) RemoveRequest(rq *Request) {
	sr := private(rq)
	if sr == nil {
		if rq.QueueList != nil {
			s.dispatch.Remove(rq.QueueList)
			rq.QueueList = nil
		}
		return
	}

	s.removeMergeHints(sr)
	s.unlinkPrio(sr)
	if rq.QueueList != nil {
		s.dispatch.Remove(rq.QueueList)
		rq.QueueList = nil
	}

	if sr.enqueued {
		switch {
		case sr.class == constants.ClassRealtime:
			s.armGrace(waitRT, s.tun.graceRT())
		case sr.class != constants.ClassIdle:
			s.armGrace(waitNorm, s.tun.graceIdle())
		}
	}

	if q := sr.queue; q != nil {
		s.delSorted(q, sr)
		if q.sorted.Empty() {
			s.putQueue(q)
		}
	}
}

// QueueEmpty reports whether the scheduler holds no requests at all
func (s *Scheduler) QueueEmpty() bool {
	return s.dispatch.Len() == 0 && s.busyQueues == 0
}

// FormerRequest returns the pending request of the same queue just below rq
func (s *Scheduler) FormerRequest(rq *Request) *Request {
	sr := private(rq)
	if sr == nil || sr.queue == nil {
		return nil
	}
	if _, prev, ok := sr.queue.sorted.Prev(sr.rbKey); ok {
		return prev.rq
	}
	return nil
}

// LatterRequest returns the pending request of the same queue just above rq
func (s *Scheduler) LatterRequest(rq *Request) *Request {
	sr := private(rq)
	if sr == nil || sr.queue == nil {
		return nil
	}
	if _, next, ok := sr.queue.sorted.Next(sr.rbKey); ok {
		return next.rq
	}
	return nil
}
