package cfq

import (
	"github.com/ehrlich-b/go-cfq/internal/constants"
)

// NextRequest returns the request the device should service next, or
// nil. The request stays at the head of the dispatch list until the
// block layer takes it with RemoveRequest.
func (s *Scheduler) NextRequest() *Request {
	if s.dispatch.Len() == 0 && !s.selectRequests() {
		return nil
	}

	// servicing a request ends any grace period
	s.cancelGrace()

	head := s.dispatch.Front()
	invariant(head != nil, "NEXT_REQUEST", "dispatch list empty after selection")
	rq := head.Value.(*Request)
	invariant(s.lastMerge != rq, "NEXT_REQUEST", "dispatch head at sector %d is the last merge hint", rq.Sector)
	if sr := private(rq); sr != nil {
		invariant(!sr.hashed, "NEXT_REQUEST", "dispatch head at sector %d still hashed", rq.Sector)
		s.unlinkPrio(sr)
	}
	return rq
}

// selectRequests moves work from the class queues to the dispatch list
// and reports whether anything moved
func (s *Scheduler) selectRequests() bool {
	// realtime io is served exclusively while there is any
	if s.dispatchClass(constants.ClassRealtime, s.tun.Quantum, s.tun.QuantumIO) > 0 {
		return true
	}

	if s.holdOff(waitRT) {
		return false
	}

	queued := 0
	busyRq := s.busyRq
	busySectors := int(s.busySectors)
	for i := constants.ClassRealtime - 1; i > constants.ClassIdle; i-- {
		// a promoted queue may hold only unaccounted idle requests, so
		// stop on queues rather than on busyRq
		if s.busyQueues == s.cid[constants.ClassIdle].busyQueues {
			break
		}
		maxRq, maxSectors := s.classQuota(i, busyRq, busySectors)
		queued += s.dispatchClass(i, maxRq, maxSectors)
	}
	if queued > 0 {
		return true
	}

	// idle io only runs once normal io has been quiet for a grace period
	if s.holdOff(waitNorm) {
		return false
	}

	return s.dispatchClass(constants.ClassIdle, s.tun.IdleQuantum, s.tun.IdleQuantumIO) > 0
}

// classQuota computes how many requests and sectors class i may move to
// the dispatch list this cycle. busyRq and busySectors are the totals at
// the start of the cycle.
func (s *Scheduler) classQuota(i, busyRq, busySectors int) (int, int) {
	cd := &s.cid[i]
	otherRq := busyRq - cd.busyRq
	otherSectors := busySectors - int(cd.busySectors)

	qRq := s.tun.Quantum * (i + 1) / constants.NumClasses
	qIO := s.tun.QuantumIO * (i + 1) / constants.NumClasses

	if otherRq != 0 {
		qRq = otherSectors * (i + 1) / constants.NumClasses
	}
	if qRq > s.tun.Quantum {
		qRq = s.tun.Quantum
	}

	if otherSectors != 0 {
		qIO = otherSectors * (i + 1) / constants.NumClasses
	}
	if qIO > s.tun.QuantumIO {
		qIO = s.tun.QuantumIO
	}

	// smooth with what the class got last time
	if cd.lastRq != -1 {
		qRq = (cd.lastRq + qRq) / 2
	}
	if cd.lastSectors != -1 {
		qIO = (cd.lastSectors + qIO) / 2
	}

	return max(qRq, 0), max(qIO, 0)
}

// dispatchClass round-robins over the queues of a class, moving each
// queue's lowest-offset request to the dispatch list, until the class is
// drained or a quota is reached. Serviced queues end up at the back of
// the round-robin list. A busy class always yields at least one request.
//
// The walk wraps around the list rather than visiting each queue once:
// with a single queue per class, one pass would move one request per
// class per cycle whatever the quota, and classes would no longer get
// shares in proportion to their priority.
func (s *Scheduler) dispatchClass(class, maxRq, maxSectors int) int {
	cd := &s.cid[class]
	nrRq, nrSectors := 0, 0

	for e := cd.rr.Front(); e != nil; e = cd.rr.Front() {
		q := e.Value.(*procQueue)
		invariant(!q.sorted.Empty(), "DISPATCH", "empty queue %d on class %d round-robin list", q.key, class)

		nrSectors += s.dispatchOne(q)
		nrRq++

		if q.sorted.Empty() {
			s.putQueue(q)
		} else {
			cd.rr.MoveToBack(e)
		}

		if nrRq >= maxRq || nrSectors >= maxSectors {
			break
		}
	}

	cd.lastRq = nrRq
	cd.lastSectors = nrSectors
	if nrRq > 0 {
		s.classLog[class].Dispatched(nrRq, nrSectors)
		if s.metrics != nil {
			s.metrics.RecordDispatch(class, uint64(nrRq), uint64(nrSectors))
		}
	}
	return nrRq
}

// dispatchOne moves the lowest-offset request of q to the dispatch list
// and returns its length
func (s *Scheduler) dispatchOne(q *procQueue) int {
	_, sr, _ := q.sorted.Min()

	s.delSorted(q, sr)
	s.removeMergeHints(sr)
	s.dispatchSort(sr.rq)

	sr.prioClass = q.class
	sr.prio = s.cid[q.class].prio.PushBack(sr)
	return int(sr.nrSectors)
}

// dispatchSort links rq into the dispatch list in ascending sector order
func (s *Scheduler) dispatchSort(rq *Request) {
	if head := s.dispatch.Front(); head != nil && rq.Sector < head.Value.(*Request).Sector {
		rq.QueueList = s.dispatch.PushFront(rq)
		return
	}

	for e := s.dispatch.Back(); e != nil; e = e.Prev() {
		if e.Value.(*Request).Sector <= rq.Sector {
			rq.QueueList = s.dispatch.InsertAfter(rq, e)
			return
		}
	}
	rq.QueueList = s.dispatch.PushFront(rq)
}
