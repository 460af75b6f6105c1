package cfq

import (
	"github.com/ehrlich-b/go-cfq/internal/hashtab"
)

func (s *Scheduler) findQueue(key int64) *procQueue {
	var found *procQueue
	s.queueHash.Scan(uint64(key), func(q *procQueue) hashtab.Visit {
		if q.key == key {
			found = q
			return hashtab.Stop
		}
		return hashtab.Continue
	})
	return found
}

// getQueue returns the queue of key, creating it at class when missing
func (s *Scheduler) getQueue(key int64, class int) *procQueue {
	if q := s.findQueue(key); q != nil {
		return q
	}
	q, ok := s.queuePool.Get()
	invariant(ok, "GET_QUEUE", "queue pool exhausted")
	q.key = key
	q.class = class
	s.queueHash.Add(uint64(key), q)
	return q
}

// putQueue detaches an empty queue from its class and frees it
func (s *Scheduler) putQueue(q *procQueue) {
	invariant(q.sorted.Empty(), "PUT_QUEUE", "queue %d released with %d requests", q.key, q.sorted.Len())
	cd := &s.cid[q.class]

	s.busyQueues--
	cd.busyQueues--
	invariant(s.busyQueues >= 0 && cd.busyQueues >= 0, "PUT_QUEUE",
		"busy queues went negative (total %d, class %d: %d)", s.busyQueues, q.class, cd.busyQueues)
	cd.stats.QueuesOut++

	if q.rr != nil {
		cd.rr.Remove(q.rr)
		q.rr = nil
	}
	s.queueHash.Remove(uint64(q.key), q)
	s.queuePool.Put(q)
}

// activate links a queue that just got its first request into the
// round-robin list of its class
func (s *Scheduler) activate(q *procQueue) {
	if q.rr != nil {
		return
	}
	cd := &s.cid[q.class]
	q.rr = cd.rr.PushBack(q)
	cd.busyQueues++
	cd.stats.QueuesIn++
	s.busyQueues++
}

// promote moves a busy queue to a higher class
func (s *Scheduler) promote(q *procQueue, class int) {
	s.logger.WithQueue(q.key).ClassPromoted(q.class, class)
	if q.rr != nil {
		from := &s.cid[q.class]
		from.rr.Remove(q.rr)
		from.busyQueues--
		invariant(from.busyQueues >= 0, "PROMOTE", "class %d busy queues went negative", q.class)
		from.stats.QueuesOut++

		to := &s.cid[class]
		q.rr = to.rr.PushBack(q)
		to.busyQueues++
		to.stats.QueuesIn++
	}
	q.class = class
}

// addSorted inserts sr into the sort tree of q and charges the busy
// counters. An older request at the same offset goes straight to the
// dispatch list.
func (s *Scheduler) addSorted(q *procQueue, sr *schedRequest) {
	rq := sr.rq
	q.queued[rq.Dir.DataDir()]++
	if accounted(sr.class) {
		cd := &s.cid[sr.class]
		s.busyRq++
		s.busySectors += int64(sr.nrSectors)
		cd.busyRq++
		cd.busySectors += int64(sr.nrSectors)
		cd.stats.RqIn++
		cd.stats.SectorsIn += sr.nrSectors
	}

	for {
		alias, ok := q.sorted.Insert(rq.Sector, sr)
		if ok {
			break
		}
		s.delSorted(q, alias)
		s.removeMergeHints(alias)
		s.dispatchSort(alias.rq)
		if s.metrics != nil {
			s.metrics.Aliases.Add(1)
		}
	}
	sr.rbKey = rq.Sector
	sr.queue = q
}

// delSorted takes sr out of its sort tree and discharges the counters
func (s *Scheduler) delSorted(q *procQueue, sr *schedRequest) {
	if sr.queue == nil {
		return
	}
	sr.queue = nil

	if accounted(sr.class) {
		cd := &s.cid[sr.class]
		s.busyRq--
		s.busySectors -= int64(sr.nrSectors)
		cd.busyRq--
		cd.busySectors -= int64(sr.nrSectors)
		cd.stats.RqOut++
		cd.stats.SectorsOut += sr.nrSectors
		invariant(s.busyRq >= 0 && s.busySectors >= 0 && cd.busyRq >= 0 && cd.busySectors >= 0,
			"DEL_SORTED", "busy counters went negative (rq %d/%d, sectors %d/%d)",
			s.busyRq, cd.busyRq, s.busySectors, cd.busySectors)
	}

	q.queued[sr.rq.Dir.DataDir()]--
	q.sorted.Delete(sr.rbKey)
}
