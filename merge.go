package cfq

import (
	"github.com/ehrlich-b/go-cfq/internal/constants"
	"github.com/ehrlich-b/go-cfq/internal/hashtab"
)

// mergeKey buckets an end sector into the merge index
func mergeKey(end uint64) uint64 {
	return end >> constants.MergeHashBlockShift
}

func (s *Scheduler) addHash(sr *schedRequest) {
	invariant(!sr.hashed, "ADD_HASH", "request at sector %d already hashed", sr.rq.Sector)
	sr.hashKey = mergeKey(sr.rq.EndSector())
	sr.hashed = true
	s.mergeHash.Add(sr.hashKey, sr)
}

func (s *Scheduler) delHash(sr *schedRequest) {
	if !sr.hashed {
		return
	}
	s.mergeHash.Remove(sr.hashKey, sr)
	sr.hashed = false
}

// removeMergeHints makes sr unreachable for future merges
func (s *Scheduler) removeMergeHints(sr *schedRequest) {
	s.delHash(sr)
	if s.lastMerge == sr.rq {
		s.lastMerge = nil
	}
}

// findHash returns the request ending at offset. Requests that stopped
// being mergeable are pruned from the index on the way.
func (s *Scheduler) findHash(offset uint64) *Request {
	var found *Request
	s.mergeHash.Scan(mergeKey(offset), func(sr *schedRequest) hashtab.Visit {
		if !sr.rq.Mergeable() {
			sr.hashed = false
			return hashtab.Drop
		}
		if sr.rq.EndSector() == offset {
			found = sr.rq
			return hashtab.Stop
		}
		return hashtab.Continue
	})
	return found
}

// findSorted returns the submitter's pending request starting at sector
func (s *Scheduler) findSorted(key int64, sector uint64) *Request {
	q := s.findQueue(key)
	if q == nil {
		return nil
	}
	if sr, ok := q.sorted.Get(sector); ok {
		return sr.rq
	}
	return nil
}

func bioMergeable(bio *Bio) bool {
	return (bio.Dir == DirRead || bio.Dir == DirWrite) && bio.NrSectors > 0
}

// mergeOK reports whether bio may be folded into rq at all
func mergeOK(rq *Request, bio *Bio) bool {
	return rq.Mergeable() && rq.Dir == bio.Dir && private(rq) != nil
}

// tryLastMerge checks the one-entry merge cache
func (s *Scheduler) tryLastMerge(bio *Bio) MergeResult {
	rq := s.lastMerge
	if rq == nil || !mergeOK(rq, bio) {
		return NoMerge
	}
	switch {
	case rq.EndSector() == bio.Sector:
		return BackMerge
	case rq.Sector == bio.EndSector():
		return FrontMerge
	}
	return NoMerge
}

// Merge looks for a queued request bio can be merged into. A back merge
// means bio continues the request, a front merge means it precedes it.
func (s *Scheduler) Merge(bio *Bio) (MergeResult, *Request) {
	if !bioMergeable(bio) {
		return NoMerge, nil
	}

	if res := s.tryLastMerge(bio); res != NoMerge {
		s.noteMerge(res)
		return res, s.lastMerge
	}

	if rq := s.findHash(bio.Sector); rq != nil {
		invariant(rq.EndSector() == bio.Sector, "MERGE",
			"merge index returned [%d,%d) for bio at %d", rq.Sector, rq.EndSector(), bio.Sector)
		if mergeOK(rq, bio) {
			s.lastMerge = rq
			s.noteMerge(BackMerge)
			return BackMerge, rq
		}
	}

	if rq := s.findSorted(bio.Ctx.Key, bio.EndSector()); rq != nil && mergeOK(rq, bio) {
		s.lastMerge = rq
		s.noteMerge(FrontMerge)
		return FrontMerge, rq
	}

	return NoMerge, nil
}

func (s *Scheduler) noteMerge(res MergeResult) {
	if s.metrics == nil {
		return
	}
	if res == BackMerge {
		s.metrics.BackMerges.Add(1)
	} else {
		s.metrics.FrontMerges.Add(1)
	}
}

// MergedRequest refreshes the scheduler's view of rq after the block
// layer grew it: merge index, sort position and busy sectors.
func (s *Scheduler) MergedRequest(rq *Request) {
	sr := private(rq)
	if sr == nil {
		return
	}

	s.delHash(sr)
	if rq.Mergeable() {
		s.addHash(sr)
	}

	if q := sr.queue; q != nil && rq.Sector != sr.rbKey {
		s.delSorted(q, sr)
		s.addSorted(q, sr)
	}

	if sr.queue != nil && accounted(sr.class) {
		delta := int64(rq.NrSectors) - int64(sr.nrSectors)
		s.busySectors += delta
		s.cid[sr.class].busySectors += delta
		invariant(s.busySectors >= 0, "MERGED", "busy sectors went negative (%d)", s.busySectors)
	}
	sr.nrSectors = rq.NrSectors

	s.lastMerge = rq
}

// MergedRequests is called after next was merged into rq; next leaves
// the scheduler.
func (s *Scheduler) MergedRequests(rq, next *Request) {
	s.MergedRequest(rq)
	s.RemoveRequest(next)
}

// MergeBio applies a merge result to rq's range and bio list. The caller
// must follow it with MergedRequest.
func MergeBio(rq *Request, bio *Bio, res MergeResult) {
	rq.Absorb(bio, res)
}
