package cfq

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ehrlich-b/go-cfq/internal/constants"
)

// ClassStats are the cumulative counters of one fairness class. Requests
// moved back from the dispatch list are counted again on re-entry.
type ClassStats struct {
	RqIn       uint64
	RqOut      uint64
	SectorsIn  uint64
	SectorsOut uint64
	QueuesIn   uint64
	QueuesOut  uint64
}

func (c ClassStats) String() string {
	return fmt.Sprintf("rq (%d,%d) sec (%d,%d) q (%d,%d)\n",
		c.RqIn, c.RqOut, c.SectorsIn, c.SectorsOut, c.QueuesIn, c.QueuesOut)
}

func parseClassAttr(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, "p")
	if !ok || digits == "" {
		return 0, false
	}
	class, err := strconv.Atoi(digits)
	if err != nil || class < constants.ClassIdle || class > constants.ClassRealtime {
		return 0, false
	}
	return class, true
}

// ClassSnapshot is the live state of one fairness class
type ClassSnapshot struct {
	Class       int
	BusyQueues  int
	BusyRq      int
	BusySectors int64
	Stats       ClassStats
}

// Snapshot is a consistent view of the scheduler's ledger
type Snapshot struct {
	BusyQueues  int
	BusyRq      int
	BusySectors int64
	Dispatch    int
	Classes     [constants.NumClasses]ClassSnapshot
}

// Snapshot copies the ledger under the host lock
func (s *Scheduler) Snapshot() Snapshot {
	s.host.Lock()
	defer s.host.Unlock()
	return s.snapshot()
}

func (s *Scheduler) snapshot() Snapshot {
	snap := Snapshot{
		BusyQueues:  s.busyQueues,
		BusyRq:      s.busyRq,
		BusySectors: s.busySectors,
		Dispatch:    s.dispatch.Len(),
	}
	for i := range s.cid {
		cd := &s.cid[i]
		snap.Classes[i] = ClassSnapshot{
			Class:       i,
			BusyQueues:  cd.busyQueues,
			BusyRq:      cd.busyRq,
			BusySectors: cd.busySectors,
			Stats:       cd.stats,
		}
	}
	return snap
}

// ClassStats returns the cumulative counters of class
func (s *Scheduler) ClassStats(class int) (ClassStats, error) {
	if class < constants.ClassIdle || class > constants.ClassRealtime {
		return ClassStats{}, NewError("CLASS_STATS", ErrCodeInvalidParameters, fmt.Sprintf("class %d out of range", class))
	}
	s.host.Lock()
	defer s.host.Unlock()
	return s.cid[class].stats, nil
}
