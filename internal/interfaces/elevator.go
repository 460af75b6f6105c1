package interfaces

import (
	"container/list"
	"sync"
)

// Direction is the kind of I/O a request performs
type Direction int

const (
	DirRead Direction = iota
	DirWrite
	DirFlush
	DirDiscard
)

func (d Direction) String() string {
	switch d {
	case DirRead:
		return "READ"
	case DirWrite:
		return "WRITE"
	case DirFlush:
		return "FLUSH"
	case DirDiscard:
		return "DISCARD"
	default:
		return "UNKNOWN"
	}
}

// DataDir folds a direction into the read/write pair used for per-queue
// accounting. Everything that is not a read counts as a write.
func (d Direction) DataDir() int {
	if d == DirRead {
		return 0
	}
	return 1
}

// IOContext identifies the submitter of an I/O: the fairness key groups
// its requests into one per-process queue and the class decides its share.
type IOContext struct {
	Key   int64
	Class int
}

// Bio is one contiguous I/O range handed to the block layer.
type Bio struct {
	Sector    uint64
	NrSectors uint64
	Dir       Direction
	Ctx       IOContext

	// Data holds NrSectors*512 bytes for reads and writes
	Data []byte

	// End is called once with the outcome of the bio
	End func(err error)
}

// EndSector returns the first sector after the bio
func (b *Bio) EndSector() uint64 {
	return b.Sector + b.NrSectors
}

// Request is one tracked I/O operation, possibly built from several
// merged bios. It is owned by the block layer.
type Request struct {
	Sector    uint64
	NrSectors uint64
	Dir       Direction
	Ctx       IOContext

	// NoMerge excludes the request from merging (flushes, discards, requeues)
	NoMerge bool

	// Bios are the merged ranges in ascending sector order
	Bios []*Bio

	// ElevatorPrivate carries scheduler metadata between SetRequest and PutRequest
	ElevatorPrivate any

	// QueueList links the request into the dispatch list. Owned by the elevator.
	QueueList *list.Element
}

// EndSector returns the first sector after the request
func (r *Request) EndSector() uint64 {
	return r.Sector + r.NrSectors
}

// Mergeable reports whether other I/O may be merged into the request
func (r *Request) Mergeable() bool {
	return !r.NoMerge && (r.Dir == DirRead || r.Dir == DirWrite)
}

// MergeResult is the outcome of a merge probe
type MergeResult int

const (
	NoMerge MergeResult = iota
	FrontMerge
	BackMerge
)

func (m MergeResult) String() string {
	switch m {
	case FrontMerge:
		return "front"
	case BackMerge:
		return "back"
	default:
		return "none"
	}
}

// Absorb grows r by bio according to a merge result
func (r *Request) Absorb(bio *Bio, res MergeResult) {
	switch res {
	case BackMerge:
		r.NrSectors += bio.NrSectors
		r.Bios = append(r.Bios, bio)
	case FrontMerge:
		r.Sector = bio.Sector
		r.NrSectors += bio.NrSectors
		r.Bios = append([]*Bio{bio}, r.Bios...)
	}
}

// InsertWhere tells the elevator where a request goes
type InsertWhere int

const (
	InsertBack InsertWhere = iota
	InsertFront
	InsertSort
)

// Elevator is the operation set the block layer drives a request
// scheduler through. All methods are called with the host lock held.
type Elevator interface {
	Merge(bio *Bio) (MergeResult, *Request)
	MergedRequest(rq *Request)
	MergedRequests(rq, next *Request)
	InsertRequest(rq *Request, where InsertWhere) error
	RemoveRequest(rq *Request)
	NextRequest() *Request
	QueueEmpty() bool
	FormerRequest(rq *Request) *Request
	LatterRequest(rq *Request) *Request
	SetCongested(ioc IOContext)
	MayQueue(ioc IOContext, dir Direction) bool
	SetRequest(rq *Request) error
	PutRequest(rq *Request)
	Close() error
}

// Host is the block layer side an elevator calls back into. The lock is
// the single per-device lock every elevator entry point runs under.
type Host interface {
	sync.Locker

	// RunQueue asks the host to pull work from the elevator. It is called
	// with the lock held and must not block on the lock itself.
	RunQueue()

	// NrRequests is the number of requests the host may have allocated
	NrRequests() int
}
