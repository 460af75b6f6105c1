package cfq

import (
	"container/list"
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ehrlich-b/go-cfq/internal/constants"
	"github.com/ehrlich-b/go-cfq/internal/hashtab"
	"github.com/ehrlich-b/go-cfq/internal/logging"
	"github.com/ehrlich-b/go-cfq/internal/queue"
	"github.com/ehrlich-b/go-cfq/internal/sorted"
)

// Grace-period flags
const (
	waitRT uint8 = 1 << iota
	waitNorm
)

// schedRequest is the scheduler's private state for one request
type schedRequest struct {
	rq    *Request
	class int

	// enqueued is set once the request went through sorted insertion
	enqueued bool

	// queue is set while the request sits in a per-process sort tree
	queue *procQueue
	rbKey uint64

	// nrSectors is the length the busy counters were charged with
	nrSectors uint64

	hashed  bool
	hashKey uint64

	// prio links the request into a class's recently-serviced list
	prio      *list.Element
	prioClass int
}

// procQueue holds the pending requests of one fairness key
type procQueue struct {
	key    int64
	class  int
	sorted sorted.Tree[*schedRequest]
	queued [2]int

	// rr is the queue's element in its class round-robin list
	rr *list.Element
}

// classData is the ledger of one fairness class
type classData struct {
	rr          list.List
	busyQueues  int
	busyRq      int
	busySectors int64

	prio        list.List
	lastRq      int
	lastSectors int

	stats ClassStats
}

// Options configures a Scheduler
type Options struct {
	// Clock drives the grace-period timer. Defaults to the wall clock.
	Clock clock.Clock

	// Logger for scheduler events. Defaults to the package logger.
	Logger *Logger

	// Metrics receives scheduling counters. Optional.
	Metrics *Metrics

	// Tunables overrides the default tunables. Values are clamped.
	Tunables *Tunables

	// RequestPoolSize bounds the per-request metadata pool
	RequestPoolSize int
}

// Scheduler is a Complete Fairness Queueing request scheduler. It
// implements Elevator.
//
// None of the Elevator methods lock: the host's lock must be held around
// every call. Show, Store, ClassStats, Snapshot and Close take the lock
// themselves and must be called without it.
type Scheduler struct {
	host     Host
	clock    clock.Clock
	logger   *logging.Logger
	classLog [constants.NumClasses]*logging.Logger
	metrics  *Metrics

	cid         [constants.NumClasses]classData
	busyRq      int
	busyQueues  int
	busySectors int64
	starved     uint32

	dispatch  list.List
	queueHash *hashtab.Table[*procQueue]
	mergeHash *hashtab.Table[*schedRequest]
	lastMerge *Request

	rqPool    *queue.Pool[schedRequest]
	queuePool *queue.Pool[procQueue]

	flags   uint8
	waitEnd [2]time.Time
	timer   *clock.Timer
	work    *queue.Worker

	tun    Tunables
	closed bool
}

var _ Elevator = (*Scheduler)(nil)

// New creates a scheduler attached to host
func New(host Host, opts *Options) (*Scheduler, error) {
	if host == nil {
		return nil, NewError("INIT", ErrCodeInvalidParameters, "scheduler needs a host")
	}
	if opts == nil {
		opts = &Options{}
	}
	if opts.RequestPoolSize < 0 {
		return nil, NewError("INIT", ErrCodeInvalidParameters, "negative request pool size")
	}

	s := &Scheduler{
		host:    host,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tun:     DefaultTunables(),
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if opts.Tunables != nil {
		s.tun = *opts.Tunables
		s.tun.clamp()
	}

	for i := range s.cid {
		s.cid[i].lastRq = -1
		s.cid[i].lastSectors = -1
		s.classLog[i] = s.logger.WithClass(i)
	}

	s.allocate(opts.RequestPoolSize)

	s.work = queue.NewWorker(context.Background(), s.runWork)
	s.logger.Info("cfq scheduler initialised",
		"quantum", s.tun.Quantum, "quantum_io", s.tun.QuantumIO,
		"nr_requests", host.NrRequests())
	return s, nil
}

func (s *Scheduler) allocate(poolSize int) {
	if poolSize == 0 {
		poolSize = constants.DefaultRequestPoolSize
	}
	s.mergeHash = hashtab.New[*schedRequest](constants.MergeHashShift)
	s.queueHash = hashtab.New[*procQueue](constants.QueueHashShift)
	s.rqPool = queue.NewPool[schedRequest](poolSize)
	s.queuePool = queue.NewPool[procQueue](0)
}

func (s *Scheduler) release() {
	s.mergeHash = nil
	s.queueHash = nil
	s.rqPool = nil
	s.queuePool = nil
}

// Close stops the grace timer and the deferred work and drops the
// scheduler's tables. Requests still queued are not drained.
func (s *Scheduler) Close() error {
	s.host.Lock()
	if s.closed {
		s.host.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.host.Unlock()

	// the work function takes the host lock, so stop it unlocked
	s.work.Stop()

	s.host.Lock()
	s.release()
	s.host.Unlock()
	s.logger.Info("cfq scheduler closed")
	return nil
}

// classOf maps an I/O context onto a valid fairness class
func classOf(ioc IOContext) int {
	switch {
	case ioc.Class < constants.ClassIdle:
		return constants.ClassIdle
	case ioc.Class > constants.ClassRealtime:
		return constants.ClassRealtime
	}
	return ioc.Class
}

// accounted reports whether a request class takes part in busy accounting
func accounted(class int) bool {
	return class != constants.ClassIdle && class != constants.ClassRealtime
}

func private(rq *Request) *schedRequest {
	if rq == nil {
		return nil
	}
	sr, _ := rq.ElevatorPrivate.(*schedRequest)
	return sr
}
