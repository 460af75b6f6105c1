package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/go-cfq/internal/constants"
	"github.com/ehrlich-b/go-cfq/internal/interfaces"
)

// Runner is the block layer for one device: it owns the device lock,
// turns bios into scheduler requests and executes whatever the elevator
// releases on the backend.
type Runner struct {
	mu sync.Mutex

	elv        interfaces.Elevator
	backend    interfaces.Backend
	observer   interfaces.Observer
	logger     Logger
	nrRequests int
	maxSectors uint64

	// allocated counts requests between SetRequest and PutRequest
	allocated int
	// freed is closed and replaced whenever a request slot frees up
	freed chan struct{}

	kick    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

// ErrStopped is returned to submitters once the runner has been stopped,
// including those still waiting for a request slot
var ErrStopped = errors.New("device is stopped")

type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type Config struct {
	Backend    interfaces.Backend
	Observer   interfaces.Observer
	Logger     Logger
	NrRequests int
	// MaxSectors caps the size a request may grow to through merging
	MaxSectors uint64
}

// NewRunner creates a runner. The elevator is attached with Attach before
// Start, since the elevator itself needs the runner as its host.
func NewRunner(ctx context.Context, config Config) (*Runner, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("runner needs a backend")
	}
	if config.NrRequests <= 0 {
		config.NrRequests = constants.DefaultNrRequests
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		backend:    config.Backend,
		observer:   config.Observer,
		logger:     config.Logger,
		nrRequests: config.NrRequests,
		maxSectors: config.MaxSectors,
		freed:      make(chan struct{}),
		kick:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Attach sets the elevator requests are scheduled through
func (r *Runner) Attach(elv interfaces.Elevator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elv = elv
}

// Lock takes the device lock
func (r *Runner) Lock() {
	r.mu.Lock()
}

// Unlock releases the device lock
func (r *Runner) Unlock() {
	r.mu.Unlock()
}

// NrRequests returns the request budget of the device
func (r *Runner) NrRequests() int {
	return r.nrRequests
}

// RunQueue wakes the I/O loop. Called with the device lock held.
func (r *Runner) RunQueue() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Start begins processing dispatched requests
func (r *Runner) Start() error {
	if r.elv == nil {
		return fmt.Errorf("runner has no elevator attached")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStopped
	}
	if r.started {
		return nil
	}
	r.started = true
	if r.logger != nil {
		r.logger.Printf("starting dispatch runner (nr_requests=%d)", r.nrRequests)
	}
	go r.ioLoop()
	return nil
}

// Stop cancels the I/O loop and waits for the request in progress
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cancel()
	r.wakeWaiters()
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-r.done:
	case <-time.After(constants.RunnerStopTimeout):
		return fmt.Errorf("dispatch runner did not stop within %v", constants.RunnerStopTimeout)
	}
	return nil
}

// Allocated returns the number of requests currently allocated
func (r *Runner) Allocated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocated
}

// Submit queues a bio. It merges it into a pending request when possible,
// otherwise allocates a new request, waiting while the elevator throttles
// the submitter. bio.End is called when the I/O finishes.
func (r *Runner) Submit(ctx context.Context, bio *interfaces.Bio) error {
	if bio.Dir == interfaces.DirRead || bio.Dir == interfaces.DirWrite {
		if bio.NrSectors == 0 {
			return fmt.Errorf("empty %s bio at sector %d", bio.Dir, bio.Sector)
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrStopped
	}

	if r.tryMerge(bio) {
		r.RunQueue()
		r.mu.Unlock()
		return nil
	}

	rq, err := r.getRequestWait(ctx, bio)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	if err := r.elv.InsertRequest(rq, interfaces.InsertSort); err != nil {
		r.freeRequest(rq)
		r.mu.Unlock()
		return err
	}
	r.RunQueue()
	r.mu.Unlock()
	return nil
}

// tryMerge folds bio into a pending request. Called with the lock held.
func (r *Runner) tryMerge(bio *interfaces.Bio) bool {
	res, rq := r.elv.Merge(bio)
	switch res {
	case interfaces.BackMerge:
		if !r.mergeFits(rq, bio.NrSectors) {
			return false
		}
		rq.Absorb(bio, res)
		r.elv.MergedRequest(rq)
		r.attemptMerge(rq, r.elv.LatterRequest(rq))
		return true

	case interfaces.FrontMerge:
		if !r.mergeFits(rq, bio.NrSectors) {
			return false
		}
		rq.Absorb(bio, res)
		r.elv.MergedRequest(rq)
		if prev := r.elv.FormerRequest(rq); prev != nil {
			r.attemptMerge(prev, rq)
		}
		return true
	}
	return false
}

// attemptMerge joins next onto the end of rq when the two became contiguous
func (r *Runner) attemptMerge(rq, next *interfaces.Request) {
	if next == nil || next.Sector != rq.EndSector() || next.Dir != rq.Dir {
		return
	}
	if !rq.Mergeable() || !next.Mergeable() || !r.mergeFits(rq, next.NrSectors) {
		return
	}
	rq.NrSectors += next.NrSectors
	rq.Bios = append(rq.Bios, next.Bios...)
	next.Bios = nil
	r.elv.MergedRequests(rq, next)
	r.freeRequest(next)
}

func (r *Runner) mergeFits(rq *interfaces.Request, add uint64) bool {
	return r.maxSectors == 0 || rq.NrSectors+add <= r.maxSectors
}

// getRequestWait allocates a request for bio, sleeping while the device is
// out of requests or the elevator refuses the submitter. Lock held on entry
// and exit.
func (r *Runner) getRequestWait(ctx context.Context, bio *interfaces.Bio) (*interfaces.Request, error) {
	for {
		if r.allocated < r.nrRequests && r.elv.MayQueue(bio.Ctx, bio.Dir) {
			rq := &interfaces.Request{
				Sector:    bio.Sector,
				NrSectors: bio.NrSectors,
				Dir:       bio.Dir,
				Ctx:       bio.Ctx,
				Bios:      []*interfaces.Bio{bio},
			}
			if err := r.elv.SetRequest(rq); err == nil {
				r.allocated++
				if r.observer != nil {
					r.observer.ObserveQueueDepth(uint32(r.allocated))
				}
				return rq, nil
			} else if r.logger != nil {
				r.logger.Debugf("request allocation failed, waiting: %v", err)
			}
		}

		r.elv.SetCongested(bio.Ctx)
		wait := r.freed
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			r.mu.Lock()
			return nil, ctx.Err()
		case <-wait:
		}
		r.mu.Lock()
		if r.closed {
			return nil, ErrStopped
		}
	}
}

// freeRequest releases a request slot. Lock held.
func (r *Runner) freeRequest(rq *interfaces.Request) {
	r.elv.PutRequest(rq)
	r.allocated--
	r.wakeWaiters()
}

func (r *Runner) wakeWaiters() {
	close(r.freed)
	r.freed = make(chan struct{})
}

// ioLoop is the main request processing loop
func (r *Runner) ioLoop() {
	defer close(r.done)
	if r.logger != nil {
		r.logger.Debugf("dispatch runner: I/O loop ready")
	}

	for {
		select {
		case <-r.ctx.Done():
			if r.logger != nil {
				r.logger.Debugf("dispatch runner: I/O loop stopping")
			}
			return
		case <-r.kick:
			r.drain()
		}
	}
}

// drain executes requests until the elevator has nothing to release
func (r *Runner) drain() {
	for {
		if r.ctx.Err() != nil {
			return
		}

		r.mu.Lock()
		rq := r.elv.NextRequest()
		if rq == nil {
			r.mu.Unlock()
			return
		}
		r.elv.RemoveRequest(rq)
		r.mu.Unlock()

		err := r.handleIORequest(rq)
		for _, bio := range rq.Bios {
			if bio.End != nil {
				bio.End(err)
			}
		}

		r.mu.Lock()
		r.freeRequest(rq)
		r.mu.Unlock()
	}
}

// handleIORequest executes one request on the backend
func (r *Runner) handleIORequest(rq *interfaces.Request) error {
	offset := int64(rq.Sector) << constants.SectorShift
	length := rq.NrSectors << constants.SectorShift
	start := time.Now()

	if r.logger != nil {
		r.logger.Debugf("%s %d sectors @ sector %d (%d bios)", rq.Dir, rq.NrSectors, rq.Sector, len(rq.Bios))
	}

	var err error
	switch rq.Dir {
	case interfaces.DirRead:
		buf := GetBuffer(uint32(length))
		_, err = r.backend.ReadAt(buf, offset)
		if err == nil {
			scatter(buf, rq)
		}
		PutBuffer(buf)
	case interfaces.DirWrite:
		buf := GetBuffer(uint32(length))
		gather(buf, rq)
		_, err = r.backend.WriteAt(buf, offset)
		PutBuffer(buf)
	case interfaces.DirFlush:
		err = r.backend.Flush()
	case interfaces.DirDiscard:
		if db, ok := r.backend.(interfaces.DiscardBackend); ok {
			err = db.Discard(offset, int64(length))
		}
	default:
		err = fmt.Errorf("unsupported operation: %d", rq.Dir)
	}

	if err != nil && r.logger != nil {
		r.logger.Printf("I/O error at sector %d: %v", rq.Sector, err)
	}
	r.observe(rq, length, uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

func (r *Runner) observe(rq *interfaces.Request, bytes, latencyNs uint64, success bool) {
	if r.observer == nil {
		return
	}
	r.observer.ObserveCompletion(rq.Dir, rq.Ctx.Class, bytes, latencyNs, success)
}

// scatter copies a read payload back into the bios it was built from
func scatter(buf []byte, rq *interfaces.Request) {
	for _, bio := range rq.Bios {
		if bio.Data == nil {
			continue
		}
		off := int64(bio.Sector-rq.Sector) << constants.SectorShift
		if off < 0 || off >= int64(len(buf)) {
			continue
		}
		copy(bio.Data, buf[off:])
	}
}

// gather assembles a write payload from the bios of a request
func gather(buf []byte, rq *interfaces.Request) {
	clear(buf)
	for _, bio := range rq.Bios {
		off := int64(bio.Sector-rq.Sector) << constants.SectorShift
		if off < 0 || off >= int64(len(buf)) {
			continue
		}
		copy(buf[off:], bio.Data)
	}
}
