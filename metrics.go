package cfq

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-cfq/internal/constants"
)

const numDirections = int(DirDiscard) + 1

// ioCounters counts the completions of one direction
type ioCounters struct {
	ops    atomic.Uint64
	bytes  atomic.Uint64
	errors atomic.Uint64
}

// latencyCounters tracks completion latency of one class
type latencyCounters struct {
	count   atomic.Uint64
	totalNs atomic.Uint64
	maxNs   atomic.Uint64
}

// Metrics tracks request completions of a device and the decisions of
// its scheduler. The scheduler counters are updated under the device
// lock, the completion counters from the dispatch runner.
type Metrics struct {
	io      [numDirections]ioCounters
	latency [constants.NumClasses]latencyCounters

	depthTotal    atomic.Uint64
	depthSamples  atomic.Uint64
	maxQueueDepth atomic.Uint32

	DispatchedRq      [constants.NumClasses]atomic.Uint64 // Requests moved to the dispatch list, per class
	DispatchedSectors [constants.NumClasses]atomic.Uint64 // Sectors moved to the dispatch list, per class
	BackMerges        atomic.Uint64                       // Bios appended to a queued request
	FrontMerges       atomic.Uint64                       // Bios prepended to a queued request
	Reenqueued        atomic.Uint64                       // Dispatched requests pulled back by higher-class work
	Aliases           atomic.Uint64                       // Same-offset requests sent straight to dispatch
	GraceWaits        atomic.Uint64                       // Selections held off by a grace period
	TimerFires        atomic.Uint64                       // Grace timer expirations
	AdmissionDenials  atomic.Uint64                       // MayQueue refusals

	start atomic.Int64
	stop  atomic.Int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.start.Store(time.Now().UnixNano())
	return m
}

// RecordCompletion records a finished request. Only successful requests
// count bytes; the latency is charged to the submitter's class.
func (m *Metrics) RecordCompletion(dir Direction, class int, bytes, latencyNs uint64, success bool) {
	if dir < 0 || int(dir) >= numDirections {
		return
	}
	io := &m.io[dir]
	io.ops.Add(1)
	if success {
		io.bytes.Add(bytes)
	} else {
		io.errors.Add(1)
	}

	lat := &m.latency[min(max(class, constants.ClassIdle), constants.ClassRealtime)]
	lat.count.Add(1)
	lat.totalNs.Add(latencyNs)
	storeMax(&lat.maxNs, latencyNs)
}

// RecordQueueDepth samples the number of allocated requests
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.depthTotal.Add(uint64(depth))
	m.depthSamples.Add(1)
	for {
		cur := m.maxQueueDepth.Load()
		if depth <= cur || m.maxQueueDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

func storeMax(v *atomic.Uint64, n uint64) {
	for {
		cur := v.Load()
		if n <= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}

// RecordDispatch records a batch a class moved to the dispatch list
func (m *Metrics) RecordDispatch(class int, requests, sectors uint64) {
	if class < 0 || class >= constants.NumClasses {
		return
	}
	m.DispatchedRq[class].Add(requests)
	m.DispatchedSectors[class].Add(sectors)
}

// Stop freezes the uptime
func (m *Metrics) Stop() {
	m.stop.CompareAndSwap(0, time.Now().UnixNano())
}

// IOSnapshot is the completion count of one direction
type IOSnapshot struct {
	Ops    uint64
	Bytes  uint64
	Errors uint64
}

// LatencySnapshot is the completion latency of one class
type LatencySnapshot struct {
	Count uint64
	Total time.Duration
	Avg   time.Duration
	Max   time.Duration
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	IO       [numDirections]IOSnapshot // indexed by Direction
	Latency  [constants.NumClasses]LatencySnapshot
	TotalOps uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	DispatchedRq      [constants.NumClasses]uint64
	DispatchedSectors [constants.NumClasses]uint64
	BackMerges        uint64
	FrontMerges       uint64
	Reenqueued        uint64
	Aliases           uint64
	GraceWaits        uint64
	TimerFires        uint64
	AdmissionDenials  uint64

	Uptime time.Duration
}

// Snapshot copies the counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		MaxQueueDepth:    m.maxQueueDepth.Load(),
		BackMerges:       m.BackMerges.Load(),
		FrontMerges:      m.FrontMerges.Load(),
		Reenqueued:       m.Reenqueued.Load(),
		Aliases:          m.Aliases.Load(),
		GraceWaits:       m.GraceWaits.Load(),
		TimerFires:       m.TimerFires.Load(),
		AdmissionDenials: m.AdmissionDenials.Load(),
	}

	for i := range m.io {
		snap.IO[i] = IOSnapshot{
			Ops:    m.io[i].ops.Load(),
			Bytes:  m.io[i].bytes.Load(),
			Errors: m.io[i].errors.Load(),
		}
		snap.TotalOps += snap.IO[i].Ops
	}
	for i := range m.latency {
		lat := &m.latency[i]
		ls := LatencySnapshot{
			Count: lat.count.Load(),
			Total: time.Duration(lat.totalNs.Load()),
			Max:   time.Duration(lat.maxNs.Load()),
		}
		if ls.Count > 0 {
			ls.Avg = ls.Total / time.Duration(ls.Count)
		}
		snap.Latency[i] = ls
		snap.DispatchedRq[i] = m.DispatchedRq[i].Load()
		snap.DispatchedSectors[i] = m.DispatchedSectors[i].Load()
	}

	if n := m.depthSamples.Load(); n > 0 {
		snap.AvgQueueDepth = float64(m.depthTotal.Load()) / float64(n)
	}

	end := m.stop.Load()
	if end == 0 {
		end = time.Now().UnixNano()
	}
	snap.Uptime = time.Duration(end - m.start.Load())
	return snap
}

// MetricsObserver feeds runner events into a Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCompletion(dir Direction, class int, bytes, latencyNs uint64, success bool) {
	o.metrics.RecordCompletion(dir, class, bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

var _ Observer = (*MetricsObserver)(nil)
