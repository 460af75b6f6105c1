package cfq

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-cfq/internal/logging"
)

// testHost is the block layer side of a scheduler under test
type testHost struct {
	sync.Mutex
	runs atomic.Int32
	nr   int
}

func (h *testHost) RunQueue()       { h.runs.Add(1) }
func (h *testHost) NrRequests() int { return h.nr }

func newTestScheduler(t *testing.T, opts *Options) (*Scheduler, *testHost, *clock.Mock) {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	mock := clock.NewMock()
	opts.Clock = mock
	opts.Logger = logging.Nop()
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	host := &testHost{nr: DefaultNrRequests}
	s, err := New(host, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, host, mock
}

// queueRequest allocates and sorts in a request the way the block layer does
func queueRequest(t *testing.T, s *Scheduler, key int64, class int, sector, n uint64, dir Direction) *Request {
	t.Helper()
	rq := &Request{
		Sector:    sector,
		NrSectors: n,
		Dir:       dir,
		Ctx:       IOContext{Key: key, Class: class},
	}
	require.NoError(t, s.SetRequest(rq))
	require.NoError(t, s.InsertRequest(rq, InsertSort))
	return rq
}

// service takes the next request off the scheduler, as the device would
func service(s *Scheduler) *Request {
	rq := s.NextRequest()
	if rq == nil {
		return nil
	}
	s.RemoveRequest(rq)
	s.PutRequest(rq)
	return rq
}

func serviceAll(s *Scheduler) []*Request {
	var out []*Request
	for rq := service(s); rq != nil; rq = service(s) {
		out = append(out, rq)
	}
	return out
}

func sectors(rqs []*Request) []uint64 {
	out := make([]uint64, len(rqs))
	for i, rq := range rqs {
		out[i] = rq.Sector
	}
	return out
}

// checkLedger verifies the scheduler's counters against its queues
func checkLedger(t *testing.T, s *Scheduler) {
	t.Helper()

	totalQueues := 0
	var rqByClass [NumClasses]int
	var secByClass [NumClasses]int64
	for i := range s.cid {
		cd := &s.cid[i]
		require.Equal(t, cd.busyQueues, cd.rr.Len(), "class %d round-robin length", i)
		totalQueues += cd.busyQueues
		for e := cd.rr.Front(); e != nil; e = e.Next() {
			q := e.Value.(*procQueue)
			require.Equal(t, i, q.class)
			require.False(t, q.sorted.Empty(), "empty queue %d on round-robin list", q.key)
			q.sorted.Ascend(func(key uint64, sr *schedRequest) bool {
				require.Equal(t, key, sr.rq.Sector)
				require.Same(t, q, sr.queue)
				if accounted(sr.class) {
					rqByClass[sr.class]++
					secByClass[sr.class] += int64(sr.nrSectors)
				}
				return true
			})
		}
	}
	require.Equal(t, totalQueues, s.busyQueues)
	require.Equal(t, s.busyQueues, s.queueHash.Len())

	totalRq, totalSec := 0, int64(0)
	for i := range s.cid {
		require.Equal(t, rqByClass[i], s.cid[i].busyRq, "class %d busy requests", i)
		require.Equal(t, secByClass[i], s.cid[i].busySectors, "class %d busy sectors", i)
		totalRq += rqByClass[i]
		totalSec += secByClass[i]
	}
	require.Equal(t, totalRq, s.busyRq)
	require.Equal(t, totalSec, s.busySectors)
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidParameters))

	_, err = New(&testHost{nr: 1}, &Options{RequestPoolSize: -1, Logger: logging.Nop()})
	assert.True(t, IsCode(err, ErrCodeInvalidParameters))
}

func TestSortedQueueDispatchesAscending(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	for _, sector := range []uint64{300, 100, 500, 200} {
		queueRequest(t, s, 1, ClassNormal, sector, 8, DirRead)
	}
	checkLedger(t, s)
	assert.False(t, s.QueueEmpty())

	got := serviceAll(s)
	assert.Equal(t, []uint64{100, 200, 300, 500}, sectors(got))
	assert.True(t, s.QueueEmpty())
	assert.Zero(t, s.rqPool.InUse())
	checkLedger(t, s)
}

func TestNextRequestPeeks(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	rq := queueRequest(t, s, 1, ClassNormal, 64, 8, DirWrite)

	assert.Same(t, rq, s.NextRequest())
	assert.Same(t, rq, s.NextRequest(), "head stays until removed")
	s.RemoveRequest(rq)
	s.PutRequest(rq)
	assert.Nil(t, s.NextRequest())
}

func TestLedgerUnderRandomLoad(t *testing.T) {
	s, host, mock := newTestScheduler(t, nil)
	rng := rand.New(rand.NewSource(1))
	classes := []int{ClassIdle, 3, 12, ClassNormal, ClassRealtime}

	outstanding := 0
	for i := 0; i < 2000; i++ {
		if rng.Intn(3) > 0 {
			key := int64(rng.Intn(6) + 1)
			class := classes[rng.Intn(len(classes))]
			sector := uint64(rng.Intn(4096)) * 16
			queueRequest(t, s, key, class, sector, uint64(rng.Intn(8)+1), Direction(rng.Intn(2)))
			outstanding++
		} else {
			host.Lock()
			if service(s) != nil {
				outstanding--
			}
			host.Unlock()
		}
		host.Lock()
		checkLedger(t, s)
		host.Unlock()
	}

	// grace periods may hold work back; let every one of them expire
	for outstanding > 0 {
		host.Lock()
		n := len(serviceAll(s))
		host.Unlock()
		outstanding -= n
		if n == 0 {
			mock.Add(time.Second)
		}
	}

	host.Lock()
	defer host.Unlock()
	assert.True(t, s.QueueEmpty())
	assert.Zero(t, s.rqPool.InUse())
	checkLedger(t, s)
}

func TestRealtimeIsServedExclusively(t *testing.T) {
	s, host, mock := newTestScheduler(t, nil)

	queueRequest(t, s, 1, ClassNormal, 100, 8, DirRead)
	queueRequest(t, s, 1, ClassNormal, 200, 8, DirRead)
	rt := queueRequest(t, s, 2, ClassRealtime, 900, 8, DirRead)

	host.Lock()
	assert.Same(t, rt, service(s))
	assert.Equal(t, 0, s.dispatch.Len(), "nothing else selected alongside realtime work")

	// the realtime grace period holds normal work back
	assert.Nil(t, s.NextRequest())
	host.Unlock()

	mock.Add(DefaultGraceRT)
	require.Eventually(t, func() bool { return host.runs.Load() > 0 }, time.Second, time.Millisecond)

	host.Lock()
	defer host.Unlock()
	assert.Equal(t, []uint64{100, 200}, sectors(serviceAll(s)))
	assert.NotZero(t, s.metrics.TimerFires.Load())
}

func TestGracePeriodsExpireIndependently(t *testing.T) {
	s, _, mock := newTestScheduler(t, nil)

	a := queueRequest(t, s, 1, ClassNormal, 100, 8, DirWrite)
	b := queueRequest(t, s, 1, ClassNormal, 108, 8, DirWrite)
	rt := queueRequest(t, s, 2, ClassRealtime, 900, 8, DirWrite)
	require.Same(t, rt, service(s))

	// removing b through a request merge starts the normal grace period,
	// which must not stretch the realtime one
	a.NrSectors += b.NrSectors
	s.MergedRequests(a, b)
	s.PutRequest(b)
	assert.Equal(t, waitRT|waitNorm, s.flags)

	mock.Add(DefaultGraceRT + time.Millisecond)
	assert.Same(t, a, s.NextRequest())
	checkLedger(t, s)
}

func TestRealtimeReenqueuesDispatchedWork(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	first := queueRequest(t, s, 1, ClassNormal, 100, 8, DirRead)
	queueRequest(t, s, 1, ClassNormal, 200, 8, DirRead)

	require.Same(t, first, s.NextRequest())
	require.Equal(t, 2, s.dispatch.Len())
	assert.Zero(t, s.busyRq)

	rt := queueRequest(t, s, 2, ClassRealtime, 900, 8, DirRead)

	// the head was already handed out, the other request goes back
	assert.Equal(t, 1, s.dispatch.Len())
	assert.Equal(t, 1, s.busyRq)
	assert.Equal(t, uint64(1), s.metrics.Reenqueued.Load())
	checkLedger(t, s)

	s.RemoveRequest(first)
	s.PutRequest(first)
	assert.Same(t, rt, service(s))
}

func TestIdleWaitsForGracePeriod(t *testing.T) {
	s, host, mock := newTestScheduler(t, nil)

	normal := queueRequest(t, s, 1, ClassNormal, 100, 8, DirWrite)
	idle := queueRequest(t, s, 2, ClassIdle, 500, 8, DirWrite)

	host.Lock()
	assert.Same(t, normal, service(s))
	assert.Nil(t, s.NextRequest(), "idle io held off after normal io")
	host.Unlock()

	mock.Add(DefaultGraceIdle / 2)
	host.Lock()
	assert.Nil(t, s.NextRequest())
	host.Unlock()

	mock.Add(DefaultGraceIdle / 2)
	require.Eventually(t, func() bool { return host.runs.Load() > 0 }, time.Second, time.Millisecond)

	host.Lock()
	defer host.Unlock()
	assert.Same(t, idle, service(s))
	assert.NotZero(t, s.metrics.GraceWaits.Load())
}

func TestIdleRunsWhenNothingElseQueued(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	idle := queueRequest(t, s, 2, ClassIdle, 500, 8, DirRead)
	queueRequest(t, s, 2, ClassIdle, 600, 8, DirRead)

	// idle quantum is one request per cycle
	assert.Same(t, idle, s.NextRequest())
	assert.Equal(t, 1, s.dispatch.Len())
}

func TestInsertBackAndFront(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	a := &Request{Sector: 10, NrSectors: 1, Dir: DirFlush}
	b := &Request{Sector: 20, NrSectors: 1, Dir: DirFlush}

	require.NoError(t, s.InsertRequest(a, InsertBack))
	require.NoError(t, s.InsertRequest(b, InsertFront))

	assert.Same(t, b, service(s))
	assert.Same(t, a, service(s))
	assert.Nil(t, service(s))
}

func TestInsertRejectsBadInsertPoint(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	rq := &Request{Sector: 8, NrSectors: 8, Ctx: IOContext{Key: 42, Class: ClassNormal}}

	err := s.InsertRequest(rq, InsertWhere(7))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidInsert))
	assert.Equal(t, "cfq: bad insert point 7 (op=INSERT, class=19, key=42)", err.Error())

	err = s.InsertRequest(rq, InsertSort)
	assert.True(t, IsCode(err, ErrCodeInvalidParameters), "sorted insert needs SetRequest first")
	assert.True(t, s.QueueEmpty())
}

func TestDispatchListStaysSorted(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	for _, rq := range []*Request{{Sector: 50}, {Sector: 10}, {Sector: 30}, {Sector: 30}, {Sector: 70}, {Sector: 5}} {
		s.dispatchSort(rq)
	}

	var got []uint64
	for e := s.dispatch.Front(); e != nil; e = e.Next() {
		got = append(got, e.Value.(*Request).Sector)
	}
	assert.Equal(t, []uint64{5, 10, 30, 30, 50, 70}, got)
}

func TestAliasGoesToDispatch(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	older := queueRequest(t, s, 1, ClassNormal, 100, 8, DirWrite)
	newer := queueRequest(t, s, 1, ClassNormal, 100, 16, DirWrite)

	assert.Equal(t, 1, s.dispatch.Len())
	assert.Equal(t, 1, s.busyRq)
	assert.Equal(t, int64(16), s.busySectors)
	assert.False(t, private(older).hashed)
	assert.Equal(t, uint64(1), s.metrics.Aliases.Load())
	checkLedger(t, s)

	assert.Equal(t, []*Request{older, newer}, serviceAll(s))
}

func TestPromotionMovesQueue(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	queueRequest(t, s, 1, 5, 100, 8, DirRead)
	require.Equal(t, 1, s.cid[5].busyQueues)

	queueRequest(t, s, 1, ClassNormal, 200, 8, DirRead)
	assert.Zero(t, s.cid[5].busyQueues)
	assert.Equal(t, 1, s.cid[ClassNormal].busyQueues)
	assert.Equal(t, 1, s.cid[5].busyRq, "requests keep their own class")
	assert.Equal(t, 1, s.cid[ClassNormal].busyRq)
	assert.Equal(t, uint64(1), s.cid[5].stats.QueuesOut)
	checkLedger(t, s)

	// a lower class never demotes the queue
	queueRequest(t, s, 1, 2, 300, 8, DirRead)
	assert.Equal(t, 1, s.cid[ClassNormal].busyQueues)
	checkLedger(t, s)

	assert.Len(t, serviceAll(s), 3)
	checkLedger(t, s)
}

func TestFormerAndLatterRequest(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	a := queueRequest(t, s, 1, ClassNormal, 100, 8, DirRead)
	b := queueRequest(t, s, 1, ClassNormal, 200, 8, DirRead)
	c := queueRequest(t, s, 1, ClassNormal, 300, 8, DirRead)
	other := queueRequest(t, s, 2, ClassNormal, 250, 8, DirRead)

	assert.Same(t, b, s.LatterRequest(a))
	assert.Same(t, c, s.LatterRequest(b))
	assert.Nil(t, s.LatterRequest(c))
	assert.Same(t, a, s.FormerRequest(b))
	assert.Nil(t, s.FormerRequest(a))
	assert.Nil(t, s.FormerRequest(other))
	assert.Nil(t, s.LatterRequest(other))
	assert.Nil(t, s.FormerRequest(&Request{}))
}

func TestHigherClassGetsLargerShare(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	const high, low = int64(1), int64(2)
	for i := uint64(0); i < 10; i++ {
		queueRequest(t, s, high, 18, 1000+i*16, 8, DirRead)
		queueRequest(t, s, low, 2, 100000+i*16, 8, DirRead)
	}

	counts := map[int64]int{}
	for i := 0; i < 14; i++ {
		rq := service(s)
		require.NotNil(t, rq)
		counts[rq.Ctx.Key]++
	}
	assert.Equal(t, 10, counts[high])
	assert.Equal(t, 4, counts[low])

	rest := serviceAll(s)
	assert.Len(t, rest, 6)
	assert.Equal(t, uint64(10), s.metrics.Snapshot().DispatchedRq[18])
	assert.Equal(t, uint64(10), s.metrics.Snapshot().DispatchedRq[2])
}

func TestClassQuota(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	// nothing else busy: quantum scaled by class
	rq, io := s.classQuota(ClassNormal, 0, 0)
	assert.Equal(t, DefaultQuantum*20/NumClasses, rq)
	assert.Equal(t, DefaultQuantumIO*20/NumClasses, io)

	// plenty of other work: capped at the quanta
	s.cid[ClassNormal].busyRq = 1
	s.cid[ClassNormal].busySectors = 8
	rq, io = s.classQuota(ClassNormal, 1000, 100000)
	assert.Equal(t, DefaultQuantum, rq)
	assert.Equal(t, DefaultQuantumIO, io)

	// smoothed with the previous cycle
	s.cid[ClassNormal].lastRq = 2
	s.cid[ClassNormal].lastSectors = 16
	rq, io = s.classQuota(ClassNormal, 1000, 100000)
	assert.Equal(t, (2+DefaultQuantum)/2, rq)
	assert.Equal(t, (16+DefaultQuantumIO)/2, io)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, host, mock := newTestScheduler(t, nil)

	queueRequest(t, s, 1, ClassRealtime, 100, 8, DirRead)
	queueRequest(t, s, 2, ClassNormal, 900, 8, DirRead)
	require.NotNil(t, service(s))
	require.Nil(t, s.NextRequest(), "grace timer armed")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, host.runs.Load(), "no work runs after close")
}
