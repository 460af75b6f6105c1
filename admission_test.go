package cfq

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMayQueueAllowsUnknownSubmitters(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	ioc := IOContext{Key: 1, Class: ClassNormal}

	assert.True(t, s.MayQueue(ioc, DirWrite), "idle scheduler")

	queueRequest(t, s, 2, ClassNormal, 100, 8, DirWrite)
	assert.True(t, s.MayQueue(ioc, DirWrite), "submitter without a queue")
}

func TestMayQueueLimitsClassShare(t *testing.T) {
	s, host, _ := newTestScheduler(t, nil)
	host.nr = 4

	for i := uint64(0); i < DefaultQueued; i++ {
		queueRequest(t, s, 1, ClassNormal, i*16, 8, DirWrite)
	}
	ioc := IOContext{Key: 1, Class: ClassNormal}

	// 4 requests against a share of 4*20/21 = 3
	assert.False(t, s.MayQueue(ioc, DirWrite))
	assert.True(t, s.MayQueue(ioc, DirRead), "reads are counted separately")
	assert.Equal(t, uint64(1), s.metrics.AdmissionDenials.Load())

	host.nr = DefaultNrRequests
	assert.True(t, s.MayQueue(ioc, DirWrite))
}

func TestMayQueueHonoursStarvation(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	for i := uint64(0); i < DefaultQueued; i++ {
		queueRequest(t, s, 1, 5, i*16, 8, DirWrite)
		queueRequest(t, s, 3, ClassRealtime, 10000+i*16, 8, DirWrite)
	}
	low := IOContext{Key: 1, Class: 5}
	rt := IOContext{Key: 3, Class: ClassRealtime}
	require.True(t, s.MayQueue(low, DirWrite))

	starving := IOContext{Key: 2, Class: ClassNormal}
	s.SetCongested(starving)
	assert.False(t, s.MayQueue(low, DirWrite), "a higher class is waiting")
	assert.True(t, s.MayQueue(rt, DirWrite), "only lower classes wait")

	// the starving submitter got its request
	require.NoError(t, s.SetRequest(&Request{Ctx: starving}))
	assert.True(t, s.MayQueue(low, DirWrite))
}

func TestMayQueueBelowQueuedDepth(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	queueRequest(t, s, 1, 5, 0, 8, DirWrite)

	s.SetCongested(IOContext{Key: 2, Class: ClassRealtime})
	assert.True(t, s.MayQueue(IOContext{Key: 1, Class: 5}, DirWrite))
}

func TestRequestPoolExhaustion(t *testing.T) {
	s, _, _ := newTestScheduler(t, &Options{RequestPoolSize: 2})
	ioc := IOContext{Key: 9, Class: ClassNormal}

	a := &Request{Ctx: ioc}
	require.NoError(t, s.SetRequest(a))
	require.NoError(t, s.SetRequest(&Request{Ctx: ioc}))

	err := s.SetRequest(&Request{Ctx: ioc})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInsufficientMemory))

	s.PutRequest(a)
	assert.Nil(t, a.ElevatorPrivate)
	assert.NoError(t, s.SetRequest(&Request{Ctx: ioc}))
}

func TestCurrentIOContext(t *testing.T) {
	ioc := CurrentIOContext(ClassIdle)
	assert.Equal(t, int64(os.Getpid()), ioc.Key)
	assert.Equal(t, ClassIdle, ioc.Class)
}

func TestClassOfClamps(t *testing.T) {
	assert.Equal(t, ClassIdle, classOf(IOContext{Class: -3}))
	assert.Equal(t, ClassRealtime, classOf(IOContext{Class: 99}))
	assert.Equal(t, 7, classOf(IOContext{Class: 7}))
}
