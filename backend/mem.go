// Package backend provides storage backends for scheduled devices
package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ehrlich-b/go-cfq/internal/constants"
	"github.com/ehrlich-b/go-cfq/internal/interfaces"
)

// Memory is a RAM backend that models a single disk head. Every
// operation moves the head to its start sector; the distance travelled is
// what a good schedule keeps small.
type Memory struct {
	data []byte
	size int64
	mu   sync.RWMutex

	// SeekCost, when set, is slept for every sector of head movement
	SeekCost time.Duration

	head      uint64
	seekTotal uint64
	seeks     uint64
	trace     []uint64
	keepTrace bool
	ops       uint64
}

// NewMemory creates a new memory backend of the specified size
func NewMemory(size int64) *Memory {
	return &Memory{
		data: make([]byte, size),
		size: size,
	}
}

// RecordTrace makes the backend remember the start sector of every
// operation
func (m *Memory) RecordTrace(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keepTrace = on
}

// move positions the head at the start of an operation. Called with the
// write lock held.
func (m *Memory) move(off int64, length int) time.Duration {
	sector := uint64(off) >> constants.SectorShift
	dist := sector - m.head
	if sector < m.head {
		dist = m.head - sector
	}
	if dist != 0 {
		m.seeks++
		m.seekTotal += dist
	}
	m.head = sector + uint64(length)>>constants.SectorShift
	m.ops++
	if m.keepTrace {
		m.trace = append(m.trace, sector)
	}
	return time.Duration(dist) * m.SeekCost
}

// ReadAt implements the Backend interface
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	delay := m.move(off, len(p))
	if off >= m.size {
		m.mu.Unlock()
		return 0, nil
	}
	n := copy(p, m.data[off:])
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return n, nil
}

// WriteAt implements the Backend interface
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	delay := m.move(off, len(p))
	if off+int64(len(p)) > m.size {
		m.mu.Unlock()
		return 0, fmt.Errorf("write of %d bytes at %d beyond end of device", len(p), off)
	}
	n := copy(m.data[off:], p)
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return n, nil
}

// Size implements the Backend interface
func (m *Memory) Size() int64 {
	return m.size
}

// Close implements the Backend interface
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

// Flush implements the Backend interface
func (m *Memory) Flush() error {
	return nil
}

// Discard implements the DiscardBackend interface
func (m *Memory) Discard(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if offset >= m.size {
		return nil
	}
	end := min(offset+length, m.size)
	clear(m.data[offset:end])
	return nil
}

// SeekDistance returns the total sectors the head travelled and the
// number of operations that needed a seek
func (m *Memory) SeekDistance() (sectors, seeks uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seekTotal, m.seeks
}

// Trace returns the start sectors recorded since RecordTrace(true)
func (m *Memory) Trace() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint64(nil), m.trace...)
}

// ResetStats parks the head at sector 0 and clears the counters and trace
func (m *Memory) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = 0
	m.seekTotal = 0
	m.seeks = 0
	m.ops = 0
	m.trace = nil
}

// Stats implements the StatBackend interface
func (m *Memory) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"type":          "memory",
		"size":          m.size,
		"size_human":    humanize.IBytes(uint64(m.size)),
		"operations":    m.ops,
		"seeks":         m.seeks,
		"seek_sectors":  m.seekTotal,
		"seek_distance": humanize.IBytes(m.seekTotal << constants.SectorShift),
	}
}

// Compile-time interface checks
var (
	_ interfaces.Backend        = (*Memory)(nil)
	_ interfaces.DiscardBackend = (*Memory)(nil)
	_ interfaces.StatBackend    = (*Memory)(nil)
)
