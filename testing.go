package cfq

import "sync"

// Access is one operation a MockBackend executed, in device order
type Access struct {
	Dir    Direction
	Sector uint64
	Count  uint64 // sectors
}

// MockBackend is an in-memory Backend for testing code built on a Device.
// It records every operation in execution order and can be told to fail.
type MockBackend struct {
	mu      sync.RWMutex
	data    []byte
	size    int64
	closed  bool
	flushed bool
	trace   []Access
	fail    error
	stats   map[string]interface{}

	readCalls    int
	writeCalls   int
	flushCalls   int
	discardCalls int
}

// NewMockBackend creates a new mock backend with the specified size
func NewMockBackend(size int64) *MockBackend {
	return &MockBackend{
		data:  make([]byte, size),
		size:  size,
		stats: make(map[string]interface{}),
	}
}

func (m *MockBackend) record(dir Direction, off int64, n int) {
	m.trace = append(m.trace, Access{
		Dir:    dir,
		Sector: uint64(off) / SectorSize,
		Count:  uint64(n) / SectorSize,
	})
}

// ReadAt implements the Backend interface
func (m *MockBackend) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	m.record(DirRead, off, len(p))
	if m.closed {
		return 0, ErrClosed
	}
	if m.fail != nil {
		return 0, m.fail
	}
	if off >= m.size {
		return 0, nil
	}
	return copy(p, m.data[off:]), nil
}

// WriteAt implements the Backend interface
func (m *MockBackend) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	m.record(DirWrite, off, len(p))
	if m.closed {
		return 0, ErrClosed
	}
	if m.fail != nil {
		return 0, m.fail
	}
	if off+int64(len(p)) > m.size {
		return 0, ErrInvalidParameters
	}
	return copy(m.data[off:], p), nil
}

// Size implements the Backend interface
func (m *MockBackend) Size() int64 {
	return m.size
}

// Close implements the Backend interface
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Flush implements the Backend interface
func (m *MockBackend) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushCalls++
	m.trace = append(m.trace, Access{Dir: DirFlush})
	m.flushed = true
	return m.fail
}

// Discard implements the DiscardBackend interface
func (m *MockBackend) Discard(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.discardCalls++
	m.record(DirDiscard, offset, int(length))
	if offset >= m.size {
		return nil
	}
	end := min(offset+length, m.size)
	clear(m.data[offset:end])
	return nil
}

// Stats implements the StatBackend interface
func (m *MockBackend) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]interface{})
	for k, v := range m.stats {
		stats[k] = v
	}
	stats["read_calls"] = m.readCalls
	stats["write_calls"] = m.writeCalls
	stats["flush_calls"] = m.flushCalls
	stats["discard_calls"] = m.discardCalls
	return stats
}

// Testing utility methods

// FailWith makes every following read, write and flush return err.
// A nil err restores normal operation.
func (m *MockBackend) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Trace returns a copy of the operations executed so far
func (m *MockBackend) Trace() []Access {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Access(nil), m.trace...)
}

// IsClosed returns true if the backend has been closed
func (m *MockBackend) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// IsFlushed returns true if Flush has been called
func (m *MockBackend) IsFlushed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushed
}

// CallCounts returns the number of times each method has been called
func (m *MockBackend) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"read":    m.readCalls,
		"write":   m.writeCalls,
		"flush":   m.flushCalls,
		"discard": m.discardCalls,
	}
}

// Reset clears call counters, the trace and state flags
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls = 0
	m.writeCalls = 0
	m.flushCalls = 0
	m.discardCalls = 0
	m.flushed = false
	m.trace = nil
}

// SetCustomStats allows setting custom statistics for testing
func (m *MockBackend) SetCustomStats(stats map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats = make(map[string]interface{})
	for k, v := range stats {
		m.stats[k] = v
	}
}

// Compile-time interface checks
var (
	_ Backend        = (*MockBackend)(nil)
	_ DiscardBackend = (*MockBackend)(nil)
	_ StatBackend    = (*MockBackend)(nil)
)
