package interfaces

// Backend is the storage a device's dispatched requests are executed on.
// It mirrors io.ReaderAt and io.WriterAt so existing storage types plug in
// unchanged.
type Backend interface {
	// ReadAt reads len(p) bytes into p starting at byte offset off.
	// Implementations must not retain p.
	ReadAt(p []byte, off int64) (n int, err error)

	// WriteAt writes len(p) bytes from p at byte offset off.
	// WriteAt must return a non-nil error if it returns n < len(p).
	// Implementations must not retain p.
	WriteAt(p []byte, off int64) (n int, err error)

	// Size returns the size of the backend in bytes.
	Size() int64

	// Close releases the backend. No other method is called afterwards.
	Close() error

	// Flush makes previously completed writes durable.
	Flush() error
}

// DiscardBackend is an optional interface for backends that can release
// a byte range instead of having it overwritten.
type DiscardBackend interface {
	Backend

	// Discard drops the data in [offset, offset+length).
	Discard(offset, length int64) error
}

// StatBackend is an optional interface that provides backend statistics.
type StatBackend interface {
	Backend

	// Stats returns backend-specific statistics keyed by name.
	Stats() map[string]interface{}
}
