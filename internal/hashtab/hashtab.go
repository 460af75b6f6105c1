// Package hashtab implements the fixed-size chained hash tables the
// scheduler uses for its merge index and its per-process queue lookup.
package hashtab

// goldenRatioPrime64 is the multiplier of the classic multiplicative hash
const goldenRatioPrime64 = 0x9e37fffffffc0001

// HashLong folds val into a bucket index of the given width in bits
func HashLong(val uint64, bits uint) uint64 {
	return (val * goldenRatioPrime64) >> (64 - bits)
}

// Table is a chained hash table with 1<<shift buckets. Callers supply the
// hash input for every operation; values in one chain are compared by ==.
type Table[V comparable] struct {
	shift   uint
	buckets [][]V
	count   int
}

// New allocates a table with 1<<shift buckets
func New[V comparable](shift uint) *Table[V] {
	return &Table[V]{
		shift:   shift,
		buckets: make([][]V, 1<<shift),
	}
}

func (t *Table[V]) bucket(key uint64) int {
	return int(HashLong(key, t.shift))
}

// Add links v into the chain for key
func (t *Table[V]) Add(key uint64, v V) {
	b := t.bucket(key)
	t.buckets[b] = append(t.buckets[b], v)
	t.count++
}

// Remove unlinks v from the chain for key and reports whether it was there
func (t *Table[V]) Remove(key uint64, v V) bool {
	b := t.bucket(key)
	chain := t.buckets[b]
	for i, cur := range chain {
		if cur == v {
			chain[i] = chain[len(chain)-1]
			var zero V
			chain[len(chain)-1] = zero
			t.buckets[b] = chain[:len(chain)-1]
			t.count--
			return true
		}
	}
	return false
}

// Visit decides what happens to a chain entry during Scan
type Visit int

const (
	// Continue keeps the entry and moves on
	Continue Visit = iota
	// Drop unlinks the entry and moves on
	Drop
	// Stop keeps the entry and ends the scan
	Stop
)

// Scan walks the chain for key. Entries answered with Drop are unlinked.
func (t *Table[V]) Scan(key uint64, fn func(v V) Visit) {
	b := t.bucket(key)
	chain := t.buckets[b]
	kept := chain[:0]
	stopped := false
	for i, cur := range chain {
		if stopped {
			kept = append(kept, chain[i:]...)
			break
		}
		switch fn(cur) {
		case Drop:
			t.count--
			continue
		case Stop:
			stopped = true
		}
		kept = append(kept, cur)
	}
	var zero V
	for i := len(kept); i < len(chain); i++ {
		chain[i] = zero
	}
	t.buckets[b] = kept
}

// Len returns the number of linked entries
func (t *Table[V]) Len() int {
	return t.count
}

// Buckets returns the number of chains
func (t *Table[V]) Buckets() int {
	return len(t.buckets)
}
