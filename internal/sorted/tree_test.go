package sorted

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreeInsertRejectsAlias(t *testing.T) {
	var tr Tree[string]

	_, ok := tr.Insert(100, "a")
	require.True(t, ok)

	alias, ok := tr.Insert(100, "b")
	require.False(t, ok)
	require.Equal(t, "a", alias)
	require.Equal(t, 1, tr.Len())

	v, found := tr.Get(100)
	require.True(t, found)
	require.Equal(t, "a", v)
}

func TestTreeMinAndDelete(t *testing.T) {
	var tr Tree[int]
	require.True(t, tr.Empty())

	for _, k := range []uint64{50, 10, 30} {
		tr.Insert(k, int(k))
	}

	k, v, ok := tr.Min()
	require.True(t, ok)
	require.Equal(t, uint64(10), k)
	require.Equal(t, 10, v)

	require.True(t, tr.Delete(10))
	require.False(t, tr.Delete(10))

	k, _, ok = tr.Min()
	require.True(t, ok)
	require.Equal(t, uint64(30), k)
}

func TestTreeNeighbours(t *testing.T) {
	var tr Tree[int]
	for _, k := range []uint64{0, 8, 16, 24} {
		tr.Insert(k, int(k))
	}

	tests := []struct {
		name    string
		key     uint64
		prev    uint64
		hasPrev bool
		next    uint64
		hasNext bool
	}{
		{"first", 0, 0, false, 8, true},
		{"middle", 16, 8, true, 24, true},
		{"last", 24, 16, true, 0, false},
		{"absent key", 12, 8, true, 16, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk, _, ok := tr.Prev(tt.key)
			require.Equal(t, tt.hasPrev, ok)
			if ok {
				require.Equal(t, tt.prev, pk)
			}

			nk, _, ok := tr.Next(tt.key)
			require.Equal(t, tt.hasNext, ok)
			if ok {
				require.Equal(t, tt.next, nk)
			}
		})
	}
}

func TestTreeAscendOrder(t *testing.T) {
	var tr Tree[int]
	for _, k := range []uint64{9, 3, 7, 1} {
		tr.Insert(k, 0)
	}

	var keys []uint64
	tr.Ascend(func(k uint64, _ int) bool {
		keys = append(keys, k)
		return true
	})
	require.Equal(t, []uint64{1, 3, 7, 9}, keys)
}
