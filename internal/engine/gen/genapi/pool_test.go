package genapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArena(t *testing.T) {
	a := NewArena[uint64]()
	require.Equal(t, 0, a.Len())

	ptrs := make([]*uint64, 0, arenaPageSize*3)
	for i := 0; i < arenaPageSize*3; i++ {
		v, h := a.Allocate()
		require.Equal(t, Handle(i), h)
		*v = uint64(i)
		ptrs = append(ptrs, v)
	}
	require.Equal(t, arenaPageSize*3, a.Len())
	require.Equal(t, 3, len(a.pages))

	for i, p := range ptrs {
		// Pointers stay valid across page growth.
		require.Equal(t, uint64(i), *p)
		require.Equal(t, p, a.At(Handle(i)))
	}

	a.Reset()
	require.Equal(t, 0, a.Len())
	require.Equal(t, 0, len(a.pages))
	require.Equal(t, 3, cap(a.pages))

	v, h := a.Allocate()
	require.Equal(t, Handle(0), h)
	require.Equal(t, uint64(0), *v)
	// The first page is recycled.
	require.Equal(t, ptrs[0], v)
}
