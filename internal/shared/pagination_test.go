package shared

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaginationBounds(t *testing.T) {
	p := NewPagination(2, 3, 7)
	require.Equal(t, 3, p.TotalPages)
	start, end := p.Bounds()
	require.Equal(t, 3, start)
	require.Equal(t, 6, end)

	start, end = NewPagination(3, 3, 7).Bounds()
	require.Equal(t, 6, start)
	require.Equal(t, 7, end)

	p = NewPagination(9, 3, 7)
	require.Equal(t, 4, p.Page)
	start, end = p.Bounds()
	require.Equal(t, start, end)

	p = NewPagination(0, 0, 7)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 50, p.PerPage)

	p = NewPagination(1, 10_000, 7)
	require.Equal(t, MaxPerPage, p.PerPage)
}

func TestPaginationHugePageIsEmpty(t *testing.T) {
	for _, page := range []int{math.MaxInt, math.MaxInt/MaxPerPage + 2} {
		p := NewPagination(page, MaxPerPage, 3)
		require.Equal(t, 2, p.Page)
		start, end := p.Bounds()
		require.Equal(t, 3, start)
		require.Equal(t, 3, end)
	}

	start, end := NewPagination(math.MaxInt, 10, 0).Bounds()
	require.Zero(t, start)
	require.Zero(t, end)
}
