package collection

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetAddContainsRemove(t *testing.T) {
	s := NewSet(1, 2, 3)
	require.True(t, s.Contains(2))
	require.Equal(t, 3, s.Len())

	s.Remove(2)
	require.False(t, s.Contains(2))
	require.Equal(t, 2, s.Len())
}

func TestBagMode(t *testing.T) {
	b := NewBag[string]()
	b.Add("aa")
	b.Add("aa")
	b.Add("bb")

	key, count, ok := b.Mode()
	require.True(t, ok)
	require.Equal(t, "aa", key)
	require.Equal(t, 2, count)
	require.Equal(t, 3, b.Len())
}
