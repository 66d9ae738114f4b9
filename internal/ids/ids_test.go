package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewJobIDUnique(t *testing.T) {
	a := NewJobID()
	b := NewJobID()
	require.NotEqual(t, a, b)
	require.False(t, a.IsEmpty())
}

func TestEmptyID(t *testing.T) {
	var id JobID
	require.True(t, id.IsEmpty())
}

func TestTextRoundTrip(t *testing.T) {
	a := ID(NewJobID())
	text, err := a.MarshalText()
	require.NoError(t, err)

	var b ID
	require.NoError(t, b.UnmarshalText(text))
	require.Equal(t, a, b)
}
