package trace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDurationScalesWithDec(t *testing.T) {
	require.InDelta(t, 2*Duration(1), Duration(2), 1e-12)
}

func TestIndexMSRoundTrip(t *testing.T) {
	dec := 16
	for _, i := range []int{0, 100, 8000, NSamples - 1} {
		ms := IndexToMS(i, dec)
		back := MSToIndex(ms, dec)
		require.InDelta(t, i, back, 1)
	}
}

func TestTimeAxisLength(t *testing.T) {
	axis := TimeAxis(16)
	require.Len(t, axis, NSamples)
	require.Equal(t, 0.0, axis[0])
}
