package guard_test

import (
	"testing"
	"time"

	"github.com/fcchbjm/webguard/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	t.Parallel()

	s := guard.NewStats()

	assert.Empty(t, s.Snapshot())

	for _, d := range []time.Duration{
		1 * time.Second,
		2 * time.Second,
		3 * time.Second,
		4 * time.Second,
	} {
		s.Observe("quad9", d)
	}

	s.Observe("adguard_dns", 500*time.Millisecond)

	got := s.Snapshot()
	require.Len(t, got, 2)

	q9 := got["quad9"]
	assert.Equal(t, 4, q9.Count)
	assert.InDelta(t, 2.5, q9.Mean, 1e-9)
	assert.InDelta(t, 2, q9.Median, 1e-9)
	assert.InDelta(t, 4, q9.P90, 1e-9)

	ag := got["adguard_dns"]
	assert.Equal(t, 1, ag.Count)
	assert.InDelta(t, 0.5, ag.Mean, 1e-9)
}
