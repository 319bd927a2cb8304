package scans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorPick_LeastLoaded(t *testing.T) {
	s := NewSelector(3)
	probes := []string{"probe-a", "probe-b", "probe-c"}

	name, err := s.Pick(probes, map[string]int{"probe-a": 2, "probe-b": 0, "probe-c": 1})
	require.NoError(t, err)
	assert.Equal(t, "probe-b", name)
}

func TestSelectorPick_TieBreaksByName(t *testing.T) {
	s := NewSelector(3)

	name, err := s.Pick([]string{"probe-b", "probe-a"}, map[string]int{})
	require.NoError(t, err)
	assert.Equal(t, "probe-a", name)
}

func TestSelectorPick_NoProbes(t *testing.T) {
	s := NewSelector(3)
	_, err := s.Pick(nil, map[string]int{})
	assert.ErrorIs(t, err, ErrNoProbes)
}

func TestSelector_BreaksStreak(t *testing.T) {
	s := NewSelector(2)
	probes := []string{"probe-a", "probe-b"}

	// Two consecutive dispatches to probe-a form a streak; the next tied
	// pick must avoid it.
	s.Record("probe-a")
	s.Record("probe-a")

	name, err := s.Pick(probes, map[string]int{})
	require.NoError(t, err)
	assert.Equal(t, "probe-b", name)
}

func TestSelector_NeverExceedsMaxConsecutive(t *testing.T) {
	s := NewSelector(3)
	probes := []string{"probe-a", "probe-b"}

	consecutive := 0
	last := ""
	for i := 0; i < 50; i++ {
		// Equal load on every pick keeps all probes tied.
		name, err := s.Pick(probes, map[string]int{})
		require.NoError(t, err)
		s.Record(name)

		if name == last {
			consecutive++
		} else {
			consecutive = 1
			last = name
		}
		assert.LessOrEqual(t, consecutive, 3)
	}
}

func TestSelector_SingleProbeAlwaysDispatches(t *testing.T) {
	s := NewSelector(2)
	probes := []string{"probe-a"}

	for i := 0; i < 10; i++ {
		name, err := s.Pick(probes, map[string]int{"probe-a": i})
		require.NoError(t, err)
		assert.Equal(t, "probe-a", name)
		s.Record(name)
	}
}
