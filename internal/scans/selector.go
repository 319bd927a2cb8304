package scans

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrNoProbes      = errors.New("no probes available")
	ErrProbeNotFound = errors.New("probe not found")
)

// Selector picks the probe for the next dispatch: least active scans wins,
// name order breaks ties, and a bounded history of recent dispatches keeps
// one probe from monopolizing consecutive submissions.
type Selector struct {
	maxConsecutive int

	mu      sync.Mutex
	history []string
}

func NewSelector(maxConsecutive int) *Selector {
	if maxConsecutive < 1 {
		maxConsecutive = 1
	}
	return &Selector{maxConsecutive: maxConsecutive}
}

// Pick returns one probe name from probes given the per-probe active-scan
// counts. Probes absent from counts are treated as idle.
func (s *Selector) Pick(probes []string, active map[string]int) (string, error) {
	if len(probes) == 0 {
		return "", ErrNoProbes
	}

	minCount := -1
	for _, name := range probes {
		if c := active[name]; minCount == -1 || c < minCount {
			minCount = c
		}
	}

	candidates := make([]string, 0, len(probes))
	for _, name := range probes {
		if active[name] == minCount {
			candidates = append(candidates, name)
		}
	}

	s.mu.Lock()
	streak := s.streakLocked()
	s.mu.Unlock()

	if streak != "" {
		filtered := candidates[:0:0]
		for _, name := range candidates {
			if name != streak {
				filtered = append(filtered, name)
			}
		}
		// Single-probe deployments must still dispatch.
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	sort.Strings(candidates)
	return candidates[0], nil
}

// Record notes a dispatch to the named probe.
func (s *Selector) Record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, name)
	if len(s.history) > s.maxConsecutive {
		s.history = s.history[len(s.history)-s.maxConsecutive:]
	}
}

// streakLocked returns the probe name if the last maxConsecutive dispatches
// all went to it, else "".
func (s *Selector) streakLocked() string {
	if len(s.history) < s.maxConsecutive {
		return ""
	}
	first := s.history[0]
	for _, name := range s.history[1:] {
		if name != first {
			return ""
		}
	}
	return first
}
