package executor

import (
	"sync"
	"time"
)

// stats collects duration samples between two pulls.
type stats struct {
	mu    sync.Mutex
	rules map[string][]time.Duration
	total []time.Duration
}

func newStats() *stats {
	return &stats{rules: make(map[string][]time.Duration)}
}

func (s *stats) record(rule string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule] = append(s.rules[rule], d)
}

func (s *stats) recordTotal(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = append(s.total, d)
}

// drain returns averages in seconds and resets every sample.
func (s *stats) drain(ruleNames []string) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]float64, len(ruleNames)+1)
	for _, name := range ruleNames {
		result["rule-"+name] = 0
	}
	for name, samples := range s.rules {
		result["rule-"+name] = average(samples)
	}
	result["rule-total"] = average(s.total)

	s.rules = make(map[string][]time.Duration)
	s.total = nil
	return result
}

func average(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return sum.Seconds() / float64(len(samples))
}
