package guard

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// statsSampleCap bounds the per-provider latency sample window.  Older
// samples are discarded first.
const statsSampleCap = 512

// ProviderLatency summarizes the recent check latencies of one provider.
// Durations are in seconds.
type ProviderLatency struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Count  int     `json:"count"`
}

// Stats tracks per-provider check latencies over a sliding sample window.
type Stats struct {
	// mu protects samples.
	mu *sync.Mutex

	// samples maps provider cache name to its latency samples in seconds.
	samples map[string][]float64
}

// NewStats returns an empty latency tracker.
func NewStats() (s *Stats) {
	return &Stats{
		mu:      &sync.Mutex{},
		samples: map[string][]float64{},
	}
}

// Observe records one check latency for the named provider.
func (s *Stats) Observe(name string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := append(s.samples[name], d.Seconds())
	if len(samples) > statsSampleCap {
		samples = samples[len(samples)-statsSampleCap:]
	}

	s.samples[name] = samples
}

// Snapshot returns the current latency summary per provider.
func (s *Stats) Snapshot() (latencies map[string]ProviderLatency) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latencies = make(map[string]ProviderLatency, len(s.samples))
	for name, samples := range s.samples {
		sorted := make([]float64, len(samples))
		copy(sorted, samples)
		sort.Float64s(sorted)

		latencies[name] = ProviderLatency{
			Mean:   stat.Mean(sorted, nil),
			Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
			P90:    stat.Quantile(0.9, stat.Empirical, sorted, nil),
			Count:  len(sorted),
		}
	}

	return latencies
}
