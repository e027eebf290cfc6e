package simulation

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// cap on retained latency samples per run; enough for percentiles without
// letting a soak test eat memory
const maxLatencySamples = 10000

type eventKind int

const (
	kindNormal eventKind = iota
	kindMalformed
	kindDuplicate
)

// run is the live state of one executing test. Generators record into it
// until it is frozen; freezing happens before cancellation so that nothing
// lands in a finalized TestResult.
type run struct {
	testID string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	frozen bool
	res    TestResult
}

func newRun(testID, scenarioID string, startedAt time.Time, cancel context.CancelFunc) *run {
	return &run{
		testID: testID,
		cancel: cancel,
		done:   make(chan struct{}),
		res: TestResult{
			TestID:     testID,
			ScenarioID: scenarioID,
			StartedAt:  startedAt,
			Status:     "running",
		},
	}
}

func (r *run) record(kind eventKind, accepted bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}

	r.res.TotalGenerated++
	switch {
	case kind == kindDuplicate:
		r.res.Duplicate++
	case accepted:
		r.res.Success++
	default:
		r.res.Failed++
	}
	if len(r.res.latencies) < maxLatencySamples {
		r.res.latencies = append(r.res.latencies, latency)
	}
}

// freeze stops all further recording. Idempotent.
func (r *run) freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// finalize freezes the run and stamps the terminal status.
func (r *run) finalize(status string, at time.Time) TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	r.res.Status = status
	r.res.CompletedAt = at
	return r.withLatencyStats()
}

// snapshot returns a point-in-time copy for introspection of a live run.
func (r *run) snapshot() TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.withLatencyStats()
}

// withLatencyStats computes the latency aggregates. Callers must hold r.mu.
func (r *run) withLatencyStats() TestResult {
	res := r.res
	res.latencies = nil

	samples := r.res.latencies
	if len(samples) == 0 {
		return res
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	p95 := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if p95 < 0 {
		p95 = 0
	}
	res.AvgLatencyMs = toMs(total) / float64(len(sorted))
	res.MaxLatencyMs = toMs(sorted[len(sorted)-1])
	res.P95LatencyMs = toMs(sorted[p95])
	return res
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// sleepJittered waits for roughly interval (±50%), bailing out early on
// cancellation. Reports whether the wait completed.
func sleepJittered(ctx context.Context, interval time.Duration, rng *rand.Rand) bool {
	if interval <= 0 {
		return ctx.Err() == nil
	}
	d := time.Duration(float64(interval) * (0.5 + rng.Float64()))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
