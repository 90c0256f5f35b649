package runtime

import (
	"runtime/metrics"
	"sync"
	"time"
)

const (
	heapObjectsMetric = "/memory/classes/heap/objects:bytes"
	goroutinesMetric  = "/sched/goroutines:goroutines"
)

// BoardLoad summarises every binding and the process at one admin request.
type BoardLoad struct {
	SampledAt        time.Time `json:"sampled_at"`
	RecordsPerSecond float64   `json:"records_per_second"`
	SkipRatio        float64   `json:"skip_ratio"`
	InFlight         uint64    `json:"in_flight"`
	MaxLagMillis     int64     `json:"max_lag_millis"`
	HeapBytes        uint64    `json:"heap_bytes"`
	Goroutines       uint64    `json:"goroutines"`
}

// loadSampler turns the binding totals into a record rate between two
// consecutive samples.
type loadSampler struct {
	mu       sync.Mutex
	now      func() time.Time
	samples  []metrics.Sample
	last     time.Time
	lastSeen uint64
}

func newLoadSampler() *loadSampler {
	return &loadSampler{
		now:     time.Now,
		samples: []metrics.Sample{{Name: heapObjectsMetric}, {Name: goroutinesMetric}},
	}
}

func (l *loadSampler) Sample(bindings []*Binding) BoardLoad {
	load := BoardLoad{MaxLagMillis: -1}
	var processed, skipped uint64
	for _, b := range bindings {
		p, s, inFlight, lag := b.Stats().load()
		processed += p
		skipped += s
		load.InFlight += inFlight
		if lag > load.MaxLagMillis {
			load.MaxLagMillis = lag
		}
	}
	seen := processed + skipped
	if seen > 0 {
		load.SkipRatio = float64(skipped) / float64(seen)
	}
	if l == nil {
		return load
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	load.SampledAt = now.UTC()
	if !l.last.IsZero() && seen >= l.lastSeen {
		if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
			load.RecordsPerSecond = float64(seen-l.lastSeen) / elapsed
		}
	}
	l.last = now
	l.lastSeen = seen

	metrics.Read(l.samples)
	for _, sample := range l.samples {
		if sample.Value.Kind() != metrics.KindUint64 {
			continue
		}
		switch sample.Name {
		case heapObjectsMetric:
			load.HeapBytes = sample.Value.Uint64()
		case goroutinesMetric:
			load.Goroutines = sample.Value.Uint64()
		}
	}
	return load
}

// load returns the counters a BoardLoad aggregates.
func (b *BindingStats) load() (processed, skipped, inFlight uint64, lagMillis int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.RecordsProcessed, b.RecordsSkipped, b.Backlog.InFlight, b.Backlog.EstimatedLagMillis
}
