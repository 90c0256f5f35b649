package runtime

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/transitboard/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/transitboard/internal/runtime/metadata"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// Stages at which a record can be skipped.
const (
	StageDecode  = "decode"
	StageProcess = "process"
	StagePanic   = "panic"
)

// RecordError describes a record a binding skipped.
type RecordError struct {
	Binding string
	Topic   string
	Offset  int64
	Stage   string
	Err     error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("binding %s: %s failed for %s@%d: %v", e.Binding, e.Stage, e.Topic, e.Offset, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// BindingStats accumulates what one binding has done since startup. It is
// served as JSON on /api/bindings.
type BindingStats struct {
	mu sync.Mutex

	RecordsProcessed    uint64           `json:"records_processed"`
	RecordsSkipped      uint64           `json:"records_skipped"`
	TotalProcessingTime int64            `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time        `json:"last_processed_at"`
	LastOffsets         map[string]int64 `json:"last_offsets"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Backlog    BacklogMetrics    `json:"backlog"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS      float64 `json:"current_rps"`
	WindowSeconds   float64 `json:"window_seconds"`
	RecordsInWindow uint64  `json:"records_in_window"`
	TotalRecords    uint64  `json:"total_records"`
}

type ErrorBreakdown struct {
	Decode    uint64 `json:"decode"`
	Process   uint64 `json:"process"`
	Panic     uint64 `json:"panic"`
	Other     uint64 `json:"other"`
	LastError string `json:"last_error,omitempty"`
}

type BacklogMetrics struct {
	InFlight           uint64 `json:"in_flight"`
	MaxInFlight        uint64 `json:"max_in_flight"`
	EstimatedLagMillis int64  `json:"estimated_lag_millis"`
}

func newBindingStats() *BindingStats {
	return &BindingStats{
		LastOffsets:      make(map[string]int64),
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		Backlog:          BacklogMetrics{EstimatedLagMillis: -1},
	}
}

func (b *BindingStats) onRecordStart() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Backlog.InFlight++
	if b.Backlog.InFlight > b.Backlog.MaxInFlight {
		b.Backlog.MaxInFlight = b.Backlog.InFlight
	}
}

func (b *BindingStats) onRecordFinish(topic string, msg *message.Message, duration time.Duration, err error) {
	lag := parseLagMetadata(msg)
	offset := parseInt64Metadata(msg, metadatapkg.KeyOffset)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Backlog.InFlight > 0 {
		b.Backlog.InFlight--
	}
	if lag >= 0 {
		b.Backlog.EstimatedLagMillis = lag
	}
	if offset >= 0 {
		b.LastOffsets[topic] = offset
	}

	if err != nil {
		b.RecordsSkipped++
		b.Errors.Record(err)
	} else {
		b.RecordsProcessed++
	}
	total := b.RecordsProcessed + b.RecordsSkipped
	b.TotalProcessingTime += int64(duration)
	b.LastProcessedAt = time.Now().UTC()

	b.latencyWindow.Add(duration)
	snapshot := b.latencyWindow.Snapshot()
	snapshot.AverageNs = b.TotalProcessingTime / int64(total)
	b.Latency = snapshot

	tp := b.throughputWindow.AddAndSnapshot(time.Now())
	b.Throughput.CurrentRPS = tp.CurrentRPS
	b.Throughput.WindowSeconds = tp.WindowSeconds
	b.Throughput.RecordsInWindow = uint64(tp.Count)
	b.Throughput.TotalRecords = total
}

// Counts returns processed and skipped totals.
func (b *BindingStats) Counts() (processed, skipped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.RecordsProcessed, b.RecordsSkipped
}

func (b *BindingStats) MarshalJSON() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	type Alias BindingStats
	return jsoncodec.Marshal((*Alias)(b))
}

// Record files err under the stage it failed in.
func (e *ErrorBreakdown) Record(err error) {
	if err == nil {
		return
	}
	var recErr *RecordError
	stage := ""
	if errors.As(err, &recErr) {
		stage = recErr.Stage
	}
	switch stage {
	case StageDecode:
		e.Decode++
	case StageProcess:
		e.Process++
	case StagePanic:
		e.Panic++
	default:
		e.Other++
	}
	e.LastError = err.Error()
}

func parseInt64Metadata(msg *message.Message, key string) int64 {
	if msg == nil {
		return -1
	}
	val := msg.Metadata.Get(key)
	if val == "" {
		return -1
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return -1
	}
	return parsed
}

func parseLagMetadata(msg *message.Message) int64 {
	if msg == nil {
		return -1
	}
	raw := msg.Metadata.Get(metadatapkg.KeyTimestamp)
	if raw == "" {
		return -1
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return -1
	}
	lag := time.Since(ts).Milliseconds()
	if lag < 0 {
		return 0
	}
	return lag
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
