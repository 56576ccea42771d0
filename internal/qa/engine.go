package qa

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sample is one observed chunk outcome
type Sample struct {
	Outcome    string // accepted, gated, suppressed, invalid_audio, transient_backend, ...
	Latency    time.Duration
	Confidence float64
	Final      bool
	QueueDepth int // depth of the session queue when the chunk finished
	Retries    int // failed backend attempts before this outcome
}

// Report is a point-in-time quality summary over the rolling window.
// Outcome counts cover only the samples still in the window, so the report
// reflects recent behavior rather than process lifetime totals.
// JSON-serializable for the report endpoint.
type Report struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	SampleCount   int               `json:"sample_count"`
	LatencyP50Ms  float64           `json:"latency_p50_ms"`
	LatencyP95Ms  float64           `json:"latency_p95_ms"`
	LatencyP99Ms  float64           `json:"latency_p99_ms"`
	AvgConfidence float64           `json:"avg_confidence"`
	InterimCount  int               `json:"interim_count"`
	FinalCount    int               `json:"final_count"`
	InterimRatio  float64           `json:"interim_final_ratio"` // interims per final, 0 when no finals
	AvgQueueDepth float64           `json:"avg_queue_depth"`
	Outcomes      map[string]uint64 `json:"outcomes"`
}

// Engine keeps a rolling window of chunk samples and summarizes them on
// demand. All methods are safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	window   []Sample
	capacity int
	next     int
	full     bool
}

// NewEngine creates a QA engine with the given rolling window size
func NewEngine(windowSize int) *Engine {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Engine{
		window:   make([]Sample, windowSize),
		capacity: windowSize,
	}
}

// Observe records one sample, evicting the oldest once the window is full
func (e *Engine) Observe(s Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.window[e.next] = s
	e.next++
	if e.next == e.capacity {
		e.next = 0
		e.full = true
	}
}

// Report summarizes the current window
func (e *Engine) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := e.next
	if e.full {
		count = e.capacity
	}

	r := Report{
		GeneratedAt: time.Now().UTC(),
		SampleCount: count,
		Outcomes:    make(map[string]uint64),
	}
	if count == 0 {
		return r
	}

	latencies := make([]float64, 0, count)
	confSum := 0.0
	confCount := 0
	depthSum := 0
	for i := 0; i < count; i++ {
		s := e.window[i]
		depthSum += s.QueueDepth
		r.Outcomes[s.Outcome]++
		if s.Retries > 0 {
			r.Outcomes["retried"]++
		}
		if s.Outcome == "accepted" {
			latencies = append(latencies, float64(s.Latency.Milliseconds()))
			confSum += s.Confidence
			confCount++
			if s.Final {
				r.FinalCount++
			} else {
				r.InterimCount++
			}
		}
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		r.LatencyP50Ms = percentile(latencies, 0.50)
		r.LatencyP95Ms = percentile(latencies, 0.95)
		r.LatencyP99Ms = percentile(latencies, 0.99)
	}
	if confCount > 0 {
		r.AvgConfidence = confSum / float64(confCount)
	}
	if r.FinalCount > 0 {
		r.InterimRatio = float64(r.InterimCount) / float64(r.FinalCount)
	}
	r.AvgQueueDepth = float64(depthSum) / float64(count)
	return r
}

// percentile reads the nearest-rank percentile from a sorted slice
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// StartReporter pushes a summary to the log at the given interval until the
// context is cancelled. A non-positive interval disables the loop.
func (e *Engine) StartReporter(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r := e.Report()
				logger.Info().
					Int("sample_count", r.SampleCount).
					Float64("latency_p50_ms", r.LatencyP50Ms).
					Float64("latency_p95_ms", r.LatencyP95Ms).
					Float64("latency_p99_ms", r.LatencyP99Ms).
					Float64("avg_confidence", r.AvgConfidence).
					Int("interim_count", r.InterimCount).
					Int("final_count", r.FinalCount).
					Msg("quality report")
			}
		}
	}()
}
