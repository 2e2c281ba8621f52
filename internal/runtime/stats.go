package runtime

import (
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/sickenflow/internal/runtime/errors"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// Outcome is how the worker finished with one message.
type Outcome string

const (
	OutcomePublished        Outcome = "published"
	OutcomeMalformed        Outcome = "malformed"
	OutcomeGenerationFailed Outcome = "generation_failed"
	OutcomeDeliveryFailed   Outcome = "delivery_failed"
	OutcomeDuplicate        Outcome = "duplicate"
)

// WorkerStats is the snapshot served by the status endpoint.
type WorkerStats struct {
	State         string `json:"state"`
	PubSubSystem  string `json:"pubsub_system"`
	RequestQueue  string `json:"request_queue"`
	ResponseQueue string `json:"response_queue"`
	AckMode       string `json:"ack_mode"`

	MessagesReceived  uint64    `json:"messages_received"`
	MessagesPublished uint64    `json:"messages_published"`
	MessagesDropped   uint64    `json:"messages_dropped"`
	MessagesDuplicate uint64    `json:"messages_duplicate"`
	LastProcessedAt   time.Time `json:"last_processed_at"`
	TotalProcessingNs int64     `json:"total_processing_time_ns"`

	Latency      LatencyMetrics     `json:"latency"`
	Throughput   ThroughputMetrics  `json:"throughput"`
	Errors       ErrorBreakdown     `json:"errors"`
	Resource     ResourceUsage      `json:"resource"`
	Dependencies []DependencyHealth `json:"dependencies"`
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
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
}

type ErrorBreakdown struct {
	Malformed  uint64 `json:"malformed"`
	Generation uint64 `json:"generation"`
	Delivery   uint64 `json:"delivery"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type DependencyHealth struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Details     string    `json:"details,omitempty"`
}

const (
	DependencyStatusUnknown  = "unknown"
	DependencyStatusHealthy  = "healthy"
	DependencyStatusDegraded = "degraded"
)

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryMalformed  ErrorCategory = "malformed"
	ErrorCategoryGeneration ErrorCategory = "generation"
	ErrorCategoryDelivery   ErrorCategory = "delivery"
	ErrorCategoryOther      ErrorCategory = "other"
)

func classifyError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryNone
	case errspkg.IsMalformedPayload(err):
		return ErrorCategoryMalformed
	case errspkg.IsDelivery(err):
		return ErrorCategoryDelivery
	case errspkg.IsGeneration(err):
		return ErrorCategoryGeneration
	default:
		return ErrorCategoryOther
	}
}

func (e *ErrorBreakdown) Record(err error) {
	switch classifyError(err) {
	case ErrorCategoryNone:
		return
	case ErrorCategoryMalformed:
		e.Malformed++
	case ErrorCategoryGeneration:
		e.Generation++
	case ErrorCategoryDelivery:
		e.Delivery++
	default:
		e.Other++
	}
	e.LastError = err.Error()
}

// workerStats accumulates per-message results for the status endpoint.
type workerStats struct {
	mu sync.Mutex

	received  uint64
	published uint64
	dropped   uint64
	duplicate uint64
	lastAt    time.Time
	totalNs   int64

	latency      LatencyMetrics
	throughput   ThroughputMetrics
	errors       ErrorBreakdown
	dependencies []DependencyHealth
	depIndex     map[string]int

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	resources        *resourceTracker
}

func newWorkerStats(resources *resourceTracker, dependencies ...string) *workerStats {
	s := &workerStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		resources:        resources,
		depIndex:         make(map[string]int),
	}
	for _, name := range dependencies {
		s.setDependencyLocked(name, DependencyStatusUnknown, "")
	}
	return s
}

func (s *workerStats) onReceive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
}

func (s *workerStats) onFinish(outcome Outcome, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch outcome {
	case OutcomePublished:
		s.published++
	case OutcomeDuplicate:
		s.duplicate++
	case OutcomeMalformed, OutcomeGenerationFailed:
		s.dropped++
	}
	s.errors.Record(err)

	now := time.Now()
	s.lastAt = now.UTC()
	s.totalNs += int64(duration)

	s.latencyWindow.Add(duration)
	s.latency = s.latencyWindow.Snapshot()

	snap := s.throughputWindow.AddAndSnapshot(now)
	s.throughput = ThroughputMetrics{
		CurrentRPS:       snap.CurrentRPS,
		WindowSeconds:    snap.WindowSeconds,
		MessagesInWindow: uint64(snap.Count),
	}
}

// setDependency records the last observed health of a collaborator such as
// "publisher:sicken-responses" or "gateway".
func (s *workerStats) setDependency(name, status, details string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setDependencyLocked(name, status, details)
}

func (s *workerStats) setDependencyLocked(name, status, details string) {
	if name == "" {
		return
	}
	idx, ok := s.depIndex[name]
	if !ok {
		s.dependencies = append(s.dependencies, DependencyHealth{Name: name})
		idx = len(s.dependencies) - 1
		s.depIndex[name] = idx
	}
	dep := s.dependencies[idx]
	dep.Status = status
	dep.Details = details
	if status != DependencyStatusUnknown {
		dep.LastChecked = time.Now().UTC()
	}
	s.dependencies[idx] = dep
}

// snapshot fills the counters of base; the caller sets identity fields.
func (s *workerStats) snapshot(base WorkerStats) WorkerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	base.MessagesReceived = s.received
	base.MessagesPublished = s.published
	base.MessagesDropped = s.dropped
	base.MessagesDuplicate = s.duplicate
	base.LastProcessedAt = s.lastAt
	base.TotalProcessingNs = s.totalNs
	base.Latency = s.latency
	base.Throughput = s.throughput
	base.Errors = s.errors
	base.Dependencies = slices.Clone(s.dependencies)
	base.Resource = s.resources.Snapshot()
	return base
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
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var m LatencyMetrics
	if lw == nil {
		return m
	}
	m.LastNs = lw.last
	if lw.filled == 0 {
		return m
	}

	// the ring holds the newest filled samples ending at next-1
	samples := make([]int64, 0, lw.filled)
	for i := lw.filled; i > 0; i-- {
		idx := (lw.next - i + len(lw.samples)) % len(lw.samples)
		samples = append(samples, lw.samples[idx])
	}
	slices.Sort(samples)

	var sum int64
	for _, v := range samples {
		sum += v
	}
	m.SampleSize = lw.filled
	m.AverageNs = sum / int64(len(samples))
	m.P50Ns = percentile(samples, 0.50)
	m.P95Ns = percentile(samples, 0.95)
	m.P99Ns = percentile(samples, 0.99)
	return m
}

// percentile interpolates linearly between the closest ranks of sorted samples.
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
	return &throughputWindow{horizon: horizon}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	drop := 0
	for drop < len(tw.samples) && tw.samples[drop].Before(cutoff) {
		drop++
	}
	tw.samples = slices.Delete(tw.samples, 0, drop)

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}

// errorDetails keeps dependency details short and free of nested payloads.
func errorDetails(err error) string {
	if err == nil {
		return ""
	}
	var deliveryErr *errspkg.DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.Err != nil {
		return deliveryErr.Err.Error()
	}
	return err.Error()
}
