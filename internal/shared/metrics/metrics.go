package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	runStartedTotal    atomic.Uint64
	runCompletedTotal  atomic.Uint64
	runFailedTotal     atomic.Uint64
	sectionFailedTotal atomic.Uint64

	runDuration       = newHistogram([]float64{1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000})
	modelCallDuration = newHistogram([]float64{250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
)

// IncRunStarted increments the started counter.
func IncRunStarted() {
	runStartedTotal.Add(1)
}

// IncRunCompleted increments the completed counter.
func IncRunCompleted() {
	runCompletedTotal.Add(1)
}

// IncRunFailed increments the failed counter.
func IncRunFailed() {
	runFailedTotal.Add(1)
}

// IncSectionFailed increments the per-section failure counter.
func IncSectionFailed() {
	sectionFailedTotal.Add(1)
}

// ObserveRunDurationMs records a full run duration in milliseconds.
func ObserveRunDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	runDuration.Observe(value)
}

// ObserveModelCallDurationMs records one model call duration in milliseconds.
func ObserveModelCallDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	modelCallDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var b strings.Builder
	writeCounter(&b, "run_started_total", "Total generation runs started", runStartedTotal.Load())
	writeCounter(&b, "run_completed_total", "Total generation runs completed", runCompletedTotal.Load())
	writeCounter(&b, "run_failed_total", "Total generation runs failed", runFailedTotal.Load())
	writeCounter(&b, "section_failed_total", "Total section workers that failed", sectionFailedTotal.Load())
	writeHistogram(&b, "run_duration_ms", "Run duration in milliseconds", runDuration.Snapshot())
	writeHistogram(&b, "model_call_duration_ms", "Model call duration in milliseconds", modelCallDuration.Snapshot())
	return b.String()
}

// histogram stores one count per bucket; cumulation happens at render
// time so each observation lands in exactly one bucket.
type histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64
	sum    float64
	total  uint64
}

type histogramSnapshot struct {
	bounds     []float64
	cumulative []uint64
	sum        float64
	total      uint64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{
		bounds: bounds,
		counts: make([]uint64, len(bounds)),
	}
}

func (h *histogram) Observe(value float64) {
	idx := sort.SearchFloat64s(h.bounds, value)
	h.mu.Lock()
	if idx < len(h.counts) {
		h.counts[idx]++
	}
	h.sum += value
	h.total++
	h.mu.Unlock()
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	cumulative := make([]uint64, len(h.counts))
	var running uint64
	for i, c := range h.counts {
		running += c
		cumulative[i] = running
	}
	return histogramSnapshot{
		bounds:     append([]float64(nil), h.bounds...),
		cumulative: cumulative,
		sum:        h.sum,
		total:      h.total,
	}
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	fmt.Fprintf(b, "%s %d\n", name, value)
}

func writeHistogram(b *strings.Builder, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	for i, bound := range snap.bounds {
		fmt.Fprintf(b, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), snap.cumulative[i])
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.total)
	fmt.Fprintf(b, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(b, "%s_count %d\n", name, snap.total)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
