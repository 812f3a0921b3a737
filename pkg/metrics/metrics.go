// Package metrics is a small Prometheus-compatible registry. It supports
// counters, gauges and histograms with optional labels and renders them in
// the Prometheus text exposition format.
package metrics

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are the default histogram buckets (in seconds).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

const (
	typeCounter   = "counter"
	typeGauge     = "gauge"
	typeHistogram = "histogram"
)

// Counter is a monotonically increasing counter.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge holds a float64 that can go up and down.
type Gauge struct{ bits atomic.Uint64 }

func (g *Gauge) Set(v float64)  { g.bits.Store(math.Float64bits(v)) }
func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

// Add adjusts the gauge by delta.
func (g *Gauge) Add(delta float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// SetToCurrentTime stores the current unix time in seconds.
func (g *Gauge) SetToCurrentTime() { g.Set(float64(time.Now().UnixNano()) / 1e9) }

// Histogram counts observations into fixed upper-bound buckets.
type Histogram struct {
	bounds []float64

	mu    sync.Mutex
	hits  []uint64 // per bucket, not cumulative
	total float64
	n     uint64
}

func newHistogram(bounds []float64) *Histogram {
	if bounds == nil {
		bounds = DefaultBuckets
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{bounds: sorted, hits: make([]uint64, len(sorted))}
}

// Observe adds v to the first bucket whose bound is >= v.
func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total += v
	h.n++
	if i < len(h.hits) {
		h.hits[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

func (h *Histogram) snapshot() (bounds []float64, hits []uint64, sum float64, count uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bounds, append([]uint64(nil), h.hits...), h.total, h.n
}

// family groups the series sharing a metric name.
type family struct {
	kind   string
	help   string
	series map[string]any // full name with labels -> *Counter, *Gauge or *Histogram
}

// Registry holds metric families in registration order. A name may carry
// labels (see WithLabels); each label set is its own series.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
	order    []string
}

func New() *Registry {
	return &Registry{families: map[string]*family{}}
}

// lookup returns the series called name, creating it with mk on first use.
func lookup[M any](r *Registry, kind, name, help string, mk func() M) M {
	fam := name
	if i := strings.IndexByte(name, '{'); i >= 0 {
		fam = name[:i]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[fam]
	if !ok {
		f = &family{kind: kind, series: map[string]any{}}
		r.families[fam] = f
		r.order = append(r.order, fam)
	}
	if help != "" {
		f.help = help
	}
	if m, ok := f.series[name].(M); ok {
		return m
	}
	m := mk()
	f.series[name] = m
	return m
}

// Counter returns the counter called name, creating it if needed.
func (r *Registry) Counter(name, help string) *Counter {
	return lookup(r, typeCounter, name, help, func() *Counter { return new(Counter) })
}

// Gauge returns the gauge called name, creating it if needed.
func (r *Registry) Gauge(name, help string) *Gauge {
	return lookup(r, typeGauge, name, help, func() *Gauge { return new(Gauge) })
}

// Histogram returns the histogram called name. buckets only matter on first
// use; nil means DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	return lookup(r, typeHistogram, name, help, func() *Histogram { return newHistogram(buckets) })
}

// WithLabels appends a label set to name: WithLabels("foo", "k", "v") is
// `foo{k="v"}`. Without pairs, or with an odd count, name is returned as is.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 == 1 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%s=%q", kvs[i], kvs[i+1]))
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// Render writes every family in the Prometheus text format, series sorted
// by name within a family.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range r.order {
		f := r.families[name]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.kind)

		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch m := f.series[k].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s %d\n", k, m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s %g\n", k, m.Value())
			case *Histogram:
				writeHistogram(&b, name, strings.TrimSuffix(strings.TrimPrefix(k[len(name):], "{"), "}"), m)
			}
		}
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, h *Histogram) {
	bounds, hits, sum, count := h.snapshot()
	bucketLabels := func(le string) string {
		if labels == "" {
			return `{le="` + le + `"}`
		}
		return `{le="` + le + `",` + labels + `}`
	}
	suffix := ""
	if labels != "" {
		suffix = "{" + labels + "}"
	}
	var running uint64
	for i, bound := range bounds {
		running += hits[i]
		fmt.Fprintf(b, "%s_bucket%s %d\n", name, bucketLabels(fmt.Sprintf("%g", bound)), running)
	}
	fmt.Fprintf(b, "%s_bucket%s %d\n", name, bucketLabels("+Inf"), count)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, count)
}

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Handler serves Render output.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, r.Render())
	})
}

// Mux routes /metrics to Handler and answers "ok" everywhere else.
func (r *Registry) Mux() *http.ServeMux {
	m := http.NewServeMux()
	m.Handle("GET /metrics", r.Handler())
	m.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok\n")
	})
	return m
}

// CollectRuntime samples goroutine and heap gauges every interval until
// ctx is done. It samples once before returning control to the ticker.
func (r *Registry) CollectRuntime(ctx context.Context, prefix string, interval time.Duration) {
	goroutines := r.Gauge(prefix+"_goroutines", "Number of live goroutines.")
	heap := r.Gauge(prefix+"_heap_alloc_bytes", "Bytes of allocated heap objects.")
	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(float64(runtime.NumGoroutine()))
		heap.Set(float64(ms.HeapAlloc))
	}
	sample()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sample()
			}
		}
	}()
}
