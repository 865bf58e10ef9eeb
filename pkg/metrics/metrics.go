// Package metrics keeps a process-local Prometheus registry behind a small
// name-based API. Families are created on first use; the label keys seen on
// that first call are fixed for the family.
package metrics

import (
	"bytes"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

type families struct {
	mu        sync.Mutex
	reg       *prometheus.Registry
	counters  map[string]*prometheus.CounterVec
	gauges    map[string]*prometheus.GaugeVec
	summaries map[string]*prometheus.SummaryVec
}

var std = newFamilies()

func newFamilies() *families {
	return &families{
		reg:       prometheus.NewRegistry(),
		counters:  map[string]*prometheus.CounterVec{},
		gauges:    map[string]*prometheus.GaugeVec{},
		summaries: map[string]*prometheus.SummaryVec{},
	}
}

func keys(labels map[string]string) []string {
	out := make([]string, 0, len(labels))
	for k := range labels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func norm(labels map[string]string) prometheus.Labels {
	if labels == nil {
		return prometheus.Labels{}
	}
	return prometheus.Labels(labels)
}

func (f *families) counter(name string, labels map[string]string) prometheus.Counter {
	f.mu.Lock()
	vec, ok := f.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, keys(labels))
		if err := f.reg.Register(vec); err != nil {
			f.mu.Unlock()
			return nil
		}
		f.counters[name] = vec
	}
	f.mu.Unlock()
	c, err := vec.GetMetricWith(norm(labels))
	if err != nil {
		return nil
	}
	return c
}

func (f *families) gauge(name string, labels map[string]string) prometheus.Gauge {
	f.mu.Lock()
	vec, ok := f.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, keys(labels))
		if err := f.reg.Register(vec); err != nil {
			f.mu.Unlock()
			return nil
		}
		f.gauges[name] = vec
	}
	f.mu.Unlock()
	g, err := vec.GetMetricWith(norm(labels))
	if err != nil {
		return nil
	}
	return g
}

func (f *families) summary(name string, labels map[string]string) prometheus.Observer {
	f.mu.Lock()
	vec, ok := f.summaries[name]
	if !ok {
		vec = prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       name,
			Help:       name,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, keys(labels))
		if err := f.reg.Register(vec); err != nil {
			f.mu.Unlock()
			return nil
		}
		f.summaries[name] = vec
	}
	f.mu.Unlock()
	o, err := vec.GetMetricWith(norm(labels))
	if err != nil {
		return nil
	}
	return o
}

// Inc adds one to a counter.
func Inc(name string, labels map[string]string) { Add(name, labels, 1) }

// Add adds v (>= 0) to a counter.
func Add(name string, labels map[string]string, v float64) {
	if c := std.counter(name, labels); c != nil && v >= 0 {
		c.Add(v)
	}
}

// ObserveSummary records a latency sample in milliseconds.
func ObserveSummary(name string, labels map[string]string, ms float64) {
	if o := std.summary(name, labels); o != nil {
		o.Observe(ms)
	}
}

func SetGauge(name string, labels map[string]string, v float64) {
	if g := std.gauge(name, labels); g != nil {
		g.Set(v)
	}
}

func AddGauge(name string, labels map[string]string, v float64) {
	if g := std.gauge(name, labels); g != nil {
		g.Add(v)
	}
}

// Value reads the current value of a counter or gauge; 0 when unknown.
func Value(name string, labels map[string]string) float64 {
	std.mu.Lock()
	cv, isCounter := std.counters[name]
	gv, isGauge := std.gauges[name]
	std.mu.Unlock()
	var m dto.Metric
	switch {
	case isCounter:
		c, err := cv.GetMetricWith(norm(labels))
		if err != nil || c.Write(&m) != nil {
			return 0
		}
		return m.GetCounter().GetValue()
	case isGauge:
		g, err := gv.GetMetricWith(norm(labels))
		if err != nil || g.Write(&m) != nil {
			return 0
		}
		return m.GetGauge().GetValue()
	}
	return 0
}

// Reset drops every family. Tests call it between cases.
func Reset() {
	f := newFamilies()
	std.mu.Lock()
	std.reg, std.counters, std.gauges, std.summaries = f.reg, f.counters, f.gauges, f.summaries
	std.mu.Unlock()
}

// DumpProm renders all families in the Prometheus text exposition format.
func DumpProm() string {
	std.mu.Lock()
	reg := std.reg
	std.mu.Unlock()
	mfs, err := reg.Gather()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return buf.String()
		}
	}
	return buf.String()
}

// Handler serves the registry for scraping.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		std.mu.Lock()
		reg := std.reg
		std.mu.Unlock()
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
