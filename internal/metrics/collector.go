// Package metrics records kernel lifecycle measurements: a time series store
// indexed by simulated date, and Prometheus collectors fed from the engine
// signals.
package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// Point is one sample of a metric at a simulated date.
type Point struct {
	Date   float64           `json:"date" yaml:"date"`
	Name   string            `json:"name" yaml:"name"`
	Value  float64           `json:"value" yaml:"value"`
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Collector collects time-series metrics during simulation
type Collector struct {
	mu sync.RWMutex

	// Time-series data: metric name -> labels -> []Point
	timeSeries map[string]map[string][]*Point

	// Aggregated data: metric name -> labels -> Summary
	aggregations map[string]map[string]utils.Summary
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		timeSeries:   make(map[string]map[string][]*Point),
		aggregations: make(map[string]map[string]utils.Summary),
	}
}

// Record records a metric value at a simulated date
func (c *Collector) Record(name string, value, date float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if c.timeSeries[name] == nil {
		c.timeSeries[name] = make(map[string][]*Point)
	}
	c.timeSeries[name][key] = append(c.timeSeries[name][key], &Point{
		Date:   date,
		Name:   name,
		Value:  value,
		Labels: copyLabels(labels),
	})
	if c.aggregations[name] != nil {
		delete(c.aggregations[name], key)
	}
}

// GetTimeSeries returns all time-series points for a metric
func (c *Collector) GetTimeSeries(name string, labels map[string]string) []*Point {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.getPointsUnsafe(name, labelKey(labels))
	if points == nil {
		return nil
	}

	// Return a copy
	result := make([]*Point, len(points))
	for i, p := range points {
		result[i] = &Point{
			Date:   p.Date,
			Name:   p.Name,
			Value:  p.Value,
			Labels: copyLabels(p.Labels),
		}
	}
	return result
}

// GetAggregation calculates aggregated statistics for a metric. ok is false
// when the metric has no point with these labels.
func (c *Collector) GetAggregation(name string, labels map[string]string) (utils.Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.getPointsUnsafe(name, labelKey(labels))
	if len(points) == 0 {
		return utils.Summary{}, false
	}
	return summarize(points), true
}

// GetOrComputeAggregation gets cached aggregation or computes it
func (c *Collector) GetOrComputeAggregation(name string, labels map[string]string) (utils.Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if c.aggregations[name] == nil {
		c.aggregations[name] = make(map[string]utils.Summary)
	}
	if agg, ok := c.aggregations[name][key]; ok {
		return agg, true
	}

	points := c.getPointsUnsafe(name, key)
	if len(points) == 0 {
		return utils.Summary{}, false
	}
	agg := summarize(points)
	c.aggregations[name][key] = agg
	return agg, true
}

// GetMetricNames returns all metric names that have been collected, sorted
func (c *Collector) GetMetricNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.timeSeries))
	for name := range c.timeSeries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetLabelsForMetric returns all label combinations for a metric
func (c *Collector) GetLabelsForMetric(name string) []map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.timeSeries[name] == nil {
		return nil
	}
	keys := make([]string, 0, len(c.timeSeries[name]))
	for key := range c.timeSeries[name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	labelsList := make([]map[string]string, 0, len(keys))
	for _, key := range keys {
		if points := c.timeSeries[name][key]; len(points) > 0 {
			labelsList = append(labelsList, copyLabels(points[0].Labels))
		}
	}
	return labelsList
}

// Values returns every value recorded for a metric, whatever its labels.
func (c *Collector) Values(name string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.timeSeries[name]))
	for key := range c.timeSeries[name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var values []float64
	for _, key := range keys {
		for _, p := range c.timeSeries[name][key] {
			values = append(values, p.Value)
		}
	}
	return values
}

// Clear clears all collected metrics
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timeSeries = make(map[string]map[string][]*Point)
	c.aggregations = make(map[string]map[string]utils.Summary)
}

// getPointsUnsafe returns points without locking (caller must hold lock)
func (c *Collector) getPointsUnsafe(name, key string) []*Point {
	if c.timeSeries[name] == nil {
		return nil
	}
	return c.timeSeries[name][key]
}

// labelKey creates a key from labels for map lookup
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

// copyLabels creates a copy of the labels map
func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func summarize(points []*Point) utils.Summary {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return utils.Summarize(values)
}
