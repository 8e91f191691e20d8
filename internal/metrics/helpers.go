package metrics

import (
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// Common metric names
const (
	MetricActivityDuration = "activity_duration_s"
	MetricActorsAlive      = "actors_alive"
	MetricActorLifetime    = "actor_lifetime_s"
	MetricResourceState    = "resource_state"
)

// KindLabels creates a labels map for an activity kind and terminal state
func KindLabels(kind, state string) map[string]string {
	return map[string]string{
		"kind":  kind,
		"state": state,
	}
}

// HostLabels creates a labels map for a host
func HostLabels(host string) map[string]string {
	return map[string]string{
		"host": host,
	}
}

// ResourceLabels creates a labels map for a resource
func ResourceLabels(resource string) map[string]string {
	return map[string]string{
		"resource": resource,
	}
}

// Summaries aggregates every metric of the collector across its labels.
func Summaries(collector *Collector) map[string]utils.Summary {
	out := make(map[string]utils.Summary)
	for _, name := range collector.GetMetricNames() {
		if values := collector.Values(name); len(values) > 0 {
			out[name] = utils.Summarize(values)
		}
	}
	return out
}
