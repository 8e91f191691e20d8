package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
	"github.com/GoSim-25-26J-441/simkernel/internal/engine"
	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
)

const namespace = "simkernel"

// Kernel holds the Prometheus collectors describing one engine.
type Kernel struct {
	ActorsCreated        prometheus.Counter
	ActorsTerminated     *prometheus.CounterVec
	ActorsAlive          prometheus.Gauge
	ActivitiesStarted    *prometheus.CounterVec
	ActivitiesCompleted  *prometheus.CounterVec
	ActivityDuration     *prometheus.HistogramVec
	ResourceStateChanges *prometheus.CounterVec
	SimulatedClock       prometheus.Gauge
}

// NewKernel creates the kernel collectors and registers them with reg. The
// constant labels distinguish the runs sharing a registry.
func NewKernel(reg prometheus.Registerer, constLabels prometheus.Labels) (*Kernel, error) {
	k := &Kernel{
		ActorsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "actors_created_total",
			Help:        "Actors spawned.",
			ConstLabels: constLabels,
		}),
		ActorsTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "actors_terminated_total",
			Help:        "Actors terminated, by failure flag.",
			ConstLabels: constLabels,
		}, []string{"failed"}),
		ActorsAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "actors_alive",
			Help:        "Actors created and not terminated yet.",
			ConstLabels: constLabels,
		}),
		ActivitiesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "activities_started_total",
			Help:        "Activities started, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		ActivitiesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "activities_completed_total",
			Help:        "Activities that reached a terminal state, by kind and state.",
			ConstLabels: constLabels,
		}, []string{"kind", "state"}),
		ActivityDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "activity_duration_seconds",
			Help:        "Simulated time between start and end of finished activities.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1e-3, 10, 8),
		}, []string{"kind"}),
		ResourceStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "resource_state_changes_total",
			Help:        "Resources turned on or off.",
			ConstLabels: constLabels,
		}, []string{"resource", "state"}),
		SimulatedClock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "simulated_clock_seconds",
			Help:        "Current simulated date.",
			ConstLabels: constLabels,
		}),
	}

	var errs error
	for _, c := range []prometheus.Collector{
		k.ActorsCreated, k.ActorsTerminated, k.ActorsAlive,
		k.ActivitiesStarted, k.ActivitiesCompleted, k.ActivityDuration,
		k.ResourceStateChanges, k.SimulatedClock,
	} {
		errs = multierr.Append(errs, reg.Register(c))
	}
	if errs != nil {
		return nil, errs
	}
	return k, nil
}

// Observer feeds a Collector and, optionally, the Prometheus collectors from
// the signals of an engine.
type Observer struct {
	collector *Collector
	kernel    *Kernel
	alive     int
	now       float64
	born      map[*engine.Actor]float64
}

// NewObserver creates an observer. kernel may be nil.
func NewObserver(collector *Collector, kernel *Kernel) *Observer {
	if collector == nil {
		collector = NewCollector()
	}
	return &Observer{
		collector: collector,
		kernel:    kernel,
		born:      make(map[*engine.Actor]float64),
	}
}

// Collector returns the time series store of the observer.
func (o *Observer) Collector() *Collector { return o.collector }

// Subscribe implements engine.Observer.
func (o *Observer) Subscribe(s *engine.Signals) {
	s.SubscribeActorCreated(o.actorCreated)
	s.SubscribeActorTerminated(o.actorTerminated)
	s.SubscribeActivityStarted(o.activityStarted)
	s.SubscribeActivityCompleted(o.activityCompleted)
	s.SubscribeResourceStateChanged(o.resourceStateChanged)
	s.SubscribeClockAdvanced(o.clockAdvanced)
}

func (o *Observer) actorCreated(a *engine.Actor) {
	o.alive++
	o.born[a] = a.Now()
	o.collector.Record(MetricActorsAlive, float64(o.alive), a.Now(), nil)
	if o.kernel != nil {
		o.kernel.ActorsCreated.Inc()
		o.kernel.ActorsAlive.Inc()
	}
}

func (o *Observer) actorTerminated(a *engine.Actor) {
	o.alive--
	now := a.Now()
	o.collector.Record(MetricActorsAlive, float64(o.alive), now, nil)
	if born, ok := o.born[a]; ok {
		o.collector.Record(MetricActorLifetime, now-born, now, HostLabels(a.Host().Name()))
		delete(o.born, a)
	}
	if o.kernel != nil {
		o.kernel.ActorsTerminated.WithLabelValues(strconv.FormatBool(a.Failed())).Inc()
		o.kernel.ActorsAlive.Dec()
	}
}

func (o *Observer) activityStarted(act activity.Activity) {
	if o.kernel != nil {
		o.kernel.ActivitiesStarted.WithLabelValues(act.Kind().String()).Inc()
	}
}

func (o *Observer) activityCompleted(act activity.Activity) {
	kind, state := act.Kind().String(), act.State().String()
	if act.State() == activity.Finished {
		d := act.FinishTime() - act.StartTime()
		o.collector.Record(MetricActivityDuration, d, act.FinishTime(), KindLabels(kind, state))
		if o.kernel != nil {
			o.kernel.ActivityDuration.WithLabelValues(kind).Observe(d)
		}
	}
	if o.kernel != nil {
		o.kernel.ActivitiesCompleted.WithLabelValues(kind, state).Inc()
	}
}

func (o *Observer) resourceStateChanged(r resource.Resource) {
	value, state := 0.0, "off"
	if r.IsOn() {
		value, state = 1, "on"
	}
	o.collector.Record(MetricResourceState, value, o.now, ResourceLabels(r.Name()))
	if o.kernel != nil {
		o.kernel.ResourceStateChanges.WithLabelValues(r.Name(), state).Inc()
	}
}

func (o *Observer) clockAdvanced(date float64) {
	o.now = date
	if o.kernel != nil {
		o.kernel.SimulatedClock.Set(date)
	}
}
