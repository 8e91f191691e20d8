// Package trace records what happened during a run, activity by activity and
// actor by actor, and exports it as YAML or JSON.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
	"github.com/GoSim-25-26J-441/simkernel/internal/engine"
	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
)

// ActorRecord is the lifetime of one actor.
type ActorRecord struct {
	PID     int64   `json:"pid" yaml:"pid"`
	Name    string  `json:"name" yaml:"name"`
	Host    string  `json:"host" yaml:"host"`
	Created float64 `json:"created" yaml:"created"`
	Ended   float64 `json:"ended" yaml:"ended"`
	Daemon  bool    `json:"daemon,omitempty" yaml:"daemon,omitempty"`
	Failed  bool    `json:"failed" yaml:"failed"`
	Error   string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// StateChange is a resource turning on or off.
type StateChange struct {
	Date     float64 `json:"date" yaml:"date"`
	Resource string  `json:"resource" yaml:"resource"`
	On       bool    `json:"on" yaml:"on"`
}

// Trace is the exported form of a run.
type Trace struct {
	RunID      string                  `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Activities []models.ActivityRecord `json:"activities" yaml:"activities"`
	Actors     []ActorRecord           `json:"actors" yaml:"actors"`
	Resources  []StateChange           `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Recorder builds a Trace from the signals of an engine. Snapshots may be
// taken from other goroutines while the run progresses.
type Recorder struct {
	runID      string
	activities models.ResultRecorder

	mu        sync.Mutex
	now       float64
	actors    []ActorRecord
	index     map[*engine.Actor]int
	resources []StateChange
}

// NewRecorder creates a recorder for the run runID.
func NewRecorder(runID string) *Recorder {
	return &Recorder{runID: runID, index: make(map[*engine.Actor]int)}
}

// Subscribe implements engine.Observer.
func (r *Recorder) Subscribe(s *engine.Signals) {
	s.SubscribeActorCreated(r.actorCreated)
	s.SubscribeActorTerminated(r.actorTerminated)
	s.SubscribeActivityCompleted(r.activityCompleted)
	s.SubscribeResourceStateChanged(r.resourceStateChanged)
	s.SubscribeClockAdvanced(func(date float64) {
		r.mu.Lock()
		r.now = date
		r.mu.Unlock()
	})
}

func (r *Recorder) actorCreated(a *engine.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index[a] = len(r.actors)
	r.actors = append(r.actors, ActorRecord{
		PID:     a.PID(),
		Name:    a.Name(),
		Host:    a.Host().Name(),
		Created: a.Now(),
		Ended:   -1,
		Daemon:  a.IsDaemon(),
	})
}

func (r *Recorder) actorTerminated(a *engine.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[a]
	if !ok {
		return
	}
	delete(r.index, a)
	rec := &r.actors[i]
	rec.Ended = a.Now()
	rec.Host = a.Host().Name()
	rec.Daemon = a.IsDaemon()
	rec.Failed = a.Failed()
	if err := a.Err(); err != nil {
		rec.Error = err.Error()
	}
}

func (r *Recorder) activityCompleted(act activity.Activity) {
	r.activities.Add(Record(act))
}

func (r *Recorder) resourceStateChanged(res resource.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = append(r.resources, StateChange{Date: r.now, Resource: res.Name(), On: res.IsOn()})
}

// Record snapshots a terminated activity.
func Record(act activity.Activity) models.ActivityRecord {
	rec := models.ActivityRecord{
		Name:       act.Name(),
		Kind:       act.Kind().String(),
		State:      act.State().String(),
		StartTime:  act.StartTime(),
		FinishTime: act.FinishTime(),
		Remaining:  act.Remaining(),
	}
	if a := engine.ActorOf(act); a != nil {
		rec.Actor = a.Name()
	}
	if err := act.Err(); err != nil && act.State() != activity.Finished {
		rec.Error = err.Error()
	}
	return rec
}

// Activities returns the activity records collected so far.
func (r *Recorder) Activities() []models.ActivityRecord { return r.activities.Records() }

// FinishDates returns the completion dates of the finished activities.
func (r *Recorder) FinishDates() []float64 { return r.activities.FinishDates() }

// Snapshot returns the trace collected so far.
func (r *Recorder) Snapshot() *Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Trace{
		RunID:      r.runID,
		Activities: r.activities.Records(),
		Actors:     append([]ActorRecord(nil), r.actors...),
		Resources:  append([]StateChange(nil), r.resources...),
	}
}

// Format is an export encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat accepts "yaml", "yml" and "json", case insensitive. An empty
// string means YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown trace format %q", s)
	}
}

// Marshal encodes the trace.
func (t *Trace) Marshal(f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(t, "", "  ")
	case FormatYAML:
		return yaml.Marshal(t)
	default:
		return nil, fmt.Errorf("unknown trace format %q", f)
	}
}

// Write encodes the trace to w.
func (t *Trace) Write(w io.Writer, f Format) error {
	data, err := t.Marshal(f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteToFile stores the trace in filename, encoded after its extension:
// .json for JSON, YAML otherwise.
func (t *Trace) WriteToFile(filename string) error {
	f, err := ParseFormat(strings.TrimPrefix(path.Ext(filename), "."))
	if err != nil {
		f = FormatYAML
	}
	data, err := t.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	return nil
}

// Read decodes a trace. JSON being valid YAML, one decoder reads both.
func Read(data []byte) (*Trace, error) {
	var t Trace
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse trace: %w", err)
	}
	return &t, nil
}
