package engine

import (
	"github.com/loopforge/engine/internal/looper"
	"github.com/loopforge/engine/internal/metric"
)

// Event is something the engine wants reflected in the GUI, either its own
// per-callback snapshot or a looper-originated GUIEvent relayed unchanged.
type Event interface{ isEngineEvent() }

type baseEvent struct{}

func (baseEvent) isEngineEvent() {}

// LogEvent is an engine-level diagnostic message (dropped trigger, failed
// port add, and so on), distinct from a looper's own LogEvent.
type LogEvent struct {
	baseEvent
	Level   string
	Message string
}

// Relayed wraps a looper.GUIEvent so it can travel on the engine's own Event
// stream alongside StateSnapshot without the GUI needing two channels.
type Relayed struct {
	baseEvent
	Inner looper.GUIEvent
}

// LooperPeek is one looper's worth of per-callback metering and mode state,
// as carried in a StateSnapshot.
type LooperPeek struct {
	ID   uint32
	Mode looper.Mode
	Peak float64 // IEC 60268-18 band, 0..100
}

// StateSnapshot is the single GUI event the engine emits once per callback,
// summarizing everything the GUI needs to redraw without polling.
type StateSnapshot struct {
	baseEvent
	State            metric.EngineState
	Time             metric.FrameTime
	Metric           metric.MetricStructure
	SyncMode         metric.SyncMode
	CurrentPart      metric.Part
	ActiveLooperID   uint32
	LooperCount      int
	Solo             bool
	InputPeakLeft    float64
	InputPeakRight   float64
	LooperPeaks      []LooperPeek
	MetronomeVolume  float64
}
