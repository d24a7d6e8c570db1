// Package trigger implements the engine's quantization primitive: a Trigger
// carries a deferred command with a fire_time computed from the musical
// clock, and Queue is the bounded FIFO of pending triggers consumed by
// the engine's processLoopers.
package trigger

import "github.com/loopforge/engine/internal/metric"

// Condition selects how a command's fire_time is quantized.
type Condition int

const (
	Immediate Condition = iota
	Beat
	Measure
)

// Command is an opaque deferred action; the engine package supplies concrete
// command values. It has no methods so any type can carry one.
type Command any

// Trigger is a deferred command with a computed fire time.
type Trigger struct {
	Condition      Condition
	Command        Command
	MetricSnapshot metric.MetricStructure
	StartTime      metric.FrameTime
	FireTime       metric.FrameTime
}

// New constructs a Trigger, computing FireTime from StartTime rounded up to
// the next matching boundary (or 0 if StartTime < 0, i.e. waiting for the
// downbeat of time zero).
func New(cond Condition, cmd Command, snapshot metric.MetricStructure, start metric.FrameTime, sampleRate int) Trigger {
	t := Trigger{
		Condition:      cond,
		Command:        cmd,
		MetricSnapshot: snapshot,
		StartTime:      start,
	}
	switch cond {
	case Immediate:
		t.FireTime = 0
	case Measure:
		period := snapshot.SamplesPerBeat(sampleRate) * int64(snapshot.TimeSignature.Upper)
		t.FireTime = roundUpToMultiple(start, period)
	case Beat:
		period := snapshot.SamplesPerBeat(sampleRate)
		t.FireTime = roundUpToMultiple(start, period)
	}
	return t
}

func roundUpToMultiple(start metric.FrameTime, period int64) metric.FrameTime {
	if start < 0 || period <= 0 {
		return 0
	}
	s := int64(start)
	r := s % period
	if r == 0 {
		return metric.FrameTime(s)
	}
	return metric.FrameTime(s + (period - r))
}

// Capacity is the trigger queue's bounded depth; the oldest pending trigger
// is dropped when a push would exceed it.
const Capacity = 128

// Queue is a bounded FIFO of pending Triggers.
type Queue struct {
	items []Trigger
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{items: make([]Trigger, 0, Capacity)}
}

// Push appends a trigger, dropping the oldest entry if the queue is full.
// It reports true if an entry was dropped.
func (q *Queue) Push(t Trigger) (dropped bool) {
	if len(q.items) >= Capacity {
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, t)
	return dropped
}

// Len returns the number of pending triggers.
func (q *Queue) Len() int { return len(q.items) }

// Peek returns the earliest-fire-time pending trigger without removing it.
func (q *Queue) Peek() (Trigger, bool) {
	if len(q.items) == 0 {
		return Trigger{}, false
	}
	best := 0
	for i := 1; i < len(q.items); i++ {
		if q.items[i].FireTime < q.items[best].FireTime {
			best = i
		}
	}
	return q.items[best], true
}

// PopEarliest removes and returns the earliest-fire-time pending trigger.
func (q *Queue) PopEarliest() (Trigger, bool) {
	if len(q.items) == 0 {
		return Trigger{}, false
	}
	best := 0
	for i := 1; i < len(q.items); i++ {
		if q.items[i].FireTime < q.items[best].FireTime {
			best = i
		}
	}
	t := q.items[best]
	q.items = append(q.items[:best], q.items[best+1:]...)
	return t, true
}

// Clear discards all pending triggers, e.g. on a transition to Stopped.
func (q *Queue) Clear() {
	q.items = q.items[:0]
}
