// Package metric holds the musical-time primitives shared by the trigger
// queue, the engine and the metronome: frame-accurate time, tempo, time
// signature and the part/solo selection model.
package metric

import "math"

// FrameTime is a signed count of stereo frames. Negative values denote
// pre-roll before musical time zero.
type FrameTime int64

// Millis converts to milliseconds at the given sample rate.
func (t FrameTime) Millis(sampleRate int) float64 {
	return float64(t) * 1000 / float64(sampleRate)
}

// FrameTimeFromMillis converts milliseconds to FrameTime at the given sample rate.
func FrameTimeFromMillis(ms float64, sampleRate int) FrameTime {
	return FrameTime(math.Round(ms * float64(sampleRate) / 1000))
}

// Tempo is stored as micro-BPM so equality/ordering are exact integer
// comparisons regardless of how the value was derived.
type Tempo int64

// NewTempo builds a Tempo from a BPM float.
func NewTempo(bpm float64) Tempo {
	return Tempo(math.Round(bpm * 1e6))
}

// BPM returns the tempo as beats per minute.
func (t Tempo) BPM() float64 {
	return float64(t) / 1e6
}

// SamplesPerBeat returns round(sample_rate * 60 / bpm).
func (t Tempo) SamplesPerBeat(sampleRate int) int64 {
	bpm := t.BPM()
	if bpm <= 0 {
		return 0
	}
	return int64(math.Round(float64(sampleRate) * 60 / bpm))
}

// TimeSignature is (upper, lower) where lower must be a power of two >= 1.
type TimeSignature struct {
	Upper int
	Lower int
}

// BeatOfMeasure computes beat mod upper using Euclidean remainder so
// negative beats normalize positively.
func (ts TimeSignature) BeatOfMeasure(beat int64) int64 {
	u := int64(ts.Upper)
	if u <= 0 {
		return 0
	}
	r := beat % u
	if r < 0 {
		r += u
	}
	return r
}

// MetricStructure pairs a tempo with a time signature. Values are immutable;
// "changing" one means replacing the struct.
type MetricStructure struct {
	Tempo         Tempo
	TimeSignature TimeSignature
}

// SamplesPerBeat is a convenience forward to Tempo.SamplesPerBeat.
func (m MetricStructure) SamplesPerBeat(sampleRate int) int64 {
	return m.Tempo.SamplesPerBeat(sampleRate)
}

// MeasureLen returns samples-per-beat * upper, i.e. the length of one measure.
func (m MetricStructure) MeasureLen(sampleRate int) int64 {
	return m.SamplesPerBeat(sampleRate) * int64(m.TimeSignature.Upper)
}

// Beat returns the beat index (floor division) that contains frame t.
func (m MetricStructure) Beat(t FrameTime, sampleRate int) int64 {
	spb := m.SamplesPerBeat(sampleRate)
	if spb <= 0 {
		return 0
	}
	f := int64(t)
	q := f / spb
	if f%spb != 0 && (f < 0) != (spb < 0) {
		q--
	}
	return q
}

// Part selects one of four mutually exclusive song sections.
type Part int

const (
	PartA Part = iota
	PartB
	PartC
	PartD
)

// PartSet is a set of four independent booleans, one per Part.
type PartSet [4]bool

// IsEmpty reports whether no part is enabled.
func (s PartSet) IsEmpty() bool {
	return !s[PartA] && !s[PartB] && !s[PartC] && !s[PartD]
}

// SyncMode is the global quantization default.
type SyncMode int

const (
	SyncFree SyncMode = iota
	SyncBeat
	SyncMeasure
)

// EngineState is the transport state of the whole engine.
type EngineState int

const (
	EngineStopped EngineState = iota
	EnginePaused
	EngineActive
)
