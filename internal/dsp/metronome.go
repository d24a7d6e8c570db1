package dsp

import "github.com/loopforge/engine/internal/metric"

// samplePlayer is a one-shot reader over a click Sample.
type samplePlayer struct {
	sample *Sample
	cursor int
}

func (p *samplePlayer) done() bool {
	return p == nil || p.cursor >= p.sample.Len()
}

// render mixes up to len(out) frames of the click into out, scaled by gain,
// advancing the internal cursor. It never reads past the click's end.
func (p *samplePlayer) render(out []Frame, gain float32) {
	if p == nil {
		return
	}
	l, r := p.sample.Channel(0), p.sample.Channel(1)
	for i := range out {
		if p.cursor >= len(l) {
			return
		}
		out[i][0] += l[p.cursor] * gain
		out[i][1] += r[p.cursor] * gain
		p.cursor++
	}
}

// Metronome plays a one-shot click at each beat boundary, emphasizing
// beat-of-measure 0.
type Metronome struct {
	Structure  metric.MetricStructure
	SampleRate int
	Normal     *Sample
	Emphasis   *Sample
	Volume     float64

	time   metric.FrameTime
	player *samplePlayer
}

// NewMetronome builds a Metronome with the given click samples.
func NewMetronome(sampleRate int, structure metric.MetricStructure, normal, emphasis *Sample) *Metronome {
	return &Metronome{
		Structure:  structure,
		SampleRate: sampleRate,
		Normal:     normal,
		Emphasis:   emphasis,
		Volume:     1,
	}
}

// Time returns the metronome's current frame position.
func (m *Metronome) Time() metric.FrameTime { return m.time }

// SetTime repositions the metronome without arming a click.
func (m *Metronome) SetTime(t metric.FrameTime) { m.time = t }

// Reset sets time to 0 and arms an emphasis click so the downbeat at t=0
// sounds even though the beat never "changed" across the pre-roll boundary.
func (m *Metronome) Reset() {
	m.time = 0
	m.ArmEmphasis()
}

// ArmEmphasis starts an emphasis click on the next Advance without moving
// time. The engine uses it when the transport leaves Stopped: the count-in
// starts exactly on a beat, so Advance's boundary-crossing check alone would
// leave that first downbeat silent.
func (m *Metronome) ArmEmphasis() {
	m.player = &samplePlayer{sample: m.Emphasis}
}

// Advance mixes the in-flight click into out (scaled by Volume/2), advances
// time by len(out), and arms a new click if a beat boundary was crossed.
func (m *Metronome) Advance(out []Frame) {
	before := m.Structure.Beat(m.time, m.SampleRate)
	gain := float32(m.Volume / 2)
	if m.player != nil && !m.player.done() {
		m.player.render(out, gain)
	}
	m.time += metric.FrameTime(len(out))
	after := m.Structure.Beat(m.time, m.SampleRate)
	if after != before {
		if m.Structure.TimeSignature.BeatOfMeasure(after) == 0 {
			m.player = &samplePlayer{sample: m.Emphasis}
		} else {
			m.player = &samplePlayer{sample: m.Normal}
		}
	}
}
