package dsp

import (
	"testing"

	"github.com/loopforge/engine/internal/metric"
)

const testSampleRate = 44100

func fourFour120() metric.MetricStructure {
	return metric.MetricStructure{
		Tempo:         metric.NewTempo(120),
		TimeSignature: metric.TimeSignature{Upper: 4, Lower: 4},
	}
}

func TestMetronomeResetArmsEmphasisAtDownbeat(t *testing.T) {
	normal := WithSize(8)
	emphasis := WithSize(8)
	for i := 0; i < 8; i++ {
		normal.Channel(0)[i] = 0.1
		emphasis.Channel(0)[i] = 1.0
	}
	m := NewMetronome(testSampleRate, fourFour120(), normal, emphasis)
	m.Reset()

	out := make([]Frame, 8)
	m.Advance(out)
	// Reset arms the emphasis click so the downbeat at t=0 sounds even
	// though no beat boundary is crossed during the first Advance call.
	l, _ := out[0][0], out[0][1]
	if l <= 0.1 {
		t.Fatalf("expected emphasis click amplitude after Reset, got %f", l)
	}
}

func TestMetronomeArmsEmphasisOnMeasureDownbeat(t *testing.T) {
	normal := WithSize(4)
	emphasis := WithSize(4)
	for i := 0; i < 4; i++ {
		normal.Channel(0)[i] = 0.2
		emphasis.Channel(0)[i] = 0.9
	}
	structure := fourFour120()
	m := NewMetronome(testSampleRate, structure, normal, emphasis)

	samplesPerBeat := structure.SamplesPerBeat(testSampleRate)
	measure := samplesPerBeat * int64(structure.TimeSignature.Upper)

	// Position the metronome one sample before the next measure boundary.
	// Advance crosses the boundary mid-callback; the new click is armed for
	// the *next* Advance call, not heard within this one.
	m.SetTime(metric.FrameTime(measure - 1))
	m.Advance(make([]Frame, 2))

	out := make([]Frame, 2)
	m.Advance(out)
	// Advance scales the armed click by Volume/2; Volume defaults to 1.
	want := float32(0.9 * 0.5)
	if out[0][0] != want {
		t.Fatalf("expected emphasis click armed after crossing the measure boundary, got %f, want %f", out[0][0], want)
	}
}

func TestMetronomeArmsNormalOnNonDownbeat(t *testing.T) {
	normal := WithSize(4)
	emphasis := WithSize(4)
	for i := 0; i < 4; i++ {
		normal.Channel(0)[i] = 0.2
		emphasis.Channel(0)[i] = 0.9
	}
	structure := fourFour120()
	m := NewMetronome(testSampleRate, structure, normal, emphasis)
	spb := structure.SamplesPerBeat(testSampleRate)

	// Beat 1 (not beat-of-measure 0) boundary.
	m.SetTime(metric.FrameTime(spb - 1))
	m.Advance(make([]Frame, 2))

	out := make([]Frame, 2)
	m.Advance(out)
	want := float32(0.2 * 0.5)
	if out[0][0] != want {
		t.Fatalf("expected normal click armed after a non-downbeat boundary, got %f, want %f", out[0][0], want)
	}
}

func TestWaveformDownsamplerEmitsOnBinBoundary(t *testing.T) {
	var got []WaveformBin
	w := WaveformDownsampler{LooperID: 7, Emit: func(b WaveformBin) { got = append(got, b) }}

	frames := make([]Frame, WaveformDownsample)
	for i := range frames {
		frames[i] = Frame{0.3, -0.4}
	}
	w.Feed(frames, WaveformAddNew)

	if len(got) != 1 {
		t.Fatalf("expected exactly one bin emitted, got %d", len(got))
	}
	if got[0].LooperID != 7 || got[0].BinIndex != 0 {
		t.Fatalf("unexpected bin %+v", got[0])
	}
	if got[0].Peak < 0.4-1e-6 || got[0].Peak > 0.4+1e-6 {
		t.Fatalf("Peak = %f, want 0.4 (max abs across channels)", got[0].Peak)
	}
}

func TestWaveformDownsamplerResetClearsAccumulator(t *testing.T) {
	var got []WaveformBin
	w := WaveformDownsampler{Emit: func(b WaveformBin) { got = append(got, b) }}
	half := make([]Frame, WaveformDownsample/2)
	for i := range half {
		half[i] = Frame{1, 1}
	}
	w.Feed(half, WaveformAddNew)
	w.Reset()
	w.Feed(half, WaveformAddNew)
	if len(got) != 0 {
		t.Fatalf("expected no bin emitted after Reset split the accumulation, got %d", len(got))
	}
}
