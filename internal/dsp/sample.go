// Package dsp implements the sample-buffer primitives a looper take is built
// from: record/overdub/replace and the equal-power crossfade used at loop
// seams, plus the metronome click player and the waveform downsampler that
// feeds the GUI's scrolling waveform view.
package dsp

import "math"

// Frame is one interleaved stereo sample pair.
type Frame [2]float32

// Sample is a two-channel audio buffer. The invariant channel[0].len ==
// channel[1].len holds for every exported constructor and mutator.
type Sample struct {
	ch [2][]float32
}

// New returns a zero-length Sample.
func New() *Sample {
	return &Sample{}
}

// WithSize returns a zero-filled Sample of length n frames.
func WithSize(n int) *Sample {
	return &Sample{ch: [2][]float32{make([]float32, n), make([]float32, n)}}
}

// FromMono builds a stereo Sample from a mono signal, halving amplitude on
// each channel so a later L+R sum does not clip relative to the source.
func FromMono(v []float32) *Sample {
	s := WithSize(len(v))
	for i, x := range v {
		h := x * 0.5
		s.ch[0][i] = h
		s.ch[1][i] = h
	}
	return s
}

// Len returns the frame count.
func (s *Sample) Len() int {
	return len(s.ch[0])
}

// Channel returns the raw buffer for channel c (0=left, 1=right). Callers
// must not change its length.
func (s *Sample) Channel(c int) []float32 {
	return s.ch[c]
}

// Record appends frames to the buffer, extending its length.
func (s *Sample) Record(inputs []Frame) {
	for _, f := range inputs {
		s.ch[0] = append(s.ch[0], f[0])
		s.ch[1] = append(s.ch[1], f[1])
	}
}

// Overdub additively writes inputs starting at loop position t, wrapping
// modulo the buffer length. Len() must already be > 0.
func (s *Sample) Overdub(t int64, inputs []Frame) {
	n := int64(s.Len())
	if n == 0 {
		panic("dsp: overdub on zero-length sample")
	}
	for i, f := range inputs {
		idx := wrapIndex(t+int64(i), n)
		s.ch[0][idx] += f[0]
		s.ch[1][idx] += f[1]
	}
}

// Replace destructively writes inputs starting at loop position t, wrapping
// modulo the buffer length.
func (s *Sample) Replace(t int64, inputs []Frame) {
	n := int64(s.Len())
	if n == 0 {
		panic("dsp: replace on zero-length sample")
	}
	for i, f := range inputs {
		idx := wrapIndex(t+int64(i), n)
		s.ch[0][idx] = f[0]
		s.ch[1][idx] = f[1]
	}
}

func wrapIndex(t, n int64) int64 {
	r := t % n
	if r < 0 {
		r += n
	}
	return r
}

// Direction selects which end of the crossfade window src occupies.
type Direction int

const (
	// XFadeIn ends the window at 100% src.
	XFadeIn Direction = iota
	// XFadeOut begins the window at 100% src.
	XFadeOut
)

// Curve shapes the 0..1 blend fraction used by XFade.
type Curve func(x float64) float64

// LinearCurve is the identity blend.
func LinearCurve(x float64) float64 { return x }

// EqualPowerCurve is x / sqrt(x^2 + (1-x)^2), which keeps summed power
// constant across the fade and avoids the amplitude dip a linear fade
// produces for uncorrelated sources at the loop seam.
func EqualPowerCurve(x float64) float64 {
	denom := math.Sqrt(x*x + (1-x)*(1-x))
	if denom == 0 {
		return 0
	}
	return x / denom
}

// XFade blends src into the buffer over a window of `window` frames, where
// phaseStart is src's starting position within that window (0..window) and
// writeStart is the buffer index (mod length) where src begins landing.
func (s *Sample) XFade(window int, phaseStart int, writeStart int64, src []Frame, direction Direction, curve Curve) {
	n := int64(s.Len())
	if n == 0 || window <= 0 {
		return
	}
	for i, f := range src {
		q := float64(phaseStart+i) / float64(window)
		if q < 0 {
			q = 0
		}
		if q > 1 {
			q = 1
		}
		idx := wrapIndex(writeStart+int64(i), n)
		var bufW, srcW float64
		switch direction {
		case XFadeIn:
			bufW, srcW = curve(1-q), curve(q)
		case XFadeOut:
			bufW, srcW = curve(q), curve(1-q)
		}
		s.ch[0][idx] = float32(float64(s.ch[0][idx])*bufW + float64(f[0])*srcW)
		s.ch[1][idx] = float32(float64(s.ch[1][idx])*bufW + float64(f[1])*srcW)
	}
}

// Sum mixes this sample into dst starting at loop position t (mod length),
// adding each channel. Used to sum multiple takes at playback.
func (s *Sample) Sum(t int64, dst []Frame) {
	n := int64(s.Len())
	if n == 0 {
		return
	}
	for i := range dst {
		idx := wrapIndex(t+int64(i), n)
		dst[i][0] += s.ch[0][idx]
		dst[i][1] += s.ch[1][idx]
	}
}
