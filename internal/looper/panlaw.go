package looper

import "math"

// PanLaw maps a pan value in [-1, 1] to independent left/right gain scalars.
type PanLaw func(pan float64) (left, right float64)

// neg45CenterScalar brings equal-power pan's -3.01dB center attenuation down
// to -4.5dB.
var neg45CenterScalar = math.Pow(10, -1.4897/20)

// Neg4_5dBPanLaw is an equal-power pan law with a -4.5dB center attenuation
// instead of the usual -3.01dB.
func Neg4_5dBPanLaw(pan float64) (left, right float64) {
	theta := (pan + 1) * math.Pi / 4
	return math.Cos(theta) * neg45CenterScalar, math.Sin(theta) * neg45CenterScalar
}

// LinearPanLaw is a simple linear crossfade with no center dip compensation.
func LinearPanLaw(pan float64) (left, right float64) {
	return (1 - pan) / 2, (1 + pan) / 2
}
