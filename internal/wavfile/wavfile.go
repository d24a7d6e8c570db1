// Package wavfile encodes and decodes the per-take WAV files a session
// descriptor references, using the same go-audio/wav + go-audio/audio stack
// the rest of the corpus renders offline audio with.
package wavfile

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loopforge/engine/internal/dsp"
)

const (
	sampleRate  = 44100
	bitDepth    = 32
	numChannels = 2
	audioFormat = 3 // IEEE float
)

// Encode writes s to path as a stereo 32-bit float WAV file, 44100 Hz in
// the header regardless of the engine's live sample rate (the session
// descriptor records the engine's actual rate separately).
func Encode(path string, s *dsp.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavfile: create %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, numChannels, audioFormat)

	// Encoder.Write moves 32-bit samples as raw little-endian words, so an
	// IEEE-float file is written by handing it each float's bit pattern.
	// Decode reverses the same reinterpretation.
	l, r := s.Channel(0), s.Channel(1)
	data := make([]int, len(l)*numChannels)
	for i := range l {
		data[i*2] = int(int32(math.Float32bits(l[i])))
		data[i*2+1] = int(int32(math.Float32bits(r[i])))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: numChannels},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavfile: write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavfile: finalize %s: %w", path, err)
	}
	return nil
}

// Decode reads a WAV file previously written by Encode back into a Sample.
// Mono files are duplicated across both channels.
func Decode(path string) (*dsp.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	intBuf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %s: %w", path, err)
	}
	if dec.WavAudioFormat != audioFormat || dec.BitDepth != bitDepth {
		return nil, fmt.Errorf("wavfile: %s: format %d at %d bits, want IEEE float32", path, dec.WavAudioFormat, dec.BitDepth)
	}

	chans := int(dec.NumChans)
	if chans < 1 {
		chans = 1
	}
	n := len(intBuf.Data) / chans
	s := dsp.WithSize(n)
	l, r := s.Channel(0), s.Channel(1)
	for i := 0; i < n; i++ {
		base := i * chans
		// The decoder returns each 32-bit sample as the raw little-endian
		// word widened to int, so for IEEE-float data the int32 holds the
		// float's bit pattern.
		lv := math.Float32frombits(uint32(int32(intBuf.Data[base])))
		rv := lv
		if chans > 1 {
			rv = math.Float32frombits(uint32(int32(intBuf.Data[base+1])))
		}
		l[i] = lv
		r[i] = rv
	}
	return s, nil
}
