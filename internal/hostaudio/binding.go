// Package hostaudio is the one concrete host binding this module ships so
// the engine is runnable end to end: it drives engine.Engine.Process from
// ebiten's pull-based audio callback.
//
// ebiten's audio package is output-only, so the stereo input the engine
// monitors and records from comes from an InputSource the caller supplies
// (a synthetic generator in tests/demos, or a real capture device behind a
// narrower binding this package doesn't attempt to provide).
package hostaudio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/loopforge/engine/internal/engine"
)

// InputSource supplies the stereo input the engine monitors/records,
// written as interleaved L,R pairs.
type InputSource interface {
	Read(frames [][2]float32)
}

// SilentInput is an InputSource that always yields silence, useful for a
// --no-gui / headless run with no capture device wired up.
type SilentInput struct{}

// Read zeroes every frame.
func (SilentInput) Read(frames [][2]float32) {
	for i := range frames {
		frames[i] = [2]float32{}
	}
}

// Binding drives one Engine from ebiten's audio context. Every ebiten
// stream (main, metronome, one per provisioned looper sidechain) pulls
// independently; only the main stream's Read actually advances the engine
// clock, so the others simply replay whatever the most recent Process call
// produced for them.
type Binding struct {
	mu sync.Mutex

	eng        *engine.Engine
	sampleRate int
	input      InputSource
	midi       func() []engine.MIDIEvent

	inL, inR       []float32
	outL, outR     []float32
	metroL, metroR []float32

	ctx         *ebitaudio.Context
	mainPlayer  *ebitaudio.Player
	metroPlayer *ebitaudio.Player

	sidePlayers map[uint32]*ebitaudio.Player
}

// New builds a Binding over eng. midi is polled once per main-stream Read
// for pending controller-change events (may be nil).
func New(eng *engine.Engine, sampleRate int, input InputSource, midi func() []engine.MIDIEvent) (*Binding, error) {
	if input == nil {
		input = SilentInput{}
	}
	ctx := ebitaudio.NewContext(sampleRate)
	b := &Binding{
		eng:         eng,
		sampleRate:  sampleRate,
		input:       input,
		midi:        midi,
		ctx:         ctx,
		sidePlayers: make(map[uint32]*ebitaudio.Player),
	}

	mainPlayer, err := ctx.NewPlayerF32(&pullReader{process: b.processMain})
	if err != nil {
		return nil, fmt.Errorf("hostaudio: main player: %w", err)
	}
	metroPlayer, err := ctx.NewPlayerF32(&pullReader{process: b.drainMetro})
	if err != nil {
		return nil, fmt.Errorf("hostaudio: metronome player: %w", err)
	}
	b.mainPlayer, b.metroPlayer = mainPlayer, metroPlayer
	return b, nil
}

// Start begins playback of the main mix and the metronome mix.
func (b *Binding) Start() {
	b.mainPlayer.Play()
	b.metroPlayer.Play()
}

// Stop halts both streams. Per-looper sidechain streams are torn down
// individually via RemoveLooperPort.
func (b *Binding) Stop() {
	b.mainPlayer.Pause()
	b.metroPlayer.Pause()
}

func ensureFrame32(buf []float32, n int) []float32 {
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	return buf[:n]
}

// processMain is the main stream's pull callback: it's the one place that
// actually calls Engine.Process, since ebiten guarantees the owning
// stream's Read calls are serialized.
func (b *Binding) processMain(dst []float32) {
	frames := len(dst) / 2
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inL = ensureFrame32(b.inL, frames)
	b.inR = ensureFrame32(b.inR, frames)
	inFrames := make([][2]float32, frames)
	b.input.Read(inFrames)
	for i, f := range inFrames {
		b.inL[i], b.inR[i] = f[0], f[1]
	}

	b.outL = ensureFrame32(b.outL, frames)
	b.outR = ensureFrame32(b.outR, frames)
	b.metroL = ensureFrame32(b.metroL, frames)
	b.metroR = ensureFrame32(b.metroR, frames)

	var midiEvents []engine.MIDIEvent
	if b.midi != nil {
		midiEvents = b.midi()
	}

	b.eng.Process(b.inL, b.inR, b.outL, b.outR, b.metroL, b.metroR, midiEvents)

	interleave(dst, b.outL, b.outR)
}

// drainMetro replays the metronome mix most recently produced by
// processMain. Since ebiten's two players are pulled from different
// goroutines at their own pace, this briefly serves stale (or silent, on
// the very first pull) data rather than blocking on the main stream.
func (b *Binding) drainMetro(dst []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	frames := len(dst) / 2
	l := ensureFrame32(nil, frames)
	r := ensureFrame32(nil, frames)
	n := len(b.metroL)
	if n > frames {
		n = frames
	}
	copy(l, b.metroL[:n])
	copy(r, b.metroR[:n])
	interleave(dst, l, r)
}

// interleave packs parallel L/R float32 buffers into dst as L,R,L,R,...;
// dst must have room for 2*len(l) values.
func interleave(dst, l, r []float32) {
	for i := range l {
		dst[i*2] = l[i]
		dst[i*2+1] = r[i]
	}
}

// AddLooperPort implements engine.HostPorts: it provisions an ebiten
// player reading that looper's own mixdown via Engine.OutputForLooper.
func (b *Binding) AddLooperPort(id uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sidePlayers[id]; ok {
		return nil
	}
	player, err := b.ctx.NewPlayerF32(&pullReader{process: func(dst []float32) {
		frames := len(dst) / 2
		l, r, ok := b.eng.OutputForLooper(id)
		if !ok || len(l) < frames {
			for i := 0; i < len(dst); i++ {
				dst[i] = 0
			}
			return
		}
		interleave(dst, l[:frames], r[:frames])
	}})
	if err != nil {
		return fmt.Errorf("hostaudio: looper %d port: %w", id, err)
	}
	b.sidePlayers[id] = player
	player.Play()
	return nil
}

// RemoveLooperPort implements engine.HostPorts.
func (b *Binding) RemoveLooperPort(id uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.sidePlayers[id]
	if !ok {
		return
	}
	p.Pause()
	p.Close()
	delete(b.sidePlayers, id)
}

// pullReader adapts a []float32-at-a-time process function to the io.Reader
// ebiten's NewPlayerF32 expects.
type pullReader struct {
	process func(dst []float32)
	buf     []float32
}

func (r *pullReader) Read(p []byte) (int, error) {
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	return frames * 8, nil
}

func (r *pullReader) Close() error { return nil }
