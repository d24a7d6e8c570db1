package looper

import (
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/loopforge/engine/internal/dsp"
	"github.com/loopforge/engine/internal/metric"
	"github.com/loopforge/engine/internal/wavfile"
)

// Shared is the state a Looper's Frontend (audio thread) and Backend (worker
// goroutine) both touch: the control channel, the two packet queues, and the
// two atomics the Frontend reads without round-tripping through the Backend.
type Shared struct {
	ID uint32

	Control chan ControlMessage
	InputQ  *PacketQueue
	OutputQ *PacketQueue

	mode   atomic.Int32
	length atomic.Int64
}

// NewShared allocates a Shared for looper id.
func NewShared(id uint32) *Shared {
	return &Shared{
		ID:      id,
		Control: make(chan ControlMessage, 1000),
		InputQ:  NewPacketQueue(),
		OutputQ: NewPacketQueue(),
	}
}

// Mode reads the looper's current mode without touching the Backend goroutine.
func (s *Shared) Mode() Mode { return Mode(s.mode.Load()) }

// Length reads the looper's current loop length in frames.
func (s *Shared) Length() int64 { return s.length.Load() }

// Backend owns every take buffer and runs on its own goroutine, consuming
// ControlMessages sent by the Frontend. It never touches anything the
// Frontend reads except through Shared's two atomics and the two packet
// queues, so there is no lock between the audio thread and this one.
type Backend struct {
	shared *Shared
	gui    chan<- GUIEvent

	modeLocal Mode
	speed     Speed
	pan       float64
	level     float64
	parts     metric.PartSet

	takes     []*dsp.Sample
	offset    int64
	offsetSet bool
	inTime    int64
	outTime   int64

	preRoll        *dsp.Sample
	preRollCounter int64

	xfadeSamplesLeft int

	undoStack []change
	redoStack []change

	waveform     dsp.WaveformDownsampler
	nextOutputID uint32
}

// NewBackend constructs a Backend for shared, idle and empty. gui may be nil.
func NewBackend(shared *Shared, gui chan<- GUIEvent) *Backend {
	b := &Backend{
		shared:  shared,
		gui:     gui,
		speed:   SpeedOne,
		level:   1,
		parts:   metric.PartSet{true, true, true, true},
		preRoll: dsp.WithSize(CrossFadeSamples),
	}
	b.waveform.LooperID = shared.ID
	b.waveform.Emit = func(bin dsp.WaveformBin) { b.emit(WaveformEvent{Bin: bin}) }
	b.setModeNoHooks(ModePlaying)
	return b
}

func (b *Backend) emit(e GUIEvent) {
	if b.gui == nil {
		return
	}
	select {
	case b.gui <- e:
	default:
	}
}

// Run drains Shared.Control until a Deleted or Shutdown message arrives. It
// is meant to be the body of its own goroutine.
func (b *Backend) Run() {
	for msg := range b.shared.Control {
		switch m := msg.(type) {
		case InputDataReady:
			b.drainInput()
		case TransitionTo:
			b.transitionTo(m.Mode)
		case SetTimeMsg:
			b.outTime = int64(m.Time)
		case ReadOutput:
			b.fillOutput()
		case Serialize:
			b.serialize(m.Dir, m.Reply)
		case Clear:
			b.clear()
		case SetSpeedMsg:
			b.speed = m.Speed
		case SetPanMsg:
			b.pan = m.Pan
		case SetLevelMsg:
			b.level = m.Level
		case SetPartsMsg:
			b.parts = m.Parts
		case Undo:
			b.undo()
		case Redo:
			b.redo()
		case LoadSnapshot:
			b.loadSnapshot(m)
		case StopOutput:
			// Frontend has already dropped its pending packet and flushed the
			// queues; nothing for the Backend side to do.
		case Deleted:
			return
		case Shutdown:
			return
		}
	}
}

// transitionTo runs the ordered transition-table hooks for leaving modeLocal
// and entering next, then commits next to the shared atomic.
func (b *Backend) transitionTo(next Mode) {
	cur := b.modeLocal
	if next == ModeOverdubbing && b.length() == 0 {
		next = ModeRecording
		b.emit(LogEvent{Level: "warn", Message: "coerced Overdub to Record on an empty looper"})
	}
	if cur == next {
		return
	}
	if cur == ModeRecording {
		b.finishRecording()
	}
	if cur == ModeRecording || cur == ModeOverdubbing {
		b.handleCrossfades(cur)
	}
	if next == ModeOverdubbing && cur != ModeOverdubbing {
		b.prepareForOverdubbing()
	}
	if next == ModeRecording {
		b.prepareForRecording()
	}
	b.setMode(next)
}

func (b *Backend) length() int64 { return b.shared.length.Load() }

func (b *Backend) recomputeLength() {
	if len(b.takes) == 0 {
		b.shared.length.Store(0)
		return
	}
	b.shared.length.Store(int64(b.takes[0].Len()))
}

func (b *Backend) setMode(m Mode) { b.setModeNoHooks(m) }

func (b *Backend) setModeNoHooks(m Mode) {
	b.modeLocal = m
	b.shared.mode.Store(int32(m))
}

// finishRecording closes the active take's length and leaves an unClearChange
// on the undo stack, so undoing a just-finished recording clears the looper.
func (b *Backend) finishRecording() {
	b.outTime = b.inTime
	b.recomputeLength()
	b.pushUndo(unClearChange{})
}

// handleCrossfades blends the captured pre-roll into the tail of the first
// take when a recording just ended, and arms the post-record OUT-direction
// fade that handleInput applies over the first CrossFadeSamples frames of
// the take as live input arrives.
func (b *Backend) handleCrossfades(from Mode) {
	if from == ModeRecording && len(b.takes) > 0 {
		take := b.takes[0]
		n := CrossFadeSamples
		if n > take.Len() {
			n = take.Len()
		}
		if n > 0 && b.preRollCounter >= int64(n) {
			pre := b.preRoll.OrderedFrom(b.preRollCounter-int64(n), n)
			take.XFade(n, 0, int64(take.Len()-n), pre, dsp.XFadeIn, dsp.EqualPowerCurve)
		}
	}
	b.xfadeSamplesLeft = CrossFadeSamples
}

func (b *Backend) prepareForOverdubbing() {
	nt := dsp.WithSize(int(b.length()))
	b.takes = append(b.takes, nt)
	b.pushUndo(pushSample{})
	b.waveform.Reset()
}

func (b *Backend) prepareForRecording() {
	b.takes = []*dsp.Sample{dsp.New()}
	b.offset = 0
	b.offsetSet = false
	b.inTime = 0
	b.outTime = 0
	b.recomputeLength()
	b.waveform.Reset()
}

// handleInput routes one packet's worth of input frames at logical time t
// according to the current mode.
func (b *Backend) handleInput(t int64, frames []dsp.Frame) {
	switch b.modeLocal {
	case ModeOverdubbing:
		length := b.length()
		if length == 0 || len(b.takes) == 0 {
			return
		}
		loopIdx := wrapI64(t-b.offset, length)
		newest := b.takes[len(b.takes)-1]
		newest.Overdub(loopIdx, frames)
		summed := make([]dsp.Frame, len(frames))
		for _, take := range b.takes {
			take.Sum(loopIdx, summed)
		}
		b.waveform.Feed(summed, dsp.WaveformAddOverdub)
	case ModeRecording:
		if !b.offsetSet && hasSignal(frames) {
			b.offset = t
			b.offsetSet = true
		}
		if len(b.takes) == 0 {
			b.takes = []*dsp.Sample{dsp.New()}
		}
		b.takes[0].Record(frames)
		b.recomputeLength()
		b.inTime = t + int64(len(frames))
		b.waveform.Feed(frames, dsp.WaveformAddNew)
	default:
		b.preRoll.Replace(b.preRollCounter, frames)
		b.preRollCounter += int64(len(frames))
		if b.xfadeSamplesLeft > 0 && len(b.takes) > 0 {
			n := len(frames)
			if n > b.xfadeSamplesLeft {
				n = b.xfadeSamplesLeft
			}
			phase := CrossFadeSamples - b.xfadeSamplesLeft
			b.takes[0].XFade(CrossFadeSamples, phase, int64(phase), frames[:n], dsp.XFadeOut, dsp.EqualPowerCurve)
			b.xfadeSamplesLeft -= n
		}
	}
}

func hasSignal(frames []dsp.Frame) bool {
	for _, f := range frames {
		if f[0] != 0 || f[1] != 0 {
			return true
		}
	}
	return false
}

func wrapI64(t, n int64) int64 {
	if n == 0 {
		return 0
	}
	r := t % n
	if r < 0 {
		r += n
	}
	return r
}

func (b *Backend) drainInput() {
	for {
		pkt, ok := b.shared.InputQ.TryPop()
		if !ok {
			return
		}
		b.handleInput(pkt.Time, pkt.Data[:pkt.Size])
	}
}

// fillOutput renders packets until the output queue is at least half full
// or playback can't proceed (zero length, or Recording, where the Frontend
// draws silence instead).
func (b *Backend) fillOutput() {
	for {
		length := b.length()
		if length == 0 || b.modeLocal == ModeRecording || len(b.takes) == 0 {
			return
		}
		if b.shared.OutputQ.Len()*2 >= b.shared.OutputQ.Capacity() {
			return
		}
		n := PacketFrames
		var pkt Packet
		pkt.ID = b.nextOutputID
		pkt.Time = b.outTime
		pkt.Size = uint16(n)
		for i := 0; i < n; i++ {
			idx := speedIndex(b.outTime+int64(i), b.offset, length, b.speed)
			var l, r float32
			for _, take := range b.takes {
				tl, tr := take.At(idx)
				l += tl
				r += tr
			}
			pkt.Data[i] = dsp.Frame{l, r}
		}
		if !b.shared.OutputQ.TryPush(pkt) {
			return
		}
		b.nextOutputID++
		b.outTime += int64(n)
	}
}

func speedIndex(t, offset, length int64, speed Speed) int64 {
	diff := t - offset
	var scaled int64
	switch speed {
	case SpeedHalf:
		scaled = diff / 2
	case SpeedDouble:
		scaled = diff * 2
	default:
		scaled = diff
	}
	return wrapI64(scaled, length)
}

func (b *Backend) pushUndo(c change) {
	b.undoStack = append(b.undoStack, c)
	b.redoStack = b.redoStack[:0]
}

// Undo pops the most recent change, applies its inverse, and pushes the
// result onto the redo stack.
func (b *Backend) undo() {
	if len(b.undoStack) == 0 {
		return
	}
	c := b.undoStack[len(b.undoStack)-1]
	b.undoStack = b.undoStack[:len(b.undoStack)-1]
	b.redoStack = append(b.redoStack, c.applyInverse(b))
}

// Redo pops the most recent undone change, applies its inverse, and pushes
// the result back onto the undo stack.
func (b *Backend) redo() {
	if len(b.redoStack) == 0 {
		return
	}
	c := b.redoStack[len(b.redoStack)-1]
	b.redoStack = b.redoStack[:len(b.redoStack)-1]
	b.undoStack = append(b.undoStack, c.applyInverse(b))
}

// HasUndos reports whether Undo would do anything.
func (b *Backend) HasUndos() bool { return len(b.undoStack) > 0 }

// HasRedos reports whether Redo would do anything.
func (b *Backend) HasRedos() bool { return len(b.redoStack) > 0 }

func (b *Backend) clear() {
	snap := clearChange{takes: b.takes, inTime: b.inTime, outTime: b.outTime, offset: b.offset}
	b.pushUndo(snap)
	b.takes = nil
	b.inTime, b.outTime, b.offset = 0, 0, 0
	b.recomputeLength()
	b.setModeNoHooks(ModePlaying)
	b.emit(ClearLooperEvent{LooperID: b.shared.ID})
}

// loadSnapshot installs takes restored from a previous session. It bypasses
// the normal record/overdub path entirely, so undo/redo history starts
// empty rather than carrying a synthetic "restore" entry.
func (b *Backend) loadSnapshot(m LoadSnapshot) {
	b.takes = m.Takes
	b.offset = m.Offset
	b.offsetSet = true
	b.parts = m.Parts
	b.speed = m.Speed
	b.pan = m.Pan
	b.level = m.Level
	b.inTime, b.outTime = 0, 0
	b.undoStack, b.redoStack = nil, nil
	b.recomputeLength()
	b.setModeNoHooks(ModePlaying)
}

func (b *Backend) serialize(dir string, reply chan<- SavedLooper) {
	saved := SavedLooper{
		ID:            b.shared.ID,
		Mode:          b.modeLocal,
		Parts:         b.parts,
		Speed:         b.speed,
		Pan:           b.pan,
		Level:         b.level,
		OffsetSamples: b.offset,
	}
	for i, take := range b.takes {
		name := fmt.Sprintf("loop_%d_%d.wav", b.shared.ID, i)
		if err := wavfile.Encode(filepath.Join(dir, name), take); err != nil {
			b.emit(LogEvent{Level: "error", Message: fmt.Sprintf("looper %d take %d: %v", b.shared.ID, i, err)})
			continue
		}
		saved.Samples = append(saved.Samples, name)
	}
	reply <- saved
}
