package looper

import (
	"github.com/loopforge/engine/internal/dsp"
	"github.com/loopforge/engine/internal/metric"
)

// outputSpinBudget bounds how many times ProcessOutput retries an empty
// output queue before falling back to silence for this frame.
const outputSpinBudget = 1000

// Frontend is the audio-thread-safe façade over a looper's Shared state. All
// of its methods are meant to be called from the single real-time callback;
// none allocate on the steady-state path and none block.
type Frontend struct {
	shared *Shared

	// GUI receives RerenderRequest notifications for commands the GUI can't
	// otherwise infer happened (Undo/Redo/SetSpeed). May be nil.
	GUI chan<- GUIEvent
	// OnDrop is called (non-blocking context: keep it cheap) whenever a
	// control message or input packet had to be dropped.
	OnDrop func(reason string)
	// OnUnderrun is called when ProcessOutput exhausts its spin budget and
	// falls back to silence.
	OnUnderrun func()

	parts metric.PartSet
	pan   float64
	level float64
	speed Speed

	nextInputID uint32

	pending     Packet
	pendingOff  int
	havePending bool
}

// NewFrontend constructs a Frontend over shared with all parts enabled,
// unity level, centered pan and normal speed.
func NewFrontend(shared *Shared) *Frontend {
	return &Frontend{
		shared: shared,
		parts:  metric.PartSet{true, true, true, true},
		level:  1,
		speed:  SpeedOne,
	}
}

func (f *Frontend) drop(reason string) {
	if f.OnDrop != nil {
		f.OnDrop(reason)
	}
}

func (f *Frontend) sendControl(m ControlMessage) {
	select {
	case f.shared.Control <- m:
	default:
		f.drop("control channel full")
	}
}

func (f *Frontend) requestRerender() {
	if f.GUI == nil {
		return
	}
	select {
	case f.GUI <- RerenderRequest{LooperID: f.shared.ID}:
	default:
	}
}

// ProcessInput slices inputs into PacketFrames-sized packets, zeroing them if
// currentPart is disabled for this looper, and forwards each to the Backend.
func (f *Frontend) ProcessInput(t int64, inputs []dsp.Frame, currentPart metric.Part) {
	gate := f.parts[currentPart]
	for off := 0; off < len(inputs); off += PacketFrames {
		end := off + PacketFrames
		if end > len(inputs) {
			end = len(inputs)
		}
		var pkt Packet
		pkt.ID = f.nextInputID
		pkt.Time = t + int64(off)
		pkt.Size = uint16(end - off)
		if gate {
			copy(pkt.Data[:pkt.Size], inputs[off:end])
		}
		f.nextInputID++
		if !f.shared.InputQ.TryPush(pkt) {
			f.drop("input queue full")
			continue
		}
		f.sendControl(InputDataReady{ID: pkt.ID, Size: int(pkt.Size)})
	}
}

// shouldOutput applies the part-gate and solo rules: a part-disabled looper
// never sounds, and when any looper is soloed only Soloed loopers sound.
func (f *Frontend) shouldOutput(mode Mode, currentPart metric.Part, anySoloed bool) bool {
	if !f.parts[currentPart] {
		return false
	}
	if anySoloed {
		return mode == ModeSoloed
	}
	return mode == ModePlaying || mode == ModeOverdubbing || mode == ModeSoloed
}

// ProcessOutput mixes this looper's next len(out) frames into out, applying
// panLaw and level, then requests the Backend keep the output queue filled.
func (f *Frontend) ProcessOutput(t int64, out []dsp.Frame, currentPart metric.Part, anySoloed bool, panLaw PanLaw) {
	mode := f.shared.Mode()
	should := f.shouldOutput(mode, currentPart, anySoloed)
	pl, pr := panLaw(f.pan)
	gl, gr := float32(pl*f.level), float32(pr*f.level)

	for i := range out {
		l, r, ok := f.nextOutputFrame(mode)
		if !ok || !should {
			continue
		}
		out[i][0] += l * gl
		out[i][1] += r * gr
	}
	f.sendControl(ReadOutput{Time: metric.FrameTime(t + int64(len(out)))})
}

func (f *Frontend) nextOutputFrame(mode Mode) (l, r float32, ok bool) {
	if !f.havePending {
		// No packet can be in flight while recording or before the first
		// take exists, so don't burn the spin budget waiting for one.
		if mode == ModeRecording || f.shared.Length() == 0 {
			return 0, 0, false
		}
		for spins := 0; ; spins++ {
			pkt, got := f.shared.OutputQ.TryPop()
			if got {
				f.pending = pkt
				f.pendingOff = 0
				f.havePending = true
				break
			}
			if spins >= outputSpinBudget {
				if f.OnUnderrun != nil {
					f.OnUnderrun()
				}
				return 0, 0, false
			}
		}
	}
	fr := f.pending.Data[f.pendingOff]
	f.pendingOff++
	if f.pendingOff >= int(f.pending.Size) {
		f.havePending = false
	}
	return fr[0], fr[1], true
}

func (f *Frontend) stopAndFlush() {
	f.sendControl(StopOutput{})
	f.shared.InputQ.Drain()
	f.shared.OutputQ.Drain()
	f.havePending = false
}

// nextRecordOverdubPlay picks the combined pedal action's next mode: an
// empty looper starts recording; a recording or already-playing looper
// layers an overdub; an overdubbing (or muted/soloed) looper drops back to
// plain playback. Recording only ever starts on an empty looper, so the
// pedal can never wipe existing takes.
func (f *Frontend) nextRecordOverdubPlay() Mode {
	if f.shared.Length() == 0 {
		return ModeRecording
	}
	switch f.shared.Mode() {
	case ModeRecording, ModePlaying:
		return ModeOverdubbing
	default:
		return ModePlaying
	}
}

// HandleCommand applies an engine Command to this looper's Frontend state
// and/or forwards the corresponding ControlMessage to the Backend.
func (f *Frontend) HandleCommand(cmd Command) {
	switch c := cmd.(type) {
	case CmdRecord:
		f.sendControl(TransitionTo{Mode: ModeRecording})
	case CmdOverdub:
		f.sendControl(TransitionTo{Mode: ModeOverdubbing})
	case CmdPlay:
		f.sendControl(TransitionTo{Mode: ModePlaying})
	case CmdMute:
		f.sendControl(TransitionTo{Mode: ModeMuted})
	case CmdSolo:
		f.sendControl(TransitionTo{Mode: ModeSoloed})
	case CmdRecordOverdubPlay:
		f.sendControl(TransitionTo{Mode: f.nextRecordOverdubPlay(), Triggered: true})
	case CmdDelete:
		f.sendControl(Deleted{})
	case CmdClear:
		f.stopAndFlush()
		f.sendControl(Clear{})
	case CmdSetSpeed:
		f.stopAndFlush()
		f.speed = c.Speed
		f.sendControl(SetSpeedMsg{Speed: c.Speed})
		f.requestRerender()
	case CmdSetPan:
		f.pan = c.Pan
		f.sendControl(SetPanMsg{Pan: c.Pan})
	case CmdSetLevel:
		f.level = c.Level
		f.sendControl(SetLevelMsg{Level: c.Level})
	case CmdSetParts:
		f.parts = c.Parts
		f.sendControl(SetPartsMsg{Parts: c.Parts})
	case CmdUndo:
		f.stopAndFlush()
		f.sendControl(Undo{})
		f.requestRerender()
	case CmdRedo:
		f.stopAndFlush()
		f.sendControl(Redo{})
		f.requestRerender()
	case CmdSetTime:
		f.setTime(c.Time)
	}
}

// Parts reports this looper's current part gate, used by the engine to pick
// the active part when no looper is enabled for the requested one.
func (f *Frontend) Parts() metric.PartSet {
	return f.parts
}

func (f *Frontend) setTime(t metric.FrameTime) {
	f.shared.OutputQ.Drain()
	f.havePending = false
	if f.shared.Mode() == ModeRecording && t < 0 {
		f.sendControl(Clear{})
	}
	f.sendControl(SetTimeMsg{Time: t})
}
