package looper

import (
	"github.com/loopforge/engine/internal/dsp"
	"github.com/loopforge/engine/internal/metric"
)

// Mode is the looper's playback/record state.
type Mode int32

const (
	ModeRecording Mode = iota
	ModeOverdubbing
	ModePlaying
	ModeMuted
	ModeSoloed
)

func (m Mode) String() string {
	switch m {
	case ModeRecording:
		return "Recording"
	case ModeOverdubbing:
		return "Overdubbing"
	case ModePlaying:
		return "Playing"
	case ModeMuted:
		return "Muted"
	case ModeSoloed:
		return "Soloed"
	default:
		return "Unknown"
	}
}

// Speed affects only playback index derivation; the underlying buffer is
// unaffected.
type Speed int32

const (
	SpeedHalf Speed = iota
	SpeedOne
	SpeedDouble
)

// Factor returns the playback index scalar for this speed.
func (s Speed) Factor() float64 {
	switch s {
	case SpeedHalf:
		return 0.5
	case SpeedDouble:
		return 2
	default:
		return 1
	}
}

// CrossFadeSamples is the fixed crossfade window length (~8192 frames).
const CrossFadeSamples = 8192

// ControlMessage is sent from a Looper's Frontend (audio thread) to its
// Backend (worker thread) over a bounded channel.
type ControlMessage interface{ isControlMessage() }

type baseControl struct{}

func (baseControl) isControlMessage() {}

type InputDataReady struct {
	baseControl
	ID   uint32
	Size int
}

type TransitionTo struct {
	baseControl
	Mode      Mode
	Triggered bool
}

type SetTimeMsg struct {
	baseControl
	Time metric.FrameTime
}

type ReadOutput struct {
	baseControl
	Time metric.FrameTime
}

type Shutdown struct{ baseControl }

type Serialize struct {
	baseControl
	Dir   string
	Reply chan<- SavedLooper
}

type Deleted struct{ baseControl }

type Clear struct{ baseControl }

type SetSpeedMsg struct {
	baseControl
	Speed Speed
}

type SetPanMsg struct {
	baseControl
	Pan float64
}

type SetLevelMsg struct {
	baseControl
	Level float64
}

type SetPartsMsg struct {
	baseControl
	Parts metric.PartSet
}

type Undo struct{ baseControl }
type Redo struct{ baseControl }
type StopOutput struct{ baseControl }

// LoadSnapshot replaces a freshly created looper's state wholesale with
// takes decoded from a previous session, clearing undo/redo history.
type LoadSnapshot struct {
	baseControl
	Takes  []*dsp.Sample
	Offset int64
	Parts  metric.PartSet
	Speed  Speed
	Pan    float64
	Level  float64
}

// SavedLooper is the Backend's reply to a Serialize request: everything
// the session descriptor needs to reconstruct this looper.
type SavedLooper struct {
	ID            uint32
	Mode          Mode
	Parts         metric.PartSet
	Speed         Speed
	Pan           float64
	Level         float64
	OffsetSamples int64
	Samples       []string // relative WAV paths, one per take, in take order
}

// Command is the engine-to-looper command surface driving handle_command
// (Frontend) and, transitively, the Backend transition table.
type Command interface{ isLooperCommand() }

type baseCommand struct{}

func (baseCommand) isLooperCommand() {}

type CmdRecord struct{ baseCommand }
type CmdOverdub struct{ baseCommand }
type CmdPlay struct{ baseCommand }
type CmdMute struct{ baseCommand }
type CmdSolo struct{ baseCommand }
type CmdRecordOverdubPlay struct{ baseCommand }
type CmdDelete struct{ baseCommand }
type CmdClear struct{ baseCommand }
type CmdUndo struct{ baseCommand }
type CmdRedo struct{ baseCommand }
type CmdSetSpeed struct {
	baseCommand
	Speed Speed
}
type CmdSetPan struct {
	baseCommand
	Pan float64
}
type CmdSetLevel struct {
	baseCommand
	Level float64
}
type CmdSetParts struct {
	baseCommand
	Parts metric.PartSet
}
type CmdSetTime struct {
	baseCommand
	Time metric.FrameTime
}

// GUIEvent is something the Backend or Frontend wants reflected in the GUI
// stream, distinct from the Engine's own StateSnapshot broadcast.
type GUIEvent interface{ isGUIEvent() }

type baseGUIEvent struct{}

func (baseGUIEvent) isGUIEvent() {}

type ClearLooperEvent struct {
	baseGUIEvent
	LooperID uint32
}

type RerenderRequest struct {
	baseGUIEvent
	LooperID uint32
}

type WaveformEvent struct {
	baseGUIEvent
	Bin dsp.WaveformBin
}

type LogEvent struct {
	baseGUIEvent
	Level   string
	Message string
}
