// Package engine implements the audio-thread orchestrator: MIDI/GUI command
// intake, trigger-sliced looper I/O, metronome advance, mixdown, metering and
// the state-snapshot broadcast to the GUI.
package engine

import "github.com/loopforge/engine/internal/metric"

// TargetKind selects how a Target resolves to concrete loopers.
type TargetKind int

const (
	TargetAll TargetKind = iota
	TargetSelected
	TargetIndex
)

// Target names which loopers a looper-directed Command applies to.
type Target struct {
	Kind  TargetKind
	Index int
}

func AllTarget() Target           { return Target{Kind: TargetAll} }
func SelectedTarget() Target      { return Target{Kind: TargetSelected} }
func IndexTarget(i int) Target    { return Target{Kind: TargetIndex, Index: i} }

// LooperAction is the verb half of a CmdLooperAction.
type LooperAction int

const (
	ActionRecord LooperAction = iota
	ActionOverdub
	ActionPlay
	ActionMute
	ActionSolo
	ActionRecordOverdubPlay
	ActionDelete
	ActionClear
	ActionUndo
	ActionRedo
	ActionSpeedHalf
	ActionSpeedOne
	ActionSpeedDouble
)

// Command is the engine-level command grammar: everything a controller
// mapping row or a GUI action can ask the engine to do.
type Command interface{ isEngineCommand() }

type baseCommand struct{}

func (baseCommand) isEngineCommand() {}

type CmdStart struct{ baseCommand }
type CmdStop struct{ baseCommand }
type CmdPause struct{ baseCommand }
type CmdStartStop struct{ baseCommand }
type CmdReset struct{ baseCommand }

type CmdSetTime struct {
	baseCommand
	Time metric.FrameTime
}

type CmdAddLooper struct{ baseCommand }

type CmdSelectLooperByID struct {
	baseCommand
	ID uint32
}

type CmdSelectLooperByIndex struct {
	baseCommand
	Index uint8
}

type CmdSelectNextLooper struct{ baseCommand }
type CmdSelectPreviousLooper struct{ baseCommand }
type CmdNextPart struct{ baseCommand }
type CmdPreviousPart struct{ baseCommand }

type CmdGoToPart struct {
	baseCommand
	Part metric.Part
}

type CmdSetMetronomeLevel struct {
	baseCommand
	Level float64 // 0..100
}

type CmdLooperAction struct {
	baseCommand
	Action LooperAction
	Target Target
}

type CmdLooperSetPan struct {
	baseCommand
	Target Target
	Pan    float64
}

type CmdLooperSetLevel struct {
	baseCommand
	Target Target
	Level  float64
}

type CmdLooperSetParts struct {
	baseCommand
	Target Target
	Parts  metric.PartSet
}
