package engine

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gitlab.com/gomidi/midi/v2"

	"github.com/loopforge/engine/internal/metric"
)

const ccStatus = 0xB0

// MIDIEvent is a decoded Control Change triple. Every other message kind is
// ignored by DecodeControlChange.
type MIDIEvent struct {
	Channel    uint8
	Controller uint8
	Value      uint8
}

// DecodeControlChange extracts a MIDIEvent from a raw gomidi message, the
// same byte layout extractMIDIComponents-style code in this ecosystem reads:
// status byte 0xBn is a Control Change on channel n, followed by controller
// number and value.
func DecodeControlChange(msg midi.Message) (MIDIEvent, bool) {
	b := msg.Bytes()
	if len(b) < 3 {
		return MIDIEvent{}, false
	}
	status := b[0]
	if status&0xF0 != ccStatus {
		return MIDIEvent{}, false
	}
	return MIDIEvent{
		Channel:    status & 0x0F,
		Controller: b[1],
		Value:      b[2],
	}, true
}

// Mapping is a (channel, controller) -> Command lookup built from a
// controller mapping file.
type Mapping map[[2]uint8]Command

// LoadMapping parses a tab-separated controller mapping file: channel,
// controller number, command name, then command-specific arguments. Blank
// lines and lines starting with "#" are ignored. Parse errors on individual
// rows are collected and returned alongside whatever mappings did parse, so
// one bad line doesn't sink an otherwise-usable file.
func LoadMapping(r io.Reader) (Mapping, []error) {
	m := make(Mapping)
	var errs []error
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			errs = append(errs, fmt.Errorf("mapping line %d: need at least 3 tab-separated fields", lineNo))
			continue
		}
		ch, err := strconv.ParseUint(fields[0], 10, 8)
		if err != nil {
			errs = append(errs, fmt.Errorf("mapping line %d: bad channel %q: %w", lineNo, fields[0], err))
			continue
		}
		data, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil {
			errs = append(errs, fmt.Errorf("mapping line %d: bad controller %q: %w", lineNo, fields[1], err))
			continue
		}
		cmd, err := parseCommandRow(fields[2], fields[3:])
		if err != nil {
			errs = append(errs, fmt.Errorf("mapping line %d: %w", lineNo, err))
			continue
		}
		m[[2]uint8{uint8(ch), uint8(data)}] = cmd
	}
	return m, errs
}

func parseTarget(s string) (Target, error) {
	switch strings.ToLower(s) {
	case "all":
		return AllTarget(), nil
	case "selected":
		return SelectedTarget(), nil
	default:
		i, err := strconv.Atoi(s)
		if err != nil {
			return Target{}, fmt.Errorf("bad target %q", s)
		}
		return IndexTarget(i), nil
	}
}

func parsePart(s string) (metric.Part, error) {
	switch strings.ToUpper(s) {
	case "A":
		return metric.PartA, nil
	case "B":
		return metric.PartB, nil
	case "C":
		return metric.PartC, nil
	case "D":
		return metric.PartD, nil
	default:
		return 0, fmt.Errorf("bad part %q", s)
	}
}

func looperActionFor(name string) LooperAction {
	switch name {
	case "Record":
		return ActionRecord
	case "Overdub":
		return ActionOverdub
	case "Play":
		return ActionPlay
	case "Mute":
		return ActionMute
	case "Solo":
		return ActionSolo
	case "RecordOverdubPlay":
		return ActionRecordOverdubPlay
	case "Delete":
		return ActionDelete
	case "Clear":
		return ActionClear
	case "Undo":
		return ActionUndo
	case "Redo":
		return ActionRedo
	case "1/2x":
		return ActionSpeedHalf
	case "2x":
		return ActionSpeedDouble
	default:
		return ActionSpeedOne
	}
}

func parseCommandRow(name string, args []string) (Command, error) {
	switch name {
	case "Start":
		return CmdStart{}, nil
	case "Stop":
		return CmdStop{}, nil
	case "Pause":
		return CmdPause{}, nil
	case "StartStop":
		return CmdStartStop{}, nil
	case "Reset":
		return CmdReset{}, nil
	case "SetTime":
		if len(args) < 1 {
			return nil, fmt.Errorf("SetTime requires <frames>")
		}
		f, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad frames %q: %w", args[0], err)
		}
		return CmdSetTime{Time: metric.FrameTime(f)}, nil
	case "AddLooper":
		return CmdAddLooper{}, nil
	case "SelectLooperById":
		if len(args) < 1 {
			return nil, fmt.Errorf("SelectLooperById requires <id>")
		}
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad id %q: %w", args[0], err)
		}
		return CmdSelectLooperByID{ID: uint32(id)}, nil
	case "SelectLooperByIndex":
		if len(args) < 1 {
			return nil, fmt.Errorf("SelectLooperByIndex requires <index>")
		}
		idx, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("bad index %q: %w", args[0], err)
		}
		return CmdSelectLooperByIndex{Index: uint8(idx)}, nil
	case "SelectNextLooper":
		return CmdSelectNextLooper{}, nil
	case "SelectPreviousLooper":
		return CmdSelectPreviousLooper{}, nil
	case "NextPart":
		return CmdNextPart{}, nil
	case "PreviousPart":
		return CmdPreviousPart{}, nil
	case "GoToPart":
		if len(args) < 1 {
			return nil, fmt.Errorf("GoToPart requires {A|B|C|D}")
		}
		p, err := parsePart(args[0])
		if err != nil {
			return nil, err
		}
		return CmdGoToPart{Part: p}, nil
	case "SetMetronomeLevel":
		if len(args) < 1 {
			return nil, fmt.Errorf("SetMetronomeLevel requires 0..100")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad level %q: %w", args[0], err)
		}
		return CmdSetMetronomeLevel{Level: v}, nil
	case "Record", "Overdub", "Play", "Mute", "Solo", "RecordOverdubPlay", "Delete", "Clear", "Undo", "Redo", "1/2x", "1x", "2x":
		if len(args) < 1 {
			return nil, fmt.Errorf("%s requires a target", name)
		}
		target, err := parseTarget(args[0])
		if err != nil {
			return nil, err
		}
		return CmdLooperAction{Action: looperActionFor(name), Target: target}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}
