package engine

import (
	"fmt"
	"math"

	"github.com/loopforge/engine/internal/dsp"
	"github.com/loopforge/engine/internal/looper"
	"github.com/loopforge/engine/internal/metric"
	"github.com/loopforge/engine/internal/trigger"
)

// HostPorts is the subset of the host audio binding the engine needs to
// provision a per-looper output port when a looper is added or removed.
type HostPorts interface {
	AddLooperPort(id uint32) error
	RemoveLooperPort(id uint32)
}

// SaverPort is the subset of the session saver the engine needs to keep its
// looper registry in sync with what gets written to disk.
type SaverPort interface {
	AddLooper(id uint32, control chan<- looper.ControlMessage)
	RemoveLooper(id uint32)
}

type looperEntry struct {
	id      uint32
	shared  *looper.Shared
	front   *looper.Frontend
	deleted bool
	peakAbs float64

	// sideBuf/sideL/sideR hold this looper's own output from the most recent
	// Process call, independent of the main mixdown, for hosts that
	// provisioned a per-looper sidechain port.
	sideBuf    []dsp.Frame
	sideL      []float32
	sideR      []float32
}

// Engine is the audio-thread orchestrator. Process is its only real-time
// entry point; the other exported methods (Restore, OutputForLooper and the
// accessors) are called from outside Process.
type Engine struct {
	SampleRate int
	Host       HostPorts
	Saver      SaverPort
	Mapping    Mapping

	// Commands carries GUI-originated commands into the engine; Process
	// drains it without blocking once per callback.
	Commands chan Command
	// GUI receives this engine's own Event stream (StateSnapshot, LogEvent,
	// and Relayed looper GUIEvents). May be nil in headless/offline use.
	GUI chan<- Event

	state       metric.EngineState
	time        int64
	metricS     metric.MetricStructure
	syncMode    metric.SyncMode
	currentPart metric.Part

	loopers   []*looperEntry
	activeIdx int
	idCounter uint32

	trig  *trigger.Queue
	metro *dsp.Metronome

	looperGUI chan looper.GUIEvent

	scratchL, scratchR []float64
	inFrames           []dsp.Frame
	outFrames          []dsp.Frame
	singleFrames       []dsp.Frame
	clickFrames        []dsp.Frame
	peekScratch        []LooperPeek
}

// New builds an Engine at rest (Stopped, time at the start of the pre-roll
// measure) with the given sample rate, initial tempo/signature and click
// samples for the metronome.
func New(sampleRate int, structure metric.MetricStructure, normalClick, emphasisClick *dsp.Sample) *Engine {
	e := &Engine{
		SampleRate: sampleRate,
		Commands:   make(chan Command, 64),
		metricS:    structure,
		activeIdx:  -1,
		trig:       trigger.NewQueue(),
		metro:      dsp.NewMetronome(sampleRate, structure, normalClick, emphasisClick),
		looperGUI:  make(chan looper.GUIEvent, 256),
	}
	e.time = -e.metricS.MeasureLen(sampleRate)
	e.metro.SetTime(metric.FrameTime(e.time))
	return e
}

func ensureFrameCap(buf []dsp.Frame, n int) []dsp.Frame {
	if cap(buf) < n {
		buf = make([]dsp.Frame, n)
	}
	return buf[:n]
}

func ensureF64Cap(buf []float64, n int) []float64 {
	if cap(buf) < n {
		buf = make([]float64, n)
	}
	return buf[:n]
}

func ensureF32Cap(buf []float32, n int) []float32 {
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	return buf[:n]
}

// OutputForLooper returns the most recent callback's own output for looper
// id, for a host that provisioned a per-looper sidechain port via
// HostPorts.AddLooperPort. ok is false if no non-deleted looper has that id.
func (e *Engine) OutputForLooper(id uint32) (left, right []float32, ok bool) {
	for _, le := range e.loopers {
		if le.id == id && !le.deleted {
			return le.sideL, le.sideR, true
		}
	}
	return nil, nil, false
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func peakAbs(buf []float32) float64 {
	var m float32
	for _, v := range buf {
		if a := abs32(v); a > m {
			m = a
		}
	}
	return float64(m)
}

func dbOf(peak float64) float64 {
	if peak <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(peak)
}

// iecBand maps a dB value to an IEC 60268-18 meter band in [0, 100], the
// standard piecewise-linear ballistics scale used by most studio meters.
func iecBand(db float64) float64 {
	switch {
	case db < -70:
		return 0
	case db < -60:
		return (db + 70) * 0.25
	case db < -50:
		return (db+60)*0.5 + 2.5
	case db < -40:
		return (db+50)*0.75 + 7.5
	case db < -30:
		return (db+40)*1.5 + 15.0
	case db < -20:
		return (db+30)*2.0 + 30.0
	case db < 0:
		return (db+20)*2.5 + 50.0
	default:
		return 100
	}
}

// Process renders one host callback of frames samples. inL/inR are the raw
// input; outL/outR receive the monitored input plus looper mixdown;
// metroL/metroR receive the metronome click alone. midiEvents are whatever
// Control Change messages the host delivered since the previous callback.
func (e *Engine) Process(inL, inR, outL, outR, metroL, metroR []float32, midiEvents []MIDIEvent) {
	frames := len(inL)

	// 1. MIDI -> commands.
	for _, ev := range midiEvents {
		if cmd, ok := e.Mapping[[2]uint8{ev.Channel, ev.Controller}]; ok {
			e.handleCommand(cmd, false)
		}
	}

	// 2. Drain GUI-originated commands, non-blocking.
	for drained := false; !drained; {
		select {
		case cmd := <-e.Commands:
			e.handleCommand(cmd, false)
		default:
			drained = true
		}
	}

	// 3. Sweep loopers marked for deletion, by the commands just handled or
	// by triggers fired during the previous callback.
	e.sweepDeleted()

	// 4. Grow scratch buffers (never shrink).
	e.scratchL = ensureF64Cap(e.scratchL, frames)
	e.scratchR = ensureF64Cap(e.scratchR, frames)
	e.inFrames = ensureFrameCap(e.inFrames, frames)
	for i := 0; i < frames; i++ {
		e.scratchL[i] = 0
		e.scratchR[i] = 0
		e.inFrames[i] = dsp.Frame{inL[i], inR[i]}
	}
	for _, le := range e.loopers {
		le.peakAbs = 0
		le.sideBuf = ensureFrameCap(le.sideBuf, frames)
		for i := range le.sideBuf {
			le.sideBuf[i] = dsp.Frame{}
		}
	}

	// 5. Monitor pass-through: the performer always hears their own input.
	copy(outL, inL)
	copy(outR, inR)

	// 6. Auto-transition to Active when something needs servicing.
	if (e.state == metric.EngineStopped || e.state == metric.EnginePaused) &&
		(e.trig.Len() > 0 || e.anyLocallyRecordingOrOverdubbing()) {
		if e.state == metric.EngineStopped {
			e.metro.ArmEmphasis()
		}
		e.state = metric.EngineActive
	}

	// 7. Solo flag for the current part.
	solo := e.anySoloedInCurrentPart()

	if e.state == metric.EngineActive {
		// 8. Per-looper I/O, metronome advance, time advance.
		e.processLoopers(frames, solo)
		e.clickFrames = ensureFrameCap(e.clickFrames, frames)
		for i := range e.clickFrames {
			e.clickFrames[i] = dsp.Frame{}
		}
		e.metro.Advance(e.clickFrames)
		for i := 0; i < frames; i++ {
			metroL[i] = e.clickFrames[i][0]
			metroR[i] = e.clickFrames[i][1]
		}
		e.time += int64(frames)
	} else {
		for i := 0; i < frames; i++ {
			metroL[i] = 0
			metroR[i] = 0
		}
	}

	// 9. Downcast the f64 mixdown scratch onto the host's f32 output.
	for i := 0; i < frames; i++ {
		outL[i] += float32(e.scratchL[i])
		outR[i] += float32(e.scratchR[i])
	}

	// 9b. Convert each looper's own output into its sidechain port buffer, for
	// hosts that provisioned one via AddLooperPort.
	for _, le := range e.loopers {
		le.sideL = ensureF32Cap(le.sideL, frames)
		le.sideR = ensureF32Cap(le.sideR, frames)
		for i := 0; i < frames; i++ {
			le.sideL[i] = le.sideBuf[i][0]
			le.sideR[i] = le.sideBuf[i][1]
		}
	}

	// 10. Metering.
	inPeakL := iecBand(dbOf(peakAbs(inL)))
	inPeakR := iecBand(dbOf(peakAbs(inR)))

	// 11. Relay looper GUIEvents and emit the snapshot.
	e.relayLooperEvents()
	e.emitSnapshot(inPeakL, inPeakR, solo)
}

func (e *Engine) relayLooperEvents() {
	for {
		select {
		case ev := <-e.looperGUI:
			e.emit(Relayed{Inner: ev})
		default:
			return
		}
	}
}

func (e *Engine) emit(ev Event) {
	if e.GUI == nil {
		return
	}
	select {
	case e.GUI <- ev:
	default:
	}
}

func (e *Engine) emitLog(level, msg string) {
	e.emit(LogEvent{Level: level, Message: msg})
}

func (e *Engine) emitSnapshot(inPeakL, inPeakR float64, solo bool) {
	if cap(e.peekScratch) < len(e.loopers) {
		e.peekScratch = make([]LooperPeek, 0, len(e.loopers))
	}
	peaks := e.peekScratch[:0]
	for _, le := range e.loopers {
		if le.deleted {
			continue
		}
		peaks = append(peaks, LooperPeek{
			ID:   le.id,
			Mode: le.shared.Mode(),
			Peak: iecBand(dbOf(le.peakAbs)),
		})
	}
	snapshotPeaks := make([]LooperPeek, len(peaks))
	copy(snapshotPeaks, peaks)

	var activeID uint32
	if a := e.activeEntry(); a != nil {
		activeID = a.id
	}
	e.emit(StateSnapshot{
		State:           e.state,
		Time:            metric.FrameTime(e.time),
		Metric:          e.metricS,
		SyncMode:        e.syncMode,
		CurrentPart:     e.currentPart,
		ActiveLooperID:  activeID,
		LooperCount:     len(e.loopers),
		Solo:            solo,
		InputPeakLeft:   inPeakL,
		InputPeakRight:  inPeakR,
		LooperPeaks:     snapshotPeaks,
		MetronomeVolume: e.metro.Volume,
	})
}

// processLoopers implements the trigger-sliced scheduler: it walks the
// callback's frame range as a single mutable cursor, slicing looper I/O at
// each trigger whose fire time falls inside the range and applying the
// trigger's command at the slice boundary.
func (e *Engine) processLoopers(frames int, solo bool) {
	base := e.time
	t := e.time
	if t < 0 {
		t = 0
	}
	end := e.time + int64(frames)

	for t < end {
		for {
			tg, ok := e.trig.Peek()
			if !ok || int64(tg.FireTime) >= t {
				break
			}
			e.trig.PopEarliest()
			e.emitLog("warn", fmt.Sprintf("dropped trigger that missed its window at frame %d", tg.FireTime))
		}

		tg, ok := e.trig.Peek()
		if ok && int64(tg.FireTime) < end {
			e.trig.PopEarliest()
			e.looperIO(t, int(t-base), int(int64(tg.FireTime)-base), solo)
			e.applyTrigger(tg)
			t = int64(tg.FireTime)
			continue
		}
		e.looperIO(t, int(t-base), int(end-base), solo)
		t = end
	}
}

func (e *Engine) looperIO(tStart int64, segStart, segEnd int, solo bool) {
	n := segEnd - segStart
	if n <= 0 {
		return
	}
	in := e.inFrames[segStart:segEnd]
	e.outFrames = ensureFrameCap(e.outFrames, n)
	e.singleFrames = ensureFrameCap(e.singleFrames, n)
	out := e.outFrames[:n]
	for i := range out {
		out[i] = dsp.Frame{}
	}
	for _, le := range e.loopers {
		if le.deleted {
			continue
		}
		le.front.ProcessInput(tStart, in, e.currentPart)
		single := e.singleFrames[:n]
		for i := range single {
			single[i] = dsp.Frame{}
		}
		le.front.ProcessOutput(tStart, single, e.currentPart, solo, looper.Neg4_5dBPanLaw)
		for i := 0; i < n; i++ {
			out[i][0] += single[i][0]
			out[i][1] += single[i][1]
			if a := abs32(single[i][0]); float64(a) > le.peakAbs {
				le.peakAbs = float64(a)
			}
			if a := abs32(single[i][1]); float64(a) > le.peakAbs {
				le.peakAbs = float64(a)
			}
			le.sideBuf[segStart+i] = single[i]
		}
	}
	for i := 0; i < n; i++ {
		e.scratchL[segStart+i] += float64(out[i][0])
		e.scratchR[segStart+i] += float64(out[i][1])
	}
}

func (e *Engine) applyTrigger(tg trigger.Trigger) {
	cmd, ok := tg.Command.(Command)
	if !ok {
		return
	}
	e.handleCommand(cmd, true)
}

// handleCommand either defers cmd onto the trigger queue (first time it's
// seen, and it needs quantizing) or applies it immediately (already fired,
// or it never needed quantizing).
func (e *Engine) handleCommand(cmd Command, triggered bool) {
	if !triggered {
		cond := e.conditionFor(cmd)
		if cond != trigger.Immediate {
			start := metric.FrameTime(e.time)
			tg := trigger.New(cond, cmd, e.metricS, start, e.SampleRate)
			if e.trig.Push(tg) {
				e.emitLog("warn", "trigger queue full, dropped oldest pending trigger")
			}
			return
		}
	}
	e.apply(cmd)
}

func (e *Engine) conditionFor(cmd Command) trigger.Condition {
	switch c := cmd.(type) {
	case CmdSelectNextLooper, CmdSelectPreviousLooper, CmdNextPart, CmdPreviousPart, CmdGoToPart:
		if e.syncMode == metric.SyncMeasure {
			return trigger.Measure
		}
		return trigger.Immediate
	case CmdLooperAction:
		return e.conditionForLooperAction(c)
	default:
		return trigger.Immediate
	}
}

func (e *Engine) conditionForLooperAction(c CmdLooperAction) trigger.Condition {
	switch c.Action {
	case ActionSpeedHalf, ActionSpeedOne, ActionSpeedDouble, ActionClear, ActionUndo, ActionRedo:
		return trigger.Immediate
	}
	if e.syncMode == metric.SyncFree && e.time >= 0 {
		return trigger.Immediate
	}
	if !e.looperActionQuantizes(c) {
		return trigger.Immediate
	}
	if e.syncMode == metric.SyncBeat {
		return trigger.Beat
	}
	return trigger.Measure
}

// looperActionQuantizes reports whether the action must wait for a musical
// boundary: Record always does, RecordOverdubPlay does when it would start
// a recording (empty looper), and any action aimed at a looper that is
// mid-recording or mid-overdub does, so the take closes on the boundary.
// Everything else (Play, Mute, Solo, Delete, Overdub on a settled loop)
// applies immediately.
func (e *Engine) looperActionQuantizes(c CmdLooperAction) bool {
	if c.Action == ActionRecord {
		return true
	}
	result := false
	e.forTargets(c.Target, func(le *looperEntry) {
		if c.Action == ActionRecordOverdubPlay && le.shared.Length() == 0 {
			result = true
			return
		}
		switch le.shared.Mode() {
		case looper.ModeRecording, looper.ModeOverdubbing:
			result = true
		}
	})
	return result
}

func (e *Engine) apply(cmd Command) {
	switch c := cmd.(type) {
	case CmdStart:
		if e.state == metric.EngineStopped {
			e.metro.ArmEmphasis()
		}
		e.state = metric.EngineActive
	case CmdStop:
		e.state = metric.EngineStopped
		e.trig.Clear()
		e.time = -e.metricS.MeasureLen(e.SampleRate)
		e.metro.SetTime(metric.FrameTime(e.time))
	case CmdPause:
		e.state = metric.EnginePaused
	case CmdStartStop:
		if e.state == metric.EngineActive {
			e.apply(CmdStop{})
		} else {
			e.apply(CmdStart{})
		}
	case CmdReset:
		e.time = -e.metricS.MeasureLen(e.SampleRate)
		e.metro.SetTime(metric.FrameTime(e.time))
		for _, le := range e.loopers {
			le.front.HandleCommand(looper.CmdSetTime{Time: metric.FrameTime(e.time)})
		}
	case CmdSetTime:
		e.time = int64(c.Time)
		e.metro.SetTime(c.Time)
		for _, le := range e.loopers {
			le.front.HandleCommand(looper.CmdSetTime{Time: c.Time})
		}
	case CmdAddLooper:
		e.addLooper()
	case CmdSelectLooperByID:
		e.selectByID(c.ID)
	case CmdSelectLooperByIndex:
		e.selectByIndex(int(c.Index))
	case CmdSelectNextLooper:
		e.selectByIndex(e.activeIdx + 1)
	case CmdSelectPreviousLooper:
		e.selectByIndex(e.activeIdx - 1)
	case CmdNextPart:
		e.shiftPart(1)
	case CmdPreviousPart:
		e.shiftPart(-1)
	case CmdGoToPart:
		e.currentPart = c.Part
	case CmdSetMetronomeLevel:
		v := c.Level / 100
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		e.metro.Volume = v
	case CmdLooperAction:
		e.applyLooperAction(c)
	case CmdLooperSetPan:
		e.forTargets(c.Target, func(le *looperEntry) {
			le.front.HandleCommand(looper.CmdSetPan{Pan: c.Pan})
		})
	case CmdLooperSetLevel:
		e.forTargets(c.Target, func(le *looperEntry) {
			le.front.HandleCommand(looper.CmdSetLevel{Level: c.Level})
		})
	case CmdLooperSetParts:
		e.forTargets(c.Target, func(le *looperEntry) {
			le.front.HandleCommand(looper.CmdSetParts{Parts: c.Parts})
		})
	}
}

func (e *Engine) applyLooperAction(c CmdLooperAction) {
	var lc looper.Command
	switch c.Action {
	case ActionRecord:
		lc = looper.CmdRecord{}
	case ActionOverdub:
		lc = looper.CmdOverdub{}
	case ActionPlay:
		lc = looper.CmdPlay{}
	case ActionMute:
		lc = looper.CmdMute{}
	case ActionSolo:
		lc = looper.CmdSolo{}
	case ActionRecordOverdubPlay:
		lc = looper.CmdRecordOverdubPlay{}
	case ActionDelete:
		lc = looper.CmdDelete{}
	case ActionClear:
		lc = looper.CmdClear{}
	case ActionUndo:
		lc = looper.CmdUndo{}
	case ActionRedo:
		lc = looper.CmdRedo{}
	case ActionSpeedHalf:
		lc = looper.CmdSetSpeed{Speed: looper.SpeedHalf}
	case ActionSpeedOne:
		lc = looper.CmdSetSpeed{Speed: looper.SpeedOne}
	case ActionSpeedDouble:
		lc = looper.CmdSetSpeed{Speed: looper.SpeedDouble}
	default:
		return
	}
	e.forTargets(c.Target, func(le *looperEntry) {
		le.front.HandleCommand(lc)
		if c.Action == ActionDelete {
			le.deleted = true
		}
	})
}

func (e *Engine) forTargets(t Target, fn func(*looperEntry)) {
	switch t.Kind {
	case TargetAll:
		for _, le := range e.loopers {
			if !le.deleted {
				fn(le)
			}
		}
	case TargetSelected:
		if le := e.activeEntry(); le != nil {
			fn(le)
		}
	case TargetIndex:
		if t.Index >= 0 && t.Index < len(e.loopers) && !e.loopers[t.Index].deleted {
			fn(e.loopers[t.Index])
		}
	}
}

func (e *Engine) activeEntry() *looperEntry {
	if e.activeIdx < 0 || e.activeIdx >= len(e.loopers) {
		return nil
	}
	le := e.loopers[e.activeIdx]
	if le.deleted {
		return nil
	}
	return le
}

func (e *Engine) selectByIndex(idx int) {
	n := len(e.loopers)
	if n == 0 {
		e.activeIdx = -1
		return
	}
	idx = ((idx % n) + n) % n
	e.activeIdx = idx
}

func (e *Engine) selectByID(id uint32) {
	for i, le := range e.loopers {
		if le.id == id {
			e.activeIdx = i
			return
		}
	}
}

// shiftPart moves currentPart in the given direction to the nearest part
// with at least one looper enabled for it, retaining the current value if
// no part qualifies.
func (e *Engine) shiftPart(dir int) {
	cands := [4]metric.Part{metric.PartA, metric.PartB, metric.PartC, metric.PartD}
	cur := int(e.currentPart)
	for step := 1; step <= 4; step++ {
		idx := ((cur+dir*step)%4 + 4) % 4
		p := cands[idx]
		if e.anyLooperHasPart(p) {
			e.currentPart = p
			return
		}
	}
}

func (e *Engine) anyLooperHasPart(p metric.Part) bool {
	for _, le := range e.loopers {
		if le.deleted {
			continue
		}
		if le.front.Parts()[p] {
			return true
		}
	}
	return false
}

func (e *Engine) anySoloedInCurrentPart() bool {
	for _, le := range e.loopers {
		if le.deleted {
			continue
		}
		if !le.front.Parts()[e.currentPart] {
			continue
		}
		if le.shared.Mode() == looper.ModeSoloed {
			return true
		}
	}
	return false
}

func (e *Engine) anyLocallyRecordingOrOverdubbing() bool {
	for _, le := range e.loopers {
		if le.deleted {
			continue
		}
		switch le.shared.Mode() {
		case looper.ModeRecording, looper.ModeOverdubbing:
			return true
		}
	}
	return false
}

func (e *Engine) addLooper() {
	id := e.idCounter
	e.idCounter++
	e.newLooperEntry(id)
}

// newLooperEntry spins up a fresh Backend goroutine and Frontend for id,
// wires it into Host/Saver, and appends+selects it. It does not touch
// idCounter, so session restore can rebuild loopers at their original ids.
func (e *Engine) newLooperEntry(id uint32) *looperEntry {
	shared := looper.NewShared(id)
	backend := looper.NewBackend(shared, e.looperGUI)
	go backend.Run()

	front := looper.NewFrontend(shared)
	front.GUI = e.looperGUI
	front.OnDrop = func(reason string) {
		e.emitLog("error", fmt.Sprintf("looper %d: %s", id, reason))
	}
	front.OnUnderrun = func() {
		e.emitLog("warn", fmt.Sprintf("looper %d: output underrun", id))
	}

	le := &looperEntry{id: id, shared: shared, front: front}
	e.loopers = append(e.loopers, le)
	e.activeIdx = len(e.loopers) - 1

	if e.Host != nil {
		if err := e.Host.AddLooperPort(id); err != nil {
			e.emitLog("error", fmt.Sprintf("add looper port %d: %v", id, err))
		}
	}
	if e.Saver != nil {
		e.Saver.AddLooper(id, shared.Control)
	}
	return le
}

// RestoredLooper is one looper's full state as read back from a saved
// session, ready to hand to Restore.
type RestoredLooper struct {
	ID     uint32
	Parts  metric.PartSet
	Speed  looper.Speed
	Pan    float64
	Level  float64
	Offset int64
	Takes  []*dsp.Sample
}

// Restore replaces the engine's entire looper registry and musical
// structure with a previously saved session: existing loopers are torn
// down, each restored looper is rebuilt
// at its original id (sorted ascending by the caller), and idCounter is set
// to one past the highest id seen. Restore must only be called while the
// engine is not being driven by Process (i.e. at startup, before the host
// begins delivering callbacks), since it mutates looper/trigger state
// outside the audio thread's usual single-writer discipline.
func (e *Engine) Restore(structure metric.MetricStructure, syncMode metric.SyncMode, metronomeVolume float64, loopers []RestoredLooper) {
	for _, le := range e.loopers {
		if e.Saver != nil {
			e.Saver.RemoveLooper(le.id)
		}
		if e.Host != nil {
			e.Host.RemoveLooperPort(le.id)
		}
		select {
		case le.shared.Control <- looper.Deleted{}:
		default:
		}
	}
	e.loopers = nil
	e.activeIdx = -1

	e.metricS = structure
	e.syncMode = syncMode
	e.metro.Structure = structure
	e.metro.Volume = metronomeVolume
	e.trig.Clear()

	var maxID uint32
	for i, rl := range loopers {
		le := e.newLooperEntry(rl.ID)
		le.shared.Control <- looper.LoadSnapshot{
			Takes:  rl.Takes,
			Offset: rl.Offset,
			Parts:  rl.Parts,
			Speed:  rl.Speed,
			Pan:    rl.Pan,
			Level:  rl.Level,
		}
		if i == 0 || rl.ID > maxID {
			maxID = rl.ID
		}
	}
	if len(loopers) > 0 {
		e.idCounter = maxID + 1
	} else {
		e.idCounter = 0
	}

	e.state = metric.EngineStopped
	e.time = -e.metricS.MeasureLen(e.SampleRate)
	e.metro.SetTime(metric.FrameTime(e.time))
}

// SyncMode reports the engine's current global quantization default.
func (e *Engine) SyncMode() metric.SyncMode { return e.syncMode }

// SetSyncMode changes the global quantization default applied to commands
// that don't name their own condition.
func (e *Engine) SetSyncMode(m metric.SyncMode) { e.syncMode = m }

// MetricStructure reports the engine's current tempo/time-signature pair.
func (e *Engine) MetricStructure() metric.MetricStructure { return e.metricS }

// MetronomeVolume reports the metronome's current gain in [0,1].
func (e *Engine) MetronomeVolume() float64 { return e.metro.Volume }

// LooperSnapshot is a read-only view of one looper's persisted fields,
// enough for the Session Saver to register it without reaching into the
// engine's private looperEntry.
type LooperSnapshot struct {
	ID      uint32
	Control chan<- looper.ControlMessage
}

// Loopers returns a snapshot of every non-deleted looper's id and control
// channel, for wiring a freshly started Saver onto loopers that existed
// before it was constructed.
func (e *Engine) Loopers() []LooperSnapshot {
	out := make([]LooperSnapshot, 0, len(e.loopers))
	for _, le := range e.loopers {
		if le.deleted {
			continue
		}
		out = append(out, LooperSnapshot{ID: le.id, Control: le.shared.Control})
	}
	return out
}

// sweepDeleted removes every looper marked deleted (by this callback's
// command handling or by a trigger fired in an earlier callback), signals
// their Backend to exit, and tells the host/saver to let go of them.
func (e *Engine) sweepDeleted() {
	var activeID uint32
	hadActive := false
	if a := e.activeEntry(); a != nil {
		activeID, hadActive = a.id, true
	}

	kept := e.loopers[:0]
	for _, le := range e.loopers {
		if !le.deleted {
			kept = append(kept, le)
			continue
		}
		if e.Saver != nil {
			e.Saver.RemoveLooper(le.id)
		}
		if e.Host != nil {
			e.Host.RemoveLooperPort(le.id)
		}
		select {
		case le.shared.Control <- looper.Deleted{}:
		default:
		}
	}
	e.loopers = kept

	e.activeIdx = -1
	if hadActive {
		for i, le := range e.loopers {
			if le.id == activeID {
				e.activeIdx = i
				break
			}
		}
	}
}
