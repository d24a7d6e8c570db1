package engine

import (
	"math"
	"testing"
	"time"

	"github.com/loopforge/engine/internal/looper"
	"github.com/loopforge/engine/internal/metric"
	"github.com/loopforge/engine/internal/trigger"
)

// The end-to-end scenarios below use the literal fixture 44100 Hz, 4/4,
// 120 BPM: samples_per_beat = 22050, one measure = 88200 frames. Crossfade
// regions (the first CrossFadeSamples frames of a loop) are excluded from
// sample-exact assertions, since live input keeps blending into them.
const (
	loopFrames  = 88200
	blockFrames = 4410
	xfadeGuard  = looper.CrossFadeSamples
)

func sineAt(freq, amp float64, i int64) float32 {
	return float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(testSampleRate)))
}

func processBlock(t *testing.T, e *Engine, inL, inR []float32) ([]float32, []float32) {
	t.Helper()
	n := len(inL)
	outL := make([]float32, n)
	outR := make([]float32, n)
	metroL := make([]float32, n)
	metroR := make([]float32, n)
	e.Process(inL, inR, outL, outR, metroL, metroR, nil)
	return outL, outR
}

func silence(n int) []float32 { return make([]float32, n) }

func waitForCond(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func waitCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	if !waitForCond(cond) {
		t.Fatalf("timed out waiting for %s", what)
	}
}

// feedInput drives Process over [start, start+frames) in blocks, generating
// each input sample from gen, and waits for the backend to drain every block
// so the transfer queue can never overflow no matter how the goroutines
// schedule.
func feedInput(t *testing.T, e *Engine, le *looperEntry, start int64, frames int, gen func(i int64) float32) {
	t.Helper()
	if e.time != start {
		t.Fatalf("fixture broken: engine time %d, feed expects %d", e.time, start)
	}
	for off := 0; off < frames; off += blockFrames {
		n := blockFrames
		if frames-off < n {
			n = frames - off
		}
		inL := make([]float32, n)
		inR := make([]float32, n)
		for i := range inL {
			v := gen(start + int64(off+i))
			inL[i], inR[i] = v, v
		}
		processBlock(t, e, inL, inR)
		waitCond(t, "input queue drain", func() bool { return le.shared.InputQ.Len() == 0 })
	}
}

// preparePlayback realigns the looper's output stream with the engine clock
// and prefills the output queue, so the asserted render that follows starts
// on the right frame and can never underrun. The Mute/Play round trip is a
// control-channel barrier: once the mode atomic reports Muted, the backend
// has processed every earlier message (including SetTime), so nothing is
// concurrently producing and the queue can be flushed of packets rendered
// for the pre-SetTime cursor.
func preparePlayback(t *testing.T, e *Engine, le *looperEntry) {
	t.Helper()
	waitCond(t, "transition to Playing", func() bool { return le.shared.Mode() == looper.ModePlaying })
	e.apply(CmdSetTime{Time: metric.FrameTime(e.time)})
	le.front.HandleCommand(looper.CmdMute{})
	waitCond(t, "mute barrier", func() bool { return le.shared.Mode() == looper.ModeMuted })
	le.shared.OutputQ.Drain()
	le.front.HandleCommand(looper.CmdPlay{})
	waitCond(t, "return to Playing", func() bool { return le.shared.Mode() == looper.ModePlaying })
	le.shared.Control <- looper.ReadOutput{Time: metric.FrameTime(e.time)}
	half := le.shared.OutputQ.Capacity() / 2
	waitCond(t, "output prefill", func() bool { return le.shared.OutputQ.Len() >= half-16 })
}

// renderLoop plays back exactly one loop's worth of frames with silent
// input, returning the left-channel output indexed by loop position.
func renderLoop(t *testing.T, e *Engine, le *looperEntry) []float32 {
	t.Helper()
	out := make([]float32, loopFrames)
	for off := 0; off < loopFrames; off += blockFrames {
		n := blockFrames
		if loopFrames-off < n {
			n = loopFrames - off
		}
		waitCond(t, "output availability", func() bool {
			return le.shared.OutputQ.Len()*looper.PacketFrames >= n
		})
		pos := int(e.time % loopFrames)
		outL, _ := processBlock(t, e, silence(n), silence(n))
		for i := 0; i < n; i++ {
			out[(pos+i)%loopFrames] = outL[i]
		}
	}
	return out
}

// TestRecordOverdubPlaybackEndToEnd records one measure of a 440 Hz sine
// through a measure-quantized Record trigger, plays it back sample-exact,
// then overdubs a 540 Hz sine and verifies the next loop renders the
// additive sum.
func TestRecordOverdubPlaybackEndToEnd(t *testing.T) {
	e := newTestEngine()
	le := e.newLooperEntry(0)
	e.syncMode = metric.SyncMeasure
	e.apply(CmdStart{})
	e.apply(CmdSetTime{Time: 0})

	panL, _ := looper.Neg4_5dBPanLaw(0)

	// Record quantizes to the measure boundary at t=0 and captures one
	// measure of input.
	e.handleCommand(CmdLooperAction{Action: ActionRecord, Target: AllTarget()}, false)
	feedInput(t, e, le, 0, loopFrames, func(i int64) float32 { return sineAt(440, 0.5, i) })

	e.handleCommand(CmdLooperAction{Action: ActionPlay, Target: AllTarget()}, false)
	processBlock(t, e, silence(16), silence(16)) // lets the t=88200 trigger fire
	waitCond(t, "recorded length", func() bool { return le.shared.Length() == loopFrames })
	preparePlayback(t, e, le)

	loopOut := renderLoop(t, e, le)
	for i := xfadeGuard; i < loopFrames; i++ {
		want := float64(sineAt(440, 0.5, int64(i))) * panL
		if diff := math.Abs(float64(loopOut[i]) - want); diff > 1e-4 {
			t.Fatalf("playback frame %d = %g, want %g (diff %g)", i, loopOut[i], want, diff)
		}
	}

	// Run silence up to the next measure boundary, then Overdub for one
	// measure; the following loop must render the additive sum.
	gap := int(loopFrames - e.time%loopFrames)
	feedInput(t, e, le, e.time, gap, func(int64) float32 { return 0 })

	overdubStart := e.time
	e.handleCommand(CmdLooperAction{Action: ActionOverdub, Target: AllTarget()}, false)
	feedInput(t, e, le, overdubStart, loopFrames, func(i int64) float32 { return sineAt(540, 0.3, i) })
	waitCond(t, "transition to Overdubbing happened", func() bool { return le.shared.Mode() == looper.ModeOverdubbing })

	e.handleCommand(CmdLooperAction{Action: ActionPlay, Target: AllTarget()}, false)
	processBlock(t, e, silence(16), silence(16))
	preparePlayback(t, e, le)

	loopOut = renderLoop(t, e, le)
	for i := xfadeGuard; i < loopFrames; i++ {
		want := (float64(sineAt(440, 0.5, int64(i))) + float64(sineAt(540, 0.3, overdubStart+int64(i)))) * panL
		if diff := math.Abs(float64(loopOut[i]) - want); diff > 1e-4 {
			t.Fatalf("overdub-sum frame %d = %g, want %g (diff %g)", i, loopOut[i], want, diff)
		}
	}
}

// TestTriggerSlicingAppliesMidCallback: a trigger firing in the middle of
// a callback's frame range splits looper I/O at its fire time. A part-gated
// looper playing a constant signal goes silent at exactly the frame the
// mid-callback GoToPart trigger fires.
func TestTriggerSlicingAppliesMidCallback(t *testing.T) {
	e := newTestEngine()
	le := e.newLooperEntry(0)
	le.front.HandleCommand(looper.CmdSetParts{Parts: metric.PartSet{true, false, false, false}})
	e.apply(CmdStart{})
	e.apply(CmdSetTime{Time: 0})

	e.handleCommand(CmdLooperAction{Action: ActionRecord, Target: AllTarget()}, false)
	feedInput(t, e, le, 0, loopFrames, func(int64) float32 { return 0.5 })

	e.handleCommand(CmdLooperAction{Action: ActionPlay, Target: AllTarget()}, false)
	processBlock(t, e, silence(16), silence(16))
	waitCond(t, "recorded length", func() bool { return le.shared.Length() == loopFrames })
	preparePlayback(t, e, le)

	// Beat-quantized from the current time: fires at the next multiple of
	// 22050, mid-way through the 28000-frame callback below.
	tg := trigger.New(trigger.Beat, CmdGoToPart{Part: metric.PartB}, e.metricS, metric.FrameTime(e.time), testSampleRate)
	fireOffset := int(int64(tg.FireTime) - e.time)
	e.trig.Push(tg)

	const frames = 28000
	if fireOffset <= 0 || fireOffset >= frames {
		t.Fatalf("fixture broken: trigger offset %d outside (0,%d)", fireOffset, frames)
	}
	startPos := int(e.time % loopFrames)
	outL, _ := processBlock(t, e, silence(frames), silence(frames))

	panL, _ := looper.Neg4_5dBPanLaw(0)
	want := 0.5 * panL
	for i := 0; i < fireOffset; i++ {
		if (startPos+i)%loopFrames < xfadeGuard {
			continue
		}
		if diff := math.Abs(float64(outL[i]) - want); diff > 1e-4 {
			t.Fatalf("pre-trigger frame %d = %g, want %g", i, outL[i], want)
		}
	}
	for i := fireOffset; i < frames; i++ {
		if outL[i] != 0 {
			t.Fatalf("post-trigger frame %d = %g, want 0 (part gated off mid-callback)", i, outL[i])
		}
	}
	if e.currentPart != metric.PartB {
		t.Fatalf("currentPart = %v, want PartB after the trigger", e.currentPart)
	}
}

// TestNextPartQuantizesToMeasure: with sync mode Measure, a NextPart at
// t=1000 holds part A until the measure boundary at t=88200.
func TestNextPartQuantizesToMeasure(t *testing.T) {
	e := newTestEngine()
	e.newLooperEntry(0) // all parts enabled, so every part is a valid shift target
	e.syncMode = metric.SyncMeasure
	e.apply(CmdStart{})
	e.apply(CmdSetTime{Time: 1000})

	e.handleCommand(CmdNextPart{}, false)

	for e.time+blockFrames <= loopFrames {
		processBlock(t, e, silence(blockFrames), silence(blockFrames))
		if e.currentPart != metric.PartA {
			t.Fatalf("currentPart = %v at t=%d, want PartA until the measure boundary", e.currentPart, e.time)
		}
	}
	processBlock(t, e, silence(blockFrames), silence(blockFrames))
	if e.currentPart != metric.PartB {
		t.Fatalf("currentPart = %v at t=%d, want PartB after the measure boundary", e.currentPart, e.time)
	}
}
