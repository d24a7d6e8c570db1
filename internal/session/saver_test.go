package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loopforge/engine/internal/dsp"
	"github.com/loopforge/engine/internal/looper"
	"github.com/loopforge/engine/internal/metric"
)

func fourFour120() metric.MetricStructure {
	return metric.MetricStructure{
		Tempo:         metric.NewTempo(120),
		TimeSignature: metric.TimeSignature{Upper: 4, Lower: 4},
	}
}

func framesWithSignal(n int) []dsp.Frame {
	out := make([]dsp.Frame, n)
	for i := range out {
		out[i] = dsp.Frame{0.25, -0.25}
	}
	return out
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true within the deadline")
}

// TestSaveLoadRoundTrip: a looper's take, mode-derived fields, and
// placement survive a save followed by a load.
func TestSaveLoadRoundTrip(t *testing.T) {
	shared := looper.NewShared(1)
	backend := looper.NewBackend(shared, nil)
	go backend.Run()
	defer func() {
		select {
		case shared.Control <- looper.Deleted{}:
		default:
		}
	}()

	front := looper.NewFrontend(shared)
	front.HandleCommand(looper.CmdRecord{})
	waitUntil(t, func() bool { return shared.Mode() == looper.ModeRecording })

	front.ProcessInput(0, framesWithSignal(64), metric.PartA)
	front.HandleCommand(looper.CmdPlay{})
	waitUntil(t, func() bool { return shared.Mode() == looper.ModePlaying && shared.Length() == 64 })

	front.HandleCommand(looper.CmdSetPan{Pan: 0.3})
	front.HandleCommand(looper.CmdSetLevel{Level: 0.8})
	time.Sleep(10 * time.Millisecond) // let the last two control messages land

	saver := NewSaver(nil)
	go saver.Run()
	defer saver.Close()
	saver.AddLooper(1, shared.Control)

	dir := t.TempDir()
	savedDir, err := saver.SaveSession(SaveRequest{
		Metric:          fourFour120(),
		MetronomeVolume: 0.5,
		SyncMode:        metric.SyncBeat,
		Path:            dir,
		SampleRate:      44100,
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(savedDir, descriptorFile))
	require.NoError(t, err, "expected the descriptor file to have been written")

	loaded, err := Load(savedDir, 44100, nil)
	require.NoError(t, err)
	require.Equal(t, metric.SyncBeat, loaded.SyncMode)
	require.InDelta(t, 0.5, loaded.MetronomeVolume, 1e-9)
	require.Len(t, loaded.Loopers, 1)

	ll := loaded.Loopers[0]
	require.Equal(t, uint32(1), ll.ID)
	require.InDelta(t, 0.3, ll.Pan, 1e-9)
	require.InDelta(t, 0.8, ll.Level, 1e-9)
	require.Len(t, ll.Takes, 1)
	require.EqualValues(t, 64, ll.Takes[0].Len())

	lastDir, err := LastSession(dir)
	require.NoError(t, err)
	require.Equal(t, savedDir, lastDir)
}

// newRecordedLooper spins up a Backend/Frontend pair with one recorded take
// of n frames of the given constant signal.
func newRecordedLooper(t *testing.T, id uint32, n int, l, r float32) (*looper.Shared, func()) {
	t.Helper()
	shared := looper.NewShared(id)
	backend := looper.NewBackend(shared, nil)
	go backend.Run()

	front := looper.NewFrontend(shared)
	front.HandleCommand(looper.CmdRecord{})
	waitUntil(t, func() bool { return shared.Mode() == looper.ModeRecording })

	frames := make([]dsp.Frame, n)
	for i := range frames {
		frames[i] = dsp.Frame{l, r}
	}
	front.ProcessInput(0, frames, metric.PartA)
	front.HandleCommand(looper.CmdPlay{})
	waitUntil(t, func() bool { return shared.Mode() == looper.ModePlaying && shared.Length() == int64(n) })

	stop := func() {
		select {
		case shared.Control <- looper.Deleted{}:
		default:
		}
	}
	return shared, stop
}

// TestSaveLoadRoundTripTwoLoopersOddMeter is the two-looper, 133.3 BPM, 7/8
// variant of the round trip: every descriptor field and each looper's take
// audio must survive, and loopers come back sorted by id.
func TestSaveLoadRoundTripTwoLoopersOddMeter(t *testing.T) {
	sharedB, stopB := newRecordedLooper(t, 2, 48, 0.125, -0.125)
	defer stopB()
	sharedA, stopA := newRecordedLooper(t, 1, 96, 0.25, -0.25)
	defer stopA()

	structure := metric.MetricStructure{
		Tempo:         metric.NewTempo(133.3),
		TimeSignature: metric.TimeSignature{Upper: 7, Lower: 8},
	}

	saver := NewSaver(nil)
	go saver.Run()
	defer saver.Close()
	saver.AddLooper(2, sharedB.Control)
	saver.AddLooper(1, sharedA.Control)

	savedDir, err := saver.SaveSession(SaveRequest{
		Metric:          structure,
		MetronomeVolume: 0.5,
		SyncMode:        metric.SyncBeat,
		Path:            t.TempDir(),
		SampleRate:      44100,
	})
	require.NoError(t, err)

	loaded, err := Load(savedDir, 44100, nil)
	require.NoError(t, err)
	require.Equal(t, structure, loaded.Metric)
	require.Equal(t, metric.SyncBeat, loaded.SyncMode)
	require.InDelta(t, 0.5, loaded.MetronomeVolume, 1e-9)
	require.Equal(t, 44100, loaded.SavedSampleRate)

	require.Len(t, loaded.Loopers, 2)
	require.Equal(t, uint32(1), loaded.Loopers[0].ID)
	require.Equal(t, uint32(2), loaded.Loopers[1].ID)

	require.Len(t, loaded.Loopers[0].Takes, 1)
	require.EqualValues(t, 96, loaded.Loopers[0].Takes[0].Len())
	l, r := loaded.Loopers[0].Takes[0].At(10)
	require.InDelta(t, 0.25, l, 1e-5)
	require.InDelta(t, -0.25, r, 1e-5)

	require.Len(t, loaded.Loopers[1].Takes, 1)
	require.EqualValues(t, 48, loaded.Loopers[1].Takes[0].Len())
	l, r = loaded.Loopers[1].Takes[0].At(10)
	require.InDelta(t, 0.125, l, 1e-5)
	require.InDelta(t, -0.125, r, 1e-5)
}

func TestLastSessionMissingPointerErrors(t *testing.T) {
	_, err := LastSession(t.TempDir())
	require.Error(t, err)
}
