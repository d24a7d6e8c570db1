package looper

import (
	"testing"

	"github.com/loopforge/engine/internal/dsp"
)

func framesWithSignal(n int) []dsp.Frame {
	out := make([]dsp.Frame, n)
	for i := range out {
		out[i] = dsp.Frame{0.5, -0.5}
	}
	return out
}

func newTestBackend() *Backend {
	shared := NewShared(1)
	return NewBackend(shared, nil)
}

// TestTakeLengthInvariant: a finished recording's length equals the number
// of frames fed to it, and Shared.Length reflects that length without going
// through the Backend goroutine.
func TestTakeLengthInvariant(t *testing.T) {
	b := newTestBackend()
	b.transitionTo(ModeRecording)
	b.handleInput(0, framesWithSignal(500))
	b.transitionTo(ModePlaying)

	if got := b.shared.Length(); got != 500 {
		t.Fatalf("Length() = %d, want 500", got)
	}
	if len(b.takes) != 1 {
		t.Fatalf("takes = %d, want 1", len(b.takes))
	}
}

// TestOverdubOnEmptyLooperCoercesToRecording: an Overdub transition on a
// looper with zero length becomes a Record instead.
func TestOverdubOnEmptyLooperCoercesToRecording(t *testing.T) {
	b := newTestBackend()
	b.transitionTo(ModeOverdubbing)
	if b.modeLocal != ModeRecording {
		t.Fatalf("modeLocal = %v, want ModeRecording (coerced)", b.modeLocal)
	}
}

func TestOverdubOnNonEmptyLooperAppendsTake(t *testing.T) {
	b := newTestBackend()
	b.transitionTo(ModeRecording)
	b.handleInput(0, framesWithSignal(200))
	b.transitionTo(ModePlaying)

	b.transitionTo(ModeOverdubbing)
	if b.modeLocal != ModeOverdubbing {
		t.Fatalf("modeLocal = %v, want ModeOverdubbing", b.modeLocal)
	}
	if len(b.takes) != 2 {
		t.Fatalf("takes = %d, want 2 after overdub append", len(b.takes))
	}
}

// TestUndoRedoChainRoundTrip: undoing then redoing a sequence of changes
// returns the looper to its post-change state.
func TestUndoRedoChainRoundTrip(t *testing.T) {
	b := newTestBackend()
	b.transitionTo(ModeRecording)
	b.handleInput(0, framesWithSignal(300))
	b.transitionTo(ModePlaying) // pushes unClearChange

	if !b.HasUndos() {
		t.Fatalf("expected an undo entry after finishing a recording")
	}

	b.undo() // applies unClearChange's inverse: clears the looper
	if len(b.takes) != 0 {
		t.Fatalf("after undo, takes = %d, want 0 (cleared)", len(b.takes))
	}
	if !b.HasRedos() {
		t.Fatalf("expected a redo entry after undo")
	}

	b.redo() // applies the redo entry's inverse: restores the take
	if len(b.takes) != 1 {
		t.Fatalf("after redo, takes = %d, want 1 (restored)", len(b.takes))
	}
	if b.shared.Length() != 300 {
		t.Fatalf("after redo, Length() = %d, want 300", b.shared.Length())
	}
}

// TestUndoAfterOverdubRestoresOriginalTake records a base take, overdubs a
// layer, and undoes: the looper is back to exactly the first take's content
// with both an undo (the original record) and a redo (the popped overdub)
// available.
func TestUndoAfterOverdubRestoresOriginalTake(t *testing.T) {
	b := newTestBackend()
	b.transitionTo(ModeRecording)
	b.handleInput(0, framesWithSignal(100))
	b.transitionTo(ModePlaying)

	b.transitionTo(ModeOverdubbing)
	b.handleInput(100, framesWithSignal(100)) // wraps onto loop positions 0..99
	b.transitionTo(ModePlaying)
	if len(b.takes) != 2 {
		t.Fatalf("takes = %d, want 2 before undo", len(b.takes))
	}

	b.undo()
	if len(b.takes) != 1 {
		t.Fatalf("takes = %d, want 1 after undoing the overdub", len(b.takes))
	}
	if !b.HasUndos() || !b.HasRedos() {
		t.Fatalf("HasUndos=%v HasRedos=%v, want both true", b.HasUndos(), b.HasRedos())
	}
	l, r := b.takes[0].At(50)
	if l != 0.5 || r != -0.5 {
		t.Fatalf("take content at 50 = (%f,%f), want the original (0.5,-0.5)", l, r)
	}
}

func TestClearThenUndoRestoresTakes(t *testing.T) {
	b := newTestBackend()
	b.transitionTo(ModeRecording)
	b.handleInput(0, framesWithSignal(128))
	b.transitionTo(ModePlaying)

	b.clear()
	if len(b.takes) != 0 {
		t.Fatalf("after clear, takes = %d, want 0", len(b.takes))
	}

	b.undo()
	if len(b.takes) != 1 {
		t.Fatalf("after undo of clear, takes = %d, want 1", len(b.takes))
	}
}

func TestLoadSnapshotBypassesUndoHistory(t *testing.T) {
	b := newTestBackend()
	b.transitionTo(ModeRecording)
	b.handleInput(0, framesWithSignal(64))
	b.transitionTo(ModePlaying)
	if !b.HasUndos() {
		t.Fatalf("expected undo history from the recording")
	}

	b.loadSnapshot(LoadSnapshot{
		Takes:  []*dsp.Sample{dsp.WithSize(10)},
		Offset: 0,
		Speed:  SpeedOne,
		Level:  1,
	})
	if b.HasUndos() || b.HasRedos() {
		t.Fatalf("loadSnapshot must clear undo/redo history")
	}
	if b.shared.Length() != 10 {
		t.Fatalf("Length() = %d, want 10 after snapshot restore", b.shared.Length())
	}
}
