package trigger

import (
	"testing"

	"github.com/loopforge/engine/internal/metric"
)

const sampleRate = 44100

func fourFour120() metric.MetricStructure {
	return metric.MetricStructure{
		Tempo:         metric.NewTempo(120),
		TimeSignature: metric.TimeSignature{Upper: 4, Lower: 4},
	}
}

func TestImmediateFiresAtZero(t *testing.T) {
	tg := New(Immediate, "cmd", fourFour120(), 12345, sampleRate)
	if tg.FireTime != 0 {
		t.Fatalf("FireTime = %d, want 0", tg.FireTime)
	}
}

// TestMeasureFireTimeLaw: for condition Measure and start_time >= 0,
// fire_time is a multiple of samples_per_beat*upper, is >= start_time, and
// the gap is less than one measure.
func TestMeasureFireTimeLaw(t *testing.T) {
	structure := fourFour120()
	period := structure.SamplesPerBeat(sampleRate) * int64(structure.TimeSignature.Upper)
	for _, start := range []metric.FrameTime{0, 1, metric.FrameTime(period - 1), metric.FrameTime(period), metric.FrameTime(period + 1), metric.FrameTime(5 * period)} {
		tg := New(Measure, "cmd", structure, start, sampleRate)
		if int64(tg.FireTime)%period != 0 {
			t.Errorf("start=%d: FireTime %d not a multiple of period %d", start, tg.FireTime, period)
		}
		if tg.FireTime < start {
			t.Errorf("start=%d: FireTime %d < start", start, tg.FireTime)
		}
		if int64(tg.FireTime-start) >= period {
			t.Errorf("start=%d: FireTime %d is a full period or more ahead", start, tg.FireTime)
		}
	}
}

func TestMeasureWithNegativeStartWaitsForDownbeat(t *testing.T) {
	tg := New(Measure, "cmd", fourFour120(), -5000, sampleRate)
	if tg.FireTime != 0 {
		t.Fatalf("FireTime = %d, want 0 for negative start_time", tg.FireTime)
	}
}

// TestBeatFireTimeLaw: the Beat analogue of the Measure law above.
func TestBeatFireTimeLaw(t *testing.T) {
	structure := fourFour120()
	period := structure.SamplesPerBeat(sampleRate)
	for _, start := range []metric.FrameTime{0, 1, metric.FrameTime(period - 1), metric.FrameTime(period), metric.FrameTime(period + 1), metric.FrameTime(9 * period)} {
		tg := New(Beat, "cmd", structure, start, sampleRate)
		if int64(tg.FireTime)%period != 0 {
			t.Errorf("start=%d: FireTime %d not a multiple of period %d", start, tg.FireTime, period)
		}
		if tg.FireTime < start {
			t.Errorf("start=%d: FireTime %d < start", start, tg.FireTime)
		}
		if int64(tg.FireTime-start) >= period {
			t.Errorf("start=%d: FireTime %d is a full period or more ahead", start, tg.FireTime)
		}
	}
}

func TestQueuePeekReturnsEarliestFireTime(t *testing.T) {
	q := NewQueue()
	q.Push(Trigger{FireTime: 500})
	q.Push(Trigger{FireTime: 100})
	q.Push(Trigger{FireTime: 300})

	got, ok := q.Peek()
	if !ok || got.FireTime != 100 {
		t.Fatalf("Peek() = %+v, ok=%v, want FireTime=100", got, ok)
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (Peek must not remove)", q.Len())
	}
}

func TestQueuePopEarliestDrainsInOrder(t *testing.T) {
	q := NewQueue()
	q.Push(Trigger{FireTime: 500})
	q.Push(Trigger{FireTime: 100})
	q.Push(Trigger{FireTime: 300})

	var order []int64
	for q.Len() > 0 {
		tg, _ := q.PopEarliest()
		order = append(order, int64(tg.FireTime))
	}
	want := []int64{100, 300, 500}
	for i, v := range want {
		if order[i] != v {
			t.Fatalf("pop order = %v, want %v", order, want)
		}
	}
}

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	q := NewQueue()
	for i := 0; i < Capacity; i++ {
		q.Push(Trigger{FireTime: metric.FrameTime(i)})
	}
	dropped := q.Push(Trigger{FireTime: metric.FrameTime(Capacity)})
	if !dropped {
		t.Fatalf("expected Push to report a drop once the queue is at capacity")
	}
	if q.Len() != Capacity {
		t.Fatalf("Len() = %d, want %d", q.Len(), Capacity)
	}
}

func TestQueueClearDiscardsAll(t *testing.T) {
	q := NewQueue()
	q.Push(Trigger{FireTime: 1})
	q.Push(Trigger{FireTime: 2})
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", q.Len())
	}
}
