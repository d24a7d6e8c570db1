package looper

import "github.com/loopforge/engine/internal/dsp"

// change is a reversible mutation on a Backend's take set. applyInverse
// performs the inverse of the recorded change and returns the change that
// would undo *that*, which the caller pushes onto the opposite stack.
type change interface {
	applyInverse(b *Backend) change
}

// pushSample records that a take was appended (entering Overdubbing).
// Its inverse pops that take back off.
type pushSample struct{}

func (pushSample) applyInverse(b *Backend) change {
	var popped *dsp.Sample
	if n := len(b.takes); n > 0 {
		popped = b.takes[n-1]
		b.takes = b.takes[:n-1]
		b.recomputeLength()
	}
	return popSample{take: popped}
}

// popSample records that a take was removed; its inverse re-appends it.
type popSample struct {
	take *dsp.Sample
}

func (c popSample) applyInverse(b *Backend) change {
	if c.take != nil {
		b.takes = append(b.takes, c.take)
		b.recomputeLength()
	}
	return pushSample{}
}

// clearChange captures full looper state immediately before a Clear.
// Its inverse restores that state and leaves an unClearChange behind so
// redoing re-clears.
type clearChange struct {
	takes   []*dsp.Sample
	inTime  int64
	outTime int64
	offset  int64
}

func (c clearChange) applyInverse(b *Backend) change {
	b.takes = c.takes
	b.inTime = c.inTime
	b.outTime = c.outTime
	b.offset = c.offset
	b.recomputeLength()
	b.setModeNoHooks(ModePlaying)
	return unClearChange{}
}

// unClearChange is pushed after a recording completes (finish_recording)
// and, symmetrically, after an applyInverse of clearChange. Its inverse
// captures current state into a clearChange and wipes the looper, exactly
// what an explicit Clear command does.
type unClearChange struct{}

func (unClearChange) applyInverse(b *Backend) change {
	snap := clearChange{takes: b.takes, inTime: b.inTime, outTime: b.outTime, offset: b.offset}
	b.takes = nil
	b.inTime = 0
	b.outTime = 0
	b.offset = 0
	b.recomputeLength()
	b.setModeNoHooks(ModePlaying)
	return snap
}
