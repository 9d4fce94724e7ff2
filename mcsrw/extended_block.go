package mcsrw

import (
	"sync/atomic"

	"github.com/foedus-project/mcslock/block"
)

// extState is the same shape as simpleState (role/granted/successor-class
// bits) plus one more bit: a waiter that gave up on waiting marks itself
// "leaving" so its predecessor's grant and its own cancel can never both
// win — whichever of Unblock/MarkLeaving commits first blocks the other.
type extState uint32

const (
	extFlagReader  extState = 1 << 0
	extFlagGranted extState = 1 << 1
	extFlagLeaving extState = 1 << 2
	extSuccNone    extState = 0 << 3
	extSuccReader  extState = 1 << 3
	extSuccWriter  extState = 2 << 3
	extSuccMask    extState = 3 << 3
)

type extState32 struct{ v atomic.Uint32 }

func (s *extState32) load() extState { return extState(s.v.Load()) }
func (s *extState32) store(val extState) { s.v.Store(uint32(val)) }
func (s *extState32) cas(old, new extState) bool {
	return s.v.CompareAndSwap(uint32(old), uint32(new))
}

// ExtendedBlock is one queue node of the cancellable RW lock. Besides the
// successor link every MCS block carries, it also remembers its own
// predecessor so a waiter that times out can relink around itself
// without walking the queue from the tail.
type ExtendedBlock struct {
	self extState32
	pred atomic.Uint32 // encoded TailWord of our predecessor, 0 = we were head
	succ atomic.Uint32 // encoded TailWord of our successor, 0 = none yet
}

// InitReader / InitWriter reset the block for a fresh acquire attempt.
func (b *ExtendedBlock) InitReader() {
	b.self.store(extFlagReader)
	b.pred.Store(0)
	b.succ.Store(0)
}
func (b *ExtendedBlock) InitWriter() {
	b.self.store(0)
	b.pred.Store(0)
	b.succ.Store(0)
}

func (b *ExtendedBlock) IsReader() bool { return b.self.load()&extFlagReader != 0 }
func (b *ExtendedBlock) IsBlocked() bool {
	return b.self.load()&(extFlagGranted|extFlagLeaving) == 0
}
func (b *ExtendedBlock) IsGranted() bool { return b.self.load()&extFlagGranted != 0 }
func (b *ExtendedBlock) IsLeaving() bool { return b.self.load()&extFlagLeaving != 0 }

// Unblock grants this block, unless it has already marked itself as
// leaving in which case the grant is refused: the caller must treat this
// waiter as gone and let its own cancel path relink around it.
func (b *ExtendedBlock) Unblock() bool {
	for {
		old := b.self.load()
		if old&extFlagLeaving != 0 {
			return false
		}
		if b.self.cas(old, old|extFlagGranted) {
			return true
		}
	}
}

// MarkLeaving records this block's intent to cancel, unless it has
// already been granted in which case the cancel is refused: the caller
// must treat the acquire as having succeeded instead.
func (b *ExtendedBlock) MarkLeaving() bool {
	for {
		old := b.self.load()
		if old&extFlagGranted != 0 {
			return false
		}
		if b.self.cas(old, old|extFlagLeaving) {
			return true
		}
	}
}

func (b *ExtendedBlock) HasSuccessor() bool { return b.self.load()&extSuccMask != extSuccNone }
func (b *ExtendedBlock) HasReaderSuccessor() bool {
	return b.self.load()&extSuccMask == extSuccReader
}
func (b *ExtendedBlock) HasWriterSuccessor() bool {
	return b.self.load()&extSuccMask == extSuccWriter
}

func (b *ExtendedBlock) SetSuccessorClassReader() {
	for {
		old := b.self.load()
		new := old&^extSuccMask | extSuccReader
		if b.self.cas(old, new) {
			return
		}
	}
}
func (b *ExtendedBlock) SetSuccessorClassWriter() {
	for {
		old := b.self.load()
		new := old&^extSuccMask | extSuccWriter
		if b.self.cas(old, new) {
			return
		}
	}
}

// ClearSuccessor resets both the successor class and its id, used by a
// cancelling waiter to tell its predecessor "I'm gone, you have nobody
// queued behind you anymore".
func (b *ExtendedBlock) ClearSuccessor() {
	for {
		old := b.self.load()
		new := old &^ extSuccMask
		if b.self.cas(old, new) {
			b.succ.Store(0)
			return
		}
	}
}

// TryClaimReaderSuccessor registers a reader successor class in a single
// CAS, gated on this block still being blocked with no successor, not
// granted, and not leaving. A false return means this block has already
// been resolved one way or the other: granted (its one-shot forward-
// grant check already ran and won't run again, so the caller should join
// directly) or leaving (its own cancel path is still pending and already
// knows how to splice a normally-registered successor around it, so the
// caller should fall back to registering and waiting instead).
func (b *ExtendedBlock) TryClaimReaderSuccessor() bool {
	return b.self.cas(extFlagReader, extFlagReader|extSuccReader)
}

// SetSuccessorNextOnly installs the successor's (thread, block) id. It
// leaves the successor class bits alone: callers set those first, except
// a reader barging onto an already-granted reader, which installs only
// the id.
func (b *ExtendedBlock) SetSuccessorNextOnly(tid block.ThreadID, idx block.BlockIndex) {
	b.succ.Store(uint32(block.MakeTail(tid, idx)))
}

// RelinkSuccessor replaces the successor class (one CAS on the state word)
// and then the successor id (a separate store), used by a cancelling
// waiter to splice its own successor onto its predecessor. The two writes
// are not one atomic step: between them a concurrent reader sees the new
// class with the previous id, which still names the cancelling block.
func (b *ExtendedBlock) RelinkSuccessor(class extState, tid block.ThreadID, idx block.BlockIndex) {
	for {
		old := b.self.load()
		new := old&^extSuccMask | class
		if b.self.cas(old, new) {
			b.succ.Store(uint32(block.MakeTail(tid, idx)))
			return
		}
	}
}

func (b *ExtendedBlock) SuccessorIsReady() bool { return b.succ.Load() != 0 }
func (b *ExtendedBlock) SuccessorThreadID() block.ThreadID {
	return block.TailWord(b.succ.Load()).ThreadID()
}
func (b *ExtendedBlock) SuccessorBlockIndex() block.BlockIndex {
	return block.TailWord(b.succ.Load()).BlockIndex()
}

// SetPredecessor / Predecessor / HasPredecessor track the block this one
// linked behind, used only by the cancellation path.
func (b *ExtendedBlock) SetPredecessor(tail block.TailWord) { b.pred.Store(uint32(tail)) }
func (b *ExtendedBlock) Predecessor() block.TailWord         { return block.TailWord(b.pred.Load()) }
func (b *ExtendedBlock) HasPredecessor() bool                { return b.pred.Load() != 0 }
