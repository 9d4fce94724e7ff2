package mcsrw

import (
	"sync/atomic"

	"github.com/foedus-project/mcslock/block"
)

// simpleState packs a SimpleBlock's role, blocked/granted status, the
// class of whatever successor has registered behind it, and whether its
// acquire has finished finalizing (the step that lets consecutive
// readers form a chain without waiting on each other one at a time).
type simpleState uint32

const (
	simpleFlagReader    simpleState = 1 << 0
	simpleFlagGranted   simpleState = 1 << 1
	simpleSuccNone      simpleState = 0 << 2
	simpleSuccReader    simpleState = 1 << 2
	simpleSuccWriter    simpleState = 2 << 2
	simpleSuccMask      simpleState = 3 << 2
	simpleFlagFinalized simpleState = 1 << 4
)

// SimpleBlock is one queue node of the simple (non-cancellable) RW lock.
// The successor's identity is published in a field separate from the
// state word: a successor first announces its class in self (so the
// predecessor's release path knows what kind of thread to expect), and
// only afterwards installs its own (thread, block) id into succ — so
// "has a successor class registered" and "successor id is actually
// readable" are deliberately different questions (see SuccessorIsReady).
type SimpleBlock struct {
	self simpleState32
	succ atomic.Uint32 // encoded TailWord, 0 until installed
}

// simpleState32 is a tiny wrapper so simpleState gets atomic load/CAS
// without repeating uint32 casts everywhere below.
type simpleState32 struct{ v atomic.Uint32 }

func (s *simpleState32) load() simpleState           { return simpleState(s.v.Load()) }
func (s *simpleState32) store(val simpleState)       { s.v.Store(uint32(val)) }
func (s *simpleState32) cas(old, new simpleState) bool {
	return s.v.CompareAndSwap(uint32(old), uint32(new))
}

// InitReader resets the block for a fresh reader acquire attempt.
func (b *SimpleBlock) InitReader() {
	b.self.store(simpleFlagReader)
	b.succ.Store(0)
}

// InitWriter resets the block for a fresh writer acquire attempt.
func (b *SimpleBlock) InitWriter() {
	b.self.store(0)
	b.succ.Store(0)
}

// IsReader reports this block's fixed role.
func (b *SimpleBlock) IsReader() bool { return b.self.load()&simpleFlagReader != 0 }

// IsBlocked / IsGranted report whether this waiter has been let through.
func (b *SimpleBlock) IsBlocked() bool { return b.self.load()&simpleFlagGranted == 0 }
func (b *SimpleBlock) IsGranted() bool { return b.self.load()&simpleFlagGranted != 0 }

// Unblock grants this block, leaving its other bits untouched.
func (b *SimpleBlock) Unblock() {
	for {
		old := b.self.load()
		if !b.self.cas(old, old|simpleFlagGranted) {
			continue
		}
		return
	}
}

// HasSuccessor reports whether a successor class has been registered
// (not necessarily that its id is installed yet; see SuccessorIsReady).
func (b *SimpleBlock) HasSuccessor() bool { return b.self.load()&simpleSuccMask != simpleSuccNone }

// HasReaderSuccessor / HasWriterSuccessor report the registered class.
func (b *SimpleBlock) HasReaderSuccessor() bool {
	return b.self.load()&simpleSuccMask == simpleSuccReader
}
func (b *SimpleBlock) HasWriterSuccessor() bool {
	return b.self.load()&simpleSuccMask == simpleSuccWriter
}

// SetSuccessorClassReader registers a reader successor class. Only the
// block's own pending grant path reads this class: a reader block's
// forward-grant check runs once, when it is granted, and ReleaseReader
// never forwards a grant to a reader successor, so a reader class set on
// an already-granted reader is never acted on (see TryClaimReaderSuccessor).
func (b *SimpleBlock) SetSuccessorClassReader() {
	for {
		old := b.self.load()
		new := old&^simpleSuccMask | simpleSuccReader
		if b.self.cas(old, new) {
			return
		}
	}
}

// SetSuccessorClassWriter registers a writer successor class without
// disturbing the blocked/granted bit.
func (b *SimpleBlock) SetSuccessorClassWriter() {
	for {
		old := b.self.load()
		new := old&^simpleSuccMask | simpleSuccWriter
		if b.self.cas(old, new) {
			return
		}
	}
}

// TryClaimReaderSuccessor registers a reader successor class in a single
// CAS, gated on this block still being blocked with no successor of its
// own recorded yet. A false return means this block has already been
// granted: its one-shot forward-grant check (the tail end of the other
// reader's AcquireReader, whether that ran via the fast path or via
// another predecessor's cascade) has already run and will not run again,
// so the caller must join the active reader group directly instead of
// registering behind a check that will never happen.
func (b *SimpleBlock) TryClaimReaderSuccessor() bool {
	return b.self.cas(simpleFlagReader, simpleFlagReader|simpleSuccReader)
}

// SetSuccessorNextOnly installs the successor's (thread, block) id. It
// leaves the successor class bits alone: callers set those first, except
// a reader barging onto an already-granted reader, which installs only
// the id.
func (b *SimpleBlock) SetSuccessorNextOnly(tid block.ThreadID, idx block.BlockIndex) {
	b.succ.Store(uint32(block.MakeTail(tid, idx)))
}

// SuccessorIsReady reports whether the successor's id has actually been
// published (as opposed to just its class bits).
func (b *SimpleBlock) SuccessorIsReady() bool { return b.succ.Load() != 0 }

// SuccessorThreadID / SuccessorBlockIndex decode the installed successor.
func (b *SimpleBlock) SuccessorThreadID() block.ThreadID {
	return block.TailWord(b.succ.Load()).ThreadID()
}
func (b *SimpleBlock) SuccessorBlockIndex() block.BlockIndex {
	return block.TailWord(b.succ.Load()).BlockIndex()
}

// SetFinalized / IsFinalized mark the end of a reader's finalize step.
func (b *SimpleBlock) SetFinalized() {
	for {
		old := b.self.load()
		if b.self.cas(old, old|simpleFlagFinalized) {
			return
		}
	}
}
func (b *SimpleBlock) IsFinalized() bool { return b.self.load()&simpleFlagFinalized != 0 }
