// Package mcsww implements the writer/writer MCS lock: a fair,
// queue-based mutex in the classic Mellor-Crummey/Scott style, extended
// with a "guest" mode that lets a thread with no pre-allocated queue
// node participate in the same lock word.
//
// This is the WW lock's shape ported from github.com/ahrav/go-locks's
// mcs.Lock — same Lock/Unlock xchg-then-link dance, with no try-acquire
// counterpart — generalized to route queue nodes through a block.Adaptor
// (arena-indexed blocks rather than *QNode pointers) so the lock word is
// a 32-bit index pair rather than a pointer. It keeps its own wait queue:
// the reader/writer locks in mcsrw use their own lock word and blocks.
//
// Each thread must supply its own block.WWAdaptor; a single adaptor must
// never be driven concurrently by two goroutines.
package mcsww

import (
	"sync/atomic"

	"github.com/foedus-project/mcslock/block"
	"github.com/foedus-project/mcslock/spin"
)

// Adaptor is the capability set the WW lock needs from block storage.
// block.WWAdaptor is the production implementation; tests may supply a
// smaller fake.
type Adaptor interface {
	ThreadID() block.ThreadID
	IssueBlock() (block.BlockIndex, error)
	MyBlock(idx block.BlockIndex) *block.WWBlock
	OtherBlock(tid block.ThreadID, idx block.BlockIndex) *block.WWBlock
	Waiting() *atomic.Bool
	OtherWaiting(tid block.ThreadID) *atomic.Bool
}

// Lock is a single WW-lock word: the queue tail, or the current holder
// when uncontended, or block.GuestID when a guest holds it. Zero value
// is a free lock. Wire layout: 4 bytes, [block_index:16 | thread_id:16].
type Lock struct {
	word atomic.Uint32
}

// IsLocked reports whether the lock is currently held by anyone.
func (l *Lock) IsLocked() bool { return l.word.Load() != 0 }

// AcquireUnconditional enqueues the calling thread and blocks until it
// holds the lock, returning the block index it acquired with (needed
// later by Release).
func (l *Lock) AcquireUnconditional(a Adaptor) (block.BlockIndex, error) {
	idx, err := a.IssueBlock()
	if err != nil {
		return 0, err
	}
	my := a.MyBlock(idx)
	my.ClearSuccessor()
	a.Waiting().Store(true)
	// groupTail is normally our own tail word, but if we end up dethroning
	// an active guest phase we forward it to whoever raced in behind us in
	// the meantime, so that thread's predecessor link still resolves.
	groupTail := uint32(block.MakeTail(a.ThreadID(), idx))

	var predWord uint32
	for {
		// A guest holds the lock lock-lessly; wait it out before trying
		// to enqueue behind whatever real waiter it eventually hands off to.
		if l.word.Load() == uint32(block.GuestID) {
			spin.Until(func() bool { return l.word.Load() != uint32(block.GuestID) })
		}
		predWord = l.word.Swap(groupTail)
		if predWord == 0 {
			// Uncontended: got it.
			a.Waiting().Store(false)
			return idx, nil
		}
		if predWord == uint32(block.GuestID) {
			// We just stole the tail slot from a guest phase; hand it right
			// back so the guest can keep spinning on it, and retry once
			// it's gone.
			groupTail = l.word.Swap(uint32(block.GuestID))
			continue
		}
		break
	}

	pred := block.TailWord(predWord)
	predBlock := a.OtherBlock(pred.ThreadID(), pred.BlockIndex())
	predBlock.SetSuccessor(a.ThreadID(), idx)
	spin.Until(func() bool { return !a.Waiting().Load() })
	return idx, nil
}

// Release releases the lock previously acquired with AcquireUnconditional
// using the same block index.
func (l *Lock) Release(a Adaptor, idx block.BlockIndex) {
	myTail := uint32(block.MakeTail(a.ThreadID(), idx))
	my := a.MyBlock(idx)
	if !my.HasSuccessor() {
		if l.word.CompareAndSwap(myTail, 0) {
			return
		}
		// Someone is mid-enqueue behind us; wait for them to finish linking.
		spin.Until(my.HasSuccessor)
	}
	succ := my.Successor()
	a.OtherWaiting(succ.ThreadID()).Store(false)
}

// Initial pre-seeds the lock as held by the calling thread, for tests
// and benchmarks that want to start inside a single-phase critical
// section without going through a full acquire.
func (l *Lock) Initial(a Adaptor) (block.BlockIndex, error) {
	idx, err := a.IssueBlock()
	if err != nil {
		return 0, err
	}
	my := a.MyBlock(idx)
	my.ClearSuccessor()
	l.word.Store(uint32(block.MakeTail(a.ThreadID(), idx)))
	return idx, nil
}

// OwnerlessInitial pre-seeds the lock as held by the guest sentinel.
func (l *Lock) OwnerlessInitial() {
	l.word.Store(uint32(block.GuestID))
}

// OwnerlessAcquireUnconditional lets a thread with no block participate
// as a guest: it CASes the guest sentinel into the lock word once the
// word is free, coexisting with real, block-owning waiters.
func (l *Lock) OwnerlessAcquireUnconditional() {
	spin.Until(func() bool { return l.word.CompareAndSwap(0, uint32(block.GuestID)) })
}

// OwnerlessRelease releases a lock held in guest mode.
func (l *Lock) OwnerlessRelease() {
	spin.Until(func() bool { return l.word.CompareAndSwap(uint32(block.GuestID), 0) })
}
