package mcsrw

import (
	"github.com/foedus-project/mcslock/block"
	"github.com/foedus-project/mcslock/spin"
)

// cancelQueuedWaiter implements the leaving protocol for a waiter whose
// wait budget expired. It reports whether the caller actually holds the
// lock: MarkLeaving can lose a race to a predecessor that was already
// mid-grant, in which case the "cancel" silently becomes a successful
// acquire and the caller must treat it as such.
func cancelQueuedWaiter(l *Lock, a ExtAdaptor, my *ExtendedBlock, myTail block.TailWord) bool {
	if !my.MarkLeaving() {
		// Already granted before we could mark ourselves as leaving.
		if my.IsReader() {
			extCascadeReaderGrant(l, a, myTail.ThreadID(), myTail.BlockIndex())
		}
		return true
	}

	for {
		predTail := my.Predecessor()

		if !my.HasSuccessor() {
			if l.CasTail(myTail, predTail) {
				if !predTail.Empty() {
					pred := extBlockOf(a, predTail.ThreadID(), predTail.BlockIndex())
					pred.ClearSuccessor()
				}
				return false
			}
			// Someone linked behind us (or our predecessor's tail moved)
			// since our last check; re-read and retry.
			spin.Until(func() bool { return my.HasSuccessor() || l.Tail() != myTail })
			continue
		}

		// A successor already linked to us: we cannot vanish invisibly,
		// so splice it directly onto our own predecessor instead.
		spin.Until(my.SuccessorIsReady)
		succTid, succIdx := my.SuccessorThreadID(), my.SuccessorBlockIndex()
		succ := extBlockOf(a, succTid, succIdx)
		succ.SetPredecessor(predTail)

		if predTail.Empty() {
			// We were the head: the successor becomes the new head. It
			// will discover this the next time it checks its own
			// predecessor and finds the lock uncontended from its
			// perspective, so there's nothing further to splice.
			return false
		}

		pred := extBlockOf(a, predTail.ThreadID(), predTail.BlockIndex())
		class := extSuccWriter
		if succ.IsReader() {
			class = extSuccReader
		}
		pred.RelinkSuccessor(class, succTid, succIdx)
		return false
	}
}

// extGrantNext is ReleaseWriter's "wake whoever comes next" step: a
// writer always knows its direct chain successor, reader or writer,
// with no next_writer indirection needed. A successor that cancels
// between this being read and being granted does not get a free pass:
// this waits for the cancelling node's relink to land and retries
// against the result.
func extGrantNext(l *Lock, a ExtAdaptor, my *ExtendedBlock, myTail block.TailWord) {
	for {
		if !my.HasSuccessor() {
			if l.CasTail(myTail, 0) {
				return
			}
			spin.Until(my.HasSuccessor)
			continue
		}

		spin.Until(my.SuccessorIsReady)
		succTid, succIdx := my.SuccessorThreadID(), my.SuccessorBlockIndex()
		succ := extBlockOf(a, succTid, succIdx)

		if succ.Unblock() {
			if succ.IsReader() {
				l.IncrementReaders()
				extCascadeReaderGrant(l, a, succTid, succIdx)
			}
			return
		}

		spin.Until(func() bool {
			return !my.HasSuccessor() || my.SuccessorThreadID() != succTid || my.SuccessorBlockIndex() != succIdx
		})
	}
}

// extGrantQueuedWriter wakes the writer published in next_writer, if one
// is registered and the caller has just observed the reader count reach
// zero. The CAS makes this safe to call from multiple simultaneously
// last readers: only one of them will see next_writer still set to the
// thread it read and win the handoff.
func extGrantQueuedWriter(l *Lock, a ExtAdaptor) {
	next := l.NextWriter()
	if next == NextWriterNone || l.NReaders() != 0 {
		return
	}
	if !l.CasNextWriter(next, NextWriterNone) {
		return
	}
	widx := a.OtherCurrentBlock(next)
	writer := a.OtherBlock(next, widx)
	writer.Unblock()
}

// RetryAsyncReader polls a block from a zero-budget AcquireReader (or one
// a prior RetryAsyncReader call found not yet granted) that has not yet
// been granted. It reports whether the lock is now held; a true return runs
// the same finalize step AcquireReader itself would have run on a
// successful wait, so a cascade of readers queued behind this one still
// gets woken.
func (l *Lock) RetryAsyncReader(a ExtAdaptor, idx block.BlockIndex) bool {
	my := a.MyBlock(idx)
	if !my.IsGranted() {
		return false
	}
	extCascadeReaderGrant(l, a, a.ThreadID(), idx)
	return true
}

// RetryAsyncWriter polls a block from a zero-budget AcquireWriter (or one
// a prior RetryAsyncWriter call found not yet granted) that has not yet
// been granted. It reports whether the lock is now held.
func (l *Lock) RetryAsyncWriter(a ExtAdaptor, idx block.BlockIndex) bool {
	return a.MyBlock(idx).IsGranted()
}

// CancelAsyncReader abandons a still-pending AcquireReader call. Unlike
// the internal cancel used by a timed-out AcquireReader, this always
// resolves the lock one way or the other: if the wait actually won the
// race to be granted, it releases the reader hold on the caller's
// behalf instead of leaving it held by a thread that already walked
// away. It must be called with the same idx AcquireReader returned, and
// only when that call reported false.
func (l *Lock) CancelAsyncReader(a ExtAdaptor, idx block.BlockIndex) {
	if l.RetryAsyncReader(a, idx) {
		l.ReleaseReader(a, idx)
		return
	}
	my := a.MyBlock(idx)
	myTail := block.MakeTail(a.ThreadID(), idx)
	if cancelQueuedWaiter(l, a, my, myTail) {
		l.ReleaseReader(a, idx)
	}
}

// CancelAsyncWriter abandons a still-pending AcquireWriter call, with the
// same auto-release contract as CancelAsyncReader.
func (l *Lock) CancelAsyncWriter(a ExtAdaptor, idx block.BlockIndex) {
	my := a.MyBlock(idx)
	myTail := block.MakeTail(a.ThreadID(), idx)
	if cancelQueuedWaiter(l, a, my, myTail) {
		l.ReleaseWriter(a, idx)
	}
}
