package mcsrw

import (
	"github.com/foedus-project/mcslock/block"
	"github.com/foedus-project/mcslock/spin"
)

// ExtAdaptor is the capability set the cancellable RW lock needs from
// block storage. ExtendedAdaptor is the production implementation.
type ExtAdaptor interface {
	ThreadID() block.ThreadID
	IssueBlock() (block.BlockIndex, error)
	MyBlock(idx block.BlockIndex) *ExtendedBlock
	OtherBlock(tid block.ThreadID, idx block.BlockIndex) *ExtendedBlock
	// OtherCurrentBlock locates the block a peer thread is presently
	// using by thread id alone, for the next-writer handoff which has
	// no chain pointer to follow.
	OtherCurrentBlock(tid block.ThreadID) block.BlockIndex
}

func extBlockOf(a ExtAdaptor, tid block.ThreadID, idx block.BlockIndex) *ExtendedBlock {
	if tid == a.ThreadID() {
		return a.MyBlock(idx)
	}
	return a.OtherBlock(tid, idx)
}

// AcquireReader enqueues the calling thread as a reader, waiting up to
// budget for the lock. It reports whether the lock was acquired; on a
// false return the caller holds nothing and must not call ReleaseReader.
func (l *Lock) AcquireReader(a ExtAdaptor, budget spin.Budget) (block.BlockIndex, bool, error) {
	idx, err := a.IssueBlock()
	if err != nil {
		return 0, false, err
	}
	my := a.MyBlock(idx)
	my.InitReader()
	myTail := block.MakeTail(a.ThreadID(), idx)

	predTail := l.XchgTail(myTail)
	if predTail.Empty() {
		l.IncrementReaders()
		my.Unblock()
		extCascadeReaderGrant(l, a, a.ThreadID(), idx)
		return idx, true, nil
	}

	my.SetPredecessor(predTail)
	pred := extBlockOf(a, predTail.ThreadID(), predTail.BlockIndex())
	switch {
	case pred.IsReader() && pred.TryClaimReaderSuccessor():
		// Won the race to register before pred's own grant became final.
		pred.SetSuccessorNextOnly(a.ThreadID(), idx)
	case pred.IsReader() && pred.IsGranted():
		// pred's own forward-grant check already ran and will not run
		// again. Join its active reader group directly instead of
		// registering behind a check that will never happen; still
		// record the id (not the class) in case pred's own release ever
		// needs to hand off a next_writer.
		pred.SetSuccessorNextOnly(a.ThreadID(), idx)
		l.IncrementReaders()
		my.Unblock()
	default:
		// Writer predecessor, or a reader predecessor that is mid-cancel:
		// either way pred's own release/leaving path is still pending and
		// will find us, the leaving path by splicing us onto whatever it
		// leaves behind.
		pred.SetSuccessorClassReader()
		pred.SetSuccessorNextOnly(a.ThreadID(), idx)
	}

	if spin.UntilBudget(my.IsGranted, budget) {
		extCascadeReaderGrant(l, a, a.ThreadID(), idx)
		return idx, true, nil
	}
	if budget == spin.Zero {
		// Not yet granted, but we never actually waited: leave the block
		// queued for a later RetryAsyncReader/CancelAsyncReader instead
		// of abandoning the wait outright.
		return idx, false, nil
	}
	return idx, cancelQueuedWaiter(l, a, my, myTail), nil
}

// AcquireWriter enqueues the calling thread as a writer, waiting up to
// budget for exclusive access.
func (l *Lock) AcquireWriter(a ExtAdaptor, budget spin.Budget) (block.BlockIndex, bool, error) {
	idx, err := a.IssueBlock()
	if err != nil {
		return 0, false, err
	}
	my := a.MyBlock(idx)
	my.InitWriter()
	myTail := block.MakeTail(a.ThreadID(), idx)

	predTail := l.XchgTail(myTail)
	if predTail.Empty() {
		// An empty tail only means we're the last in the queue, not that
		// the lock is idle: a solo queued reader can reset the tail to 0
		// on release while earlier readers it never chained behind are
		// still holding. Race for the lock via next_writer instead of
		// assuming nreaders is already zero.
		l.SetNextWriter(a.ThreadID())
		if l.NReaders() == 0 && l.XchgNextWriter(NextWriterNone) == a.ThreadID() {
			my.Unblock()
			return idx, true, nil
		}
	} else {
		my.SetPredecessor(predTail)
		pred := extBlockOf(a, predTail.ThreadID(), predTail.BlockIndex())
		pred.SetSuccessorClassWriter()
		pred.SetSuccessorNextOnly(a.ThreadID(), idx)
	}

	if spin.UntilBudget(my.IsGranted, budget) {
		return idx, true, nil
	}
	if budget == spin.Zero {
		return idx, false, nil
	}
	return idx, cancelQueuedWaiter(l, a, my, myTail), nil
}

// ReleaseReader releases a reader hold acquired via AcquireReader or
// TryAcquireReader. Every releasing reader, not just the last one out,
// must publish a queued writer successor into next_writer: the tail can
// go empty while earlier-enqueued readers are still holding, so "am I
// the last reader" is not a reliable gate for "have I seen the queued
// writer".
func (l *Lock) ReleaseReader(a ExtAdaptor, idx block.BlockIndex) {
	my := a.MyBlock(idx)
	myTail := block.MakeTail(a.ThreadID(), idx)

	if my.HasSuccessor() || !l.CasTail(myTail, 0) {
		spin.Until(my.SuccessorIsReady)
		if my.HasWriterSuccessor() {
			l.SetNextWriter(my.SuccessorThreadID())
		}
	}

	if l.DecrementReaders() != 1 {
		return
	}
	extGrantQueuedWriter(l, a)
}

// ReleaseWriter releases a writer hold acquired via AcquireWriter or
// TryAcquireWriter.
func (l *Lock) ReleaseWriter(a ExtAdaptor, idx block.BlockIndex) {
	my := a.MyBlock(idx)
	myTail := block.MakeTail(a.ThreadID(), idx)
	extGrantNext(l, a, my, myTail)
}

// TryAcquireReader attempts to acquire the lock for reading without
// waiting, succeeding only against a fully idle lock.
func (l *Lock) TryAcquireReader(a ExtAdaptor) (block.BlockIndex, bool, error) {
	tail, nw, nr := l.LoadFull()
	if !tail.Empty() || nw != NextWriterNone || nr != 0 {
		return 0, false, nil
	}
	idx, err := a.IssueBlock()
	if err != nil {
		return 0, false, err
	}
	my := a.MyBlock(idx)
	my.InitReader()
	myTail := block.MakeTail(a.ThreadID(), idx)
	if !l.CasFull(block.TailWord(0), NextWriterNone, 0, myTail, NextWriterNone, 1) {
		return 0, false, nil
	}
	my.Unblock()
	return idx, true, nil
}

// TryAcquireWriter attempts to acquire the lock for writing without
// waiting, succeeding only against a fully idle lock.
func (l *Lock) TryAcquireWriter(a ExtAdaptor) (block.BlockIndex, bool, error) {
	tail, nw, nr := l.LoadFull()
	if !tail.Empty() || nw != NextWriterNone || nr != 0 {
		return 0, false, nil
	}
	idx, err := a.IssueBlock()
	if err != nil {
		return 0, false, err
	}
	my := a.MyBlock(idx)
	my.InitWriter()
	myTail := block.MakeTail(a.ThreadID(), idx)
	if !l.CasFull(block.TailWord(0), NextWriterNone, 0, myTail, NextWriterNone, 0) {
		return 0, false, nil
	}
	my.Unblock()
	return idx, true, nil
}

// extCascadeReaderGrant mirrors the simple lock's cascade, but must defer
// to a successor that cancels mid-grant: if Unblock refuses because the
// successor marked itself leaving, this waits for the cancelling node to
// rewrite cur's successor fields (to whatever it relinked, or to none)
// before retrying, rather than granting a waiter that gave up.
func extCascadeReaderGrant(l *Lock, a ExtAdaptor, tid block.ThreadID, idx block.BlockIndex) {
	cur := extBlockOf(a, tid, idx)
	for {
		if !cur.HasSuccessor() || !cur.HasReaderSuccessor() {
			return
		}
		spin.Until(cur.SuccessorIsReady)
		succTid, succIdx := cur.SuccessorThreadID(), cur.SuccessorBlockIndex()
		succ := extBlockOf(a, succTid, succIdx)
		if succ.Unblock() {
			l.IncrementReaders()
			cur = succ
			continue
		}
		spin.Until(func() bool {
			return !cur.HasSuccessor() || cur.SuccessorThreadID() != succTid || cur.SuccessorBlockIndex() != succIdx
		})
	}
}
