package mcsrw

import (
	"github.com/foedus-project/mcslock/block"
	"github.com/foedus-project/mcslock/spin"
)

// Adaptor is the capability set the simple RW lock needs from block
// storage. SimpleAdaptor is the production implementation.
type Adaptor interface {
	ThreadID() block.ThreadID
	IssueBlock() (block.BlockIndex, error)
	MyBlock(idx block.BlockIndex) *SimpleBlock
	OtherBlock(tid block.ThreadID, idx block.BlockIndex) *SimpleBlock
	// OtherCurrentBlock locates the block a peer thread is presently
	// using by thread id alone, for the next-writer handoff which has
	// no chain pointer to follow.
	OtherCurrentBlock(tid block.ThreadID) block.BlockIndex
}

func blockOf(a Adaptor, tid block.ThreadID, idx block.BlockIndex) *SimpleBlock {
	if tid == a.ThreadID() {
		return a.MyBlock(idx)
	}
	return a.OtherBlock(tid, idx)
}

// cascadeReaderGrant walks forward from the block at (tid, idx) granting
// every consecutive queued reader it finds, so a run of readers queued
// behind one writer all wake in a single pass instead of relaying the
// wakeup through each other one at a time.
func cascadeReaderGrant(l *Lock, a Adaptor, tid block.ThreadID, idx block.BlockIndex) {
	cur := blockOf(a, tid, idx)
	for {
		if !cur.HasSuccessor() || !cur.HasReaderSuccessor() {
			return
		}
		spin.Until(cur.SuccessorIsReady)
		nextTid, nextIdx := cur.SuccessorThreadID(), cur.SuccessorBlockIndex()
		next := blockOf(a, nextTid, nextIdx)
		l.IncrementReaders()
		next.Unblock()
		cur = next
	}
}

// AcquireReader enqueues the calling thread as a reader and blocks until
// it may proceed, returning the block index it acquired with.
func (l *Lock) AcquireReader(a Adaptor) (block.BlockIndex, error) {
	idx, err := a.IssueBlock()
	if err != nil {
		return 0, err
	}
	my := a.MyBlock(idx)
	my.InitReader()
	myTail := block.MakeTail(a.ThreadID(), idx)

	predTail := l.XchgTail(myTail)
	if predTail.Empty() {
		l.IncrementReaders()
		my.Unblock()
		cascadeReaderGrant(l, a, a.ThreadID(), idx)
		my.SetFinalized()
		return idx, nil
	}

	pred := blockOf(a, predTail.ThreadID(), predTail.BlockIndex())
	switch {
	case !pred.IsReader():
		// A writer predecessor's own ReleaseWriter is a future event we
		// know hasn't happened yet (we just linked past it via XchgTail),
		// so registering and waiting always eventually gets a grant.
		pred.SetSuccessorClassReader()
		pred.SetSuccessorNextOnly(a.ThreadID(), idx)
		spin.Until(my.IsGranted)
	case pred.TryClaimReaderSuccessor():
		// Won the race to register before pred's own grant became final.
		pred.SetSuccessorNextOnly(a.ThreadID(), idx)
		spin.Until(my.IsGranted)
	default:
		// pred is a reader whose own forward-grant check already ran.
		// Join its active reader group directly instead of registering a
		// successor class nobody will come back to check. Still record
		// the id (not the class) so pred's own release can find us if it
		// ever needs to hand off a next_writer.
		pred.SetSuccessorNextOnly(a.ThreadID(), idx)
		l.IncrementReaders()
		my.Unblock()
	}
	cascadeReaderGrant(l, a, a.ThreadID(), idx)
	my.SetFinalized()
	return idx, nil
}

// AcquireWriter enqueues the calling thread as a writer and blocks until
// it holds exclusive access.
func (l *Lock) AcquireWriter(a Adaptor) (block.BlockIndex, error) {
	idx, err := a.IssueBlock()
	if err != nil {
		return 0, err
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
			return idx, nil
		}
		spin.Until(my.IsGranted)
		return idx, nil
	}

	pred := blockOf(a, predTail.ThreadID(), predTail.BlockIndex())
	pred.SetSuccessorClassWriter()
	pred.SetSuccessorNextOnly(a.ThreadID(), idx)
	spin.Until(my.IsGranted)
	return idx, nil
}

// ReleaseReader releases a reader hold acquired with AcquireReader or
// TryAcquireReader. Every releasing reader, not just the last one out,
// must publish a queued writer successor into next_writer: the tail can
// go empty while earlier-enqueued readers are still holding, so "am I
// the last reader" is not a reliable gate for "have I seen the queued
// writer".
func (l *Lock) ReleaseReader(a Adaptor, idx block.BlockIndex) {
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
	grantQueuedWriter(l, a)
}

// grantQueuedWriter wakes the writer published in next_writer, if one is
// registered and the caller has just observed the reader count reach
// zero. The CAS makes this safe to call from multiple simultaneously
// last readers: only one of them will see next_writer still set to the
// thread it read and win the handoff.
func grantQueuedWriter(l *Lock, a Adaptor) {
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

// ReleaseWriter releases a writer hold acquired with AcquireWriter or
// TryAcquireWriter.
func (l *Lock) ReleaseWriter(a Adaptor, idx block.BlockIndex) {
	my := a.MyBlock(idx)
	myTail := block.MakeTail(a.ThreadID(), idx)

	if !my.HasSuccessor() {
		if l.CasTail(myTail, 0) {
			return
		}
		spin.Until(my.HasSuccessor)
	}
	spin.Until(my.SuccessorIsReady)
	succTid, succIdx := my.SuccessorThreadID(), my.SuccessorBlockIndex()
	succ := blockOf(a, succTid, succIdx)
	if my.HasWriterSuccessor() {
		succ.Unblock()
		return
	}
	l.IncrementReaders()
	succ.Unblock()
	cascadeReaderGrant(l, a, succTid, succIdx)
}

// TryAcquireReader attempts to acquire the lock for reading without
// waiting. It only succeeds against a fully idle lock: the simple lock
// never spins in a try path, so it cannot wait out an in-progress
// handoff to decide whether joining an active reader group is safe.
func (l *Lock) TryAcquireReader(a Adaptor) (block.BlockIndex, bool, error) {
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
// waiting, only succeeding against a fully idle lock.
func (l *Lock) TryAcquireWriter(a Adaptor) (block.BlockIndex, bool, error) {
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
