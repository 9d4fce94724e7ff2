// Package mcsrw implements the reader/writer MCS locks: the simple
// variant (uncontended reads in parallel, a try-acquire path, no
// cancellation) and the extended variant (adds timeout/cancellation of
// waiting acquirers without quiescing the lock). Both share the packed
// 64-bit lock word in this file and the block-adaptor plumbing pattern
// carried over from mcsww, generalized from the teacher's single-field
// mcs.Lock to the three-subfield word spec.md §3 requires.
package mcsrw

import (
	"sync/atomic"

	"github.com/foedus-project/mcslock/block"
)

// Lock is the packed reader/writer lock word: 8 bytes,
// [tail:32 | next_writer:16 | nreaders:16], readable and
// compare-and-swappable as one unit so try-acquire can atomically check
// "is this lock fully idle" across all three subfields at once
// (spec.md §3).
type Lock struct {
	word atomic.Uint64
}

// NextWriterNone is the reserved ThreadID value meaning no writer is
// queued to go next.
const NextWriterNone = block.NoThread

func pack(tail block.TailWord, nextWriter block.ThreadID, nreaders uint16) uint64 {
	return uint64(tail)<<32 | uint64(nextWriter)<<16 | uint64(nreaders)
}

func unpack(w uint64) (tail block.TailWord, nextWriter block.ThreadID, nreaders uint16) {
	return block.TailWord(w >> 32), block.ThreadID(w >> 16), uint16(w)
}

// Tail returns the current tail word.
func (l *Lock) Tail() block.TailWord {
	tail, _, _ := unpack(l.word.Load())
	return tail
}

// NextWriter returns the currently registered next-writer thread id, or
// NextWriterNone.
func (l *Lock) NextWriter() block.ThreadID {
	_, nw, _ := unpack(l.word.Load())
	return nw
}

// NReaders returns the current active-reader count.
func (l *Lock) NReaders() uint16 {
	_, _, nr := unpack(l.word.Load())
	return nr
}

// IsEmpty reports whether the lock is in its fully-quiesced, unheld
// state (tail, next-writer and reader count all zero).
func (l *Lock) IsEmpty() bool { return l.word.Load() == 0 }

// XchgTail atomically swaps the tail field and returns its previous
// value, preserving the other two subfields.
func (l *Lock) XchgTail(newTail block.TailWord) block.TailWord {
	for {
		old := l.word.Load()
		tail, nw, nr := unpack(old)
		if l.word.CompareAndSwap(old, pack(newTail, nw, nr)) {
			return tail
		}
	}
}

// CasTail attempts one atomic transition of the tail field from expected
// to newTail, leaving the other subfields untouched. It is a single-shot
// ("weak") attempt: on failure the caller decides whether to retry.
func (l *Lock) CasTail(expected, newTail block.TailWord) bool {
	old := l.word.Load()
	tail, nw, nr := unpack(old)
	if tail != expected {
		return false
	}
	return l.word.CompareAndSwap(old, pack(newTail, nw, nr))
}

// IncrementReaders bumps the active-reader count and returns the new
// value.
func (l *Lock) IncrementReaders() uint16 {
	for {
		old := l.word.Load()
		tail, nw, nr := unpack(old)
		if l.word.CompareAndSwap(old, pack(tail, nw, nr+1)) {
			return nr + 1
		}
	}
}

// DecrementReaders drops the active-reader count and returns the value
// it had *before* the decrement (so callers can cheaply test "was I the
// last active reader" via `== 1`).
func (l *Lock) DecrementReaders() uint16 {
	for {
		old := l.word.Load()
		tail, nw, nr := unpack(old)
		if l.word.CompareAndSwap(old, pack(tail, nw, nr-1)) {
			return nr
		}
	}
}

// SetNextWriter unconditionally publishes the next-writer field.
func (l *Lock) SetNextWriter(id block.ThreadID) {
	for {
		old := l.word.Load()
		tail, _, nr := unpack(old)
		if l.word.CompareAndSwap(old, pack(tail, id, nr)) {
			return
		}
	}
}

// XchgNextWriter swaps the next-writer field and returns its previous
// value.
func (l *Lock) XchgNextWriter(id block.ThreadID) block.ThreadID {
	for {
		old := l.word.Load()
		tail, _, nr := unpack(old)
		if l.word.CompareAndSwap(old, pack(tail, id, nr)) {
			return unpackNextWriter(old)
		}
	}
}

func unpackNextWriter(w uint64) block.ThreadID {
	_, nw, _ := unpack(w)
	return nw
}

// CasNextWriter attempts one atomic transition of the next-writer field.
func (l *Lock) CasNextWriter(expected, id block.ThreadID) bool {
	old := l.word.Load()
	tail, nw, nr := unpack(old)
	if nw != expected {
		return false
	}
	return l.word.CompareAndSwap(old, pack(tail, id, nr))
}

// LoadFull reads the entire 64-bit lock word for a try-acquire's combined
// check.
func (l *Lock) LoadFull() (tail block.TailWord, nextWriter block.ThreadID, nreaders uint16) {
	return unpack(l.word.Load())
}

// CasFull attempts one atomic transition of the entire lock word, used by
// the try-acquire paths that must check and update tail/next-writer/
// nreaders as a single unit.
func (l *Lock) CasFull(oldTail block.TailWord, oldNextWriter block.ThreadID, oldNReaders uint16, newTail block.TailWord, newNextWriter block.ThreadID, newNReaders uint16) bool {
	return l.word.CompareAndSwap(
		pack(oldTail, oldNextWriter, oldNReaders),
		pack(newTail, newNextWriter, newNReaders),
	)
}
