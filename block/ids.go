// Package block implements the per-thread queue-node storage that every
// MCS-style lock in this module splices into: the WW lock's wait queue,
// and (via mcsrw) the simple and extended reader/writer locks' wait queues.
//
// Every lock algorithm is written against a small adaptor capability set
// (issue a block, look up my own or another thread's block, find my or
// another thread's "waiting" flag) rather than against this package's
// concrete types directly, so the same algorithms run over this
// production arena or over a deterministic test double.
package block

import "errors"

// ThreadID identifies a thread within a lock domain. Zero means "none".
type ThreadID uint16

// NoThread is the reserved ThreadID meaning "no thread".
const NoThread ThreadID = 0

// BlockIndex indexes a thread-local slab of queue-node blocks. Zero means
// "none". A thread may hold up to 2^16-1 live blocks concurrently, e.g.
// when composing nested lock acquisitions.
type BlockIndex uint16

// NoBlock is the reserved BlockIndex meaning "no block".
const NoBlock BlockIndex = 0

// maxBlockIndex is the largest BlockIndex a thread may issue; it mirrors
// the 16-bit block counter budget this module's wire layout depends on
// (see SPEC_FULL.md Open Questions).
const maxBlockIndex = 0xFFFF

// TailWord packs a (ThreadID, BlockIndex) pair into the 32-bit value used
// as a lock's tail/holder locator. Zero means the queue is empty.
type TailWord uint32

// GuestID is the sentinel TailWord reserved for the WW lock's anonymous,
// block-less "guest" holder.
const GuestID TailWord = 0xFFFFFFFF

// MakeTail packs a thread/block pair into a TailWord.
func MakeTail(tid ThreadID, idx BlockIndex) TailWord {
	return TailWord(uint32(tid)<<16 | uint32(idx))
}

// ThreadID extracts the thread id half of a TailWord.
func (t TailWord) ThreadID() ThreadID { return ThreadID(t >> 16) }

// BlockIndex extracts the block index half of a TailWord.
func (t TailWord) BlockIndex() BlockIndex { return BlockIndex(t) }

// Empty reports whether the tail word names no waiter at all.
func (t TailWord) Empty() bool { return t == 0 }

// ErrOutOfBlocks is returned by IssueBlock when a thread's block counter
// would exceed its configured capacity (bounded by the 16-bit index
// space, per the wire layout in spec.md §6).
var ErrOutOfBlocks = errors.New("block: thread exhausted its block index space")
