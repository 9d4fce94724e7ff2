package mcsrw

import (
	"sync"
	"sync/atomic"

	"github.com/foedus-project/mcslock/block"
)

// ExtendedArena is one thread's slab of cancellable RW-lock queue-node
// blocks, preallocated once like block.WWArena and SimpleArena.
type ExtendedArena struct {
	id     block.ThreadID
	blocks []ExtendedBlock
	cur    atomic.Uint32
}

// NewExtendedArena allocates a thread's cancellable-RW block slab.
func NewExtendedArena(id block.ThreadID, capacity int) *ExtendedArena {
	if capacity <= 0 || capacity > 0xFFFF {
		capacity = 0xFFFF
	}
	return &ExtendedArena{id: id, blocks: make([]ExtendedBlock, capacity)}
}

func (a *ExtendedArena) ThreadID() block.ThreadID { return a.id }

func (a *ExtendedArena) IssueBlock() (block.BlockIndex, error) {
	n := a.cur.Load() + 1
	if n == 0 || int(n) > len(a.blocks) {
		return 0, block.ErrOutOfBlocks
	}
	a.cur.Store(n)
	return block.BlockIndex(n), nil
}

func (a *ExtendedArena) Block(idx block.BlockIndex) *ExtendedBlock { return &a.blocks[idx-1] }

// CurrentBlock returns the index of the block this thread is currently
// using, so a peer that only has a thread id (the next-writer handoff)
// can still locate its in-flight block.
func (a *ExtendedArena) CurrentBlock() block.BlockIndex { return block.BlockIndex(a.cur.Load()) }

func (a *ExtendedArena) Reset() { a.cur.Store(0) }

// ExtendedRegistry lets one thread look up another thread's cancellable
// RW arena to resolve cross-thread successor and predecessor links.
type ExtendedRegistry struct {
	mu     sync.RWMutex
	arenas map[block.ThreadID]*ExtendedArena
}

func NewExtendedRegistry() *ExtendedRegistry {
	return &ExtendedRegistry{arenas: make(map[block.ThreadID]*ExtendedArena)}
}

func (r *ExtendedRegistry) Register(a *ExtendedArena) {
	r.mu.Lock()
	r.arenas[a.ThreadID()] = a
	r.mu.Unlock()
}

func (r *ExtendedRegistry) Arena(id block.ThreadID) *ExtendedArena {
	r.mu.RLock()
	a := r.arenas[id]
	r.mu.RUnlock()
	if a == nil {
		panic("mcsrw: thread id not registered with this ExtendedRegistry")
	}
	return a
}

// ExtendedAdaptor is the concrete, production Adaptor for the cancellable
// RW lock.
type ExtendedAdaptor struct {
	Mine *ExtendedArena
	Reg  *ExtendedRegistry
}

func NewExtendedAdaptor(mine *ExtendedArena, reg *ExtendedRegistry) *ExtendedAdaptor {
	reg.Register(mine)
	return &ExtendedAdaptor{Mine: mine, Reg: reg}
}

func (a *ExtendedAdaptor) ThreadID() block.ThreadID { return a.Mine.ThreadID() }
func (a *ExtendedAdaptor) IssueBlock() (block.BlockIndex, error) { return a.Mine.IssueBlock() }
func (a *ExtendedAdaptor) MyBlock(idx block.BlockIndex) *ExtendedBlock { return a.Mine.Block(idx) }
func (a *ExtendedAdaptor) OtherBlock(tid block.ThreadID, idx block.BlockIndex) *ExtendedBlock {
	return a.Reg.Arena(tid).Block(idx)
}
func (a *ExtendedAdaptor) OtherCurrentBlock(tid block.ThreadID) block.BlockIndex {
	return a.Reg.Arena(tid).CurrentBlock()
}
