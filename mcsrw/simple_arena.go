package mcsrw

import (
	"sync"
	"sync/atomic"

	"github.com/foedus-project/mcslock/block"
)

// SimpleArena is one thread's slab of simple RW-lock queue-node blocks,
// mirroring block.WWArena's shape: preallocated once, never resized, so
// pointers other threads hold into it stay valid for the arena's life.
type SimpleArena struct {
	id     block.ThreadID
	blocks []SimpleBlock
	cur    atomic.Uint32
}

// NewSimpleArena allocates a thread's simple-RW block slab.
func NewSimpleArena(id block.ThreadID, capacity int) *SimpleArena {
	if capacity <= 0 || capacity > 0xFFFF {
		capacity = 0xFFFF
	}
	return &SimpleArena{id: id, blocks: make([]SimpleBlock, capacity)}
}

// ThreadID returns the owning thread's id.
func (a *SimpleArena) ThreadID() block.ThreadID { return a.id }

// IssueBlock mints the next block index for this thread.
func (a *SimpleArena) IssueBlock() (block.BlockIndex, error) {
	n := a.cur.Load() + 1
	if n == 0 || int(n) > len(a.blocks) {
		return 0, block.ErrOutOfBlocks
	}
	a.cur.Store(n)
	return block.BlockIndex(n), nil
}

// Block returns the block at idx, 1-based.
func (a *SimpleArena) Block(idx block.BlockIndex) *SimpleBlock { return &a.blocks[idx-1] }

// CurrentBlock returns the index of the block this thread is currently
// using, for a peer that only knows the thread id and needs to locate
// its in-flight block (the next-writer handoff, which has no chain
// pointer to follow).
func (a *SimpleArena) CurrentBlock() block.BlockIndex { return block.BlockIndex(a.cur.Load()) }

// Reset rewinds the block counter. Callers must guarantee the thread
// holds no locks before calling this.
func (a *SimpleArena) Reset() { a.cur.Store(0) }

// SimpleRegistry lets one thread look up another thread's simple-RW
// arena to resolve cross-thread successor links.
type SimpleRegistry struct {
	mu     sync.RWMutex
	arenas map[block.ThreadID]*SimpleArena
}

// NewSimpleRegistry creates an empty registry.
func NewSimpleRegistry() *SimpleRegistry {
	return &SimpleRegistry{arenas: make(map[block.ThreadID]*SimpleArena)}
}

// Register makes an arena visible to other threads via the registry.
func (r *SimpleRegistry) Register(a *SimpleArena) {
	r.mu.Lock()
	r.arenas[a.ThreadID()] = a
	r.mu.Unlock()
}

// Arena looks up a thread's arena, panicking if it was never registered.
func (r *SimpleRegistry) Arena(id block.ThreadID) *SimpleArena {
	r.mu.RLock()
	a := r.arenas[id]
	r.mu.RUnlock()
	if a == nil {
		panic("mcsrw: thread id not registered with this SimpleRegistry")
	}
	return a
}

// SimpleAdaptor is the concrete, production Adaptor for the simple RW
// lock: a thread's own arena plus a registry to resolve other threads'
// blocks.
type SimpleAdaptor struct {
	Mine *SimpleArena
	Reg  *SimpleRegistry
}

// NewSimpleAdaptor registers mine with reg and returns an adaptor bound
// to it.
func NewSimpleAdaptor(mine *SimpleArena, reg *SimpleRegistry) *SimpleAdaptor {
	reg.Register(mine)
	return &SimpleAdaptor{Mine: mine, Reg: reg}
}

// ThreadID implements the Adaptor capability set.
func (a *SimpleAdaptor) ThreadID() block.ThreadID { return a.Mine.ThreadID() }

// IssueBlock implements the Adaptor capability set.
func (a *SimpleAdaptor) IssueBlock() (block.BlockIndex, error) { return a.Mine.IssueBlock() }

// MyBlock implements the Adaptor capability set.
func (a *SimpleAdaptor) MyBlock(idx block.BlockIndex) *SimpleBlock { return a.Mine.Block(idx) }

// OtherBlock implements the Adaptor capability set.
func (a *SimpleAdaptor) OtherBlock(tid block.ThreadID, idx block.BlockIndex) *SimpleBlock {
	return a.Reg.Arena(tid).Block(idx)
}

// OtherCurrentBlock implements the Adaptor capability set.
func (a *SimpleAdaptor) OtherCurrentBlock(tid block.ThreadID) block.BlockIndex {
	return a.Reg.Arena(tid).CurrentBlock()
}
