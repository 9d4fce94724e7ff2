// Package mcsbench benchmarks the MCS-family locks this module
// implements (mcsww, mcsrw) under goroutine fan-out, the way the
// teacher's ticket/ticket_test.go's TestLockFairness and
// TestLockConcurrentAccess drive its own ticket.Lock, generalized here
// to a table of contenders instead of one lock type.
package mcsbench

import (
	"context"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/foedus-project/mcslock/block"
	"github.com/foedus-project/mcslock/mcsrw"
	"github.com/foedus-project/mcslock/mcsww"
)

const fanOut = 64

// TestWWLockFanOutSerializesCounter mirrors the teacher's
// ticket/ticket_test.go TestLockConcurrentAccess, but drives it through
// an errgroup so the first error any goroutine returns surfaces as a
// single test failure.
func TestWWLockFanOutSerializesCounter(t *testing.T) {
	const iterations = 200
	var l mcsww.Lock
	reg := block.NewWWRegistry()
	counter := 0

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < fanOut; i++ {
		tid := block.ThreadID(i + 1)
		g.Go(func() error {
			a := block.NewWWAdaptor(block.NewWWArena(tid, iterations+1), reg)
			for j := 0; j < iterations; j++ {
				idx, err := l.AcquireUnconditional(a)
				if err != nil {
					return err
				}
				counter++
				l.Release(a, idx)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("fan-out acquire failed: %v", err)
	}
	if counter != fanOut*iterations {
		t.Fatalf("counter = %d, want %d", counter, fanOut*iterations)
	}
}

func BenchmarkWWLockContendedParallel(b *testing.B) {
	var l mcsww.Lock
	reg := block.NewWWRegistry()
	var next int64
	var mu sync.Mutex
	b.RunParallel(func(pb *testing.PB) {
		mu.Lock()
		next++
		tid := block.ThreadID(next)
		mu.Unlock()
		// Sized to the arena's full 16-bit index space: resetting the
		// counter mid-run would be unsafe here since other goroutines may
		// still hold references into blocks this goroutine issued earlier.
		a := block.NewWWAdaptor(block.NewWWArena(tid, 0), reg)
		for pb.Next() {
			idx, err := l.AcquireUnconditional(a)
			if err != nil {
				b.Fatal(err)
			}
			l.Release(a, idx)
		}
	})
}

func BenchmarkSimpleRWLockContendedParallel(b *testing.B) {
	var l mcsrw.Lock
	reg := mcsrw.NewSimpleRegistry()
	var next int64
	var mu sync.Mutex
	b.RunParallel(func(pb *testing.PB) {
		mu.Lock()
		next++
		tid := block.ThreadID(next)
		mu.Unlock()
		a := mcsrw.NewSimpleAdaptor(mcsrw.NewSimpleArena(tid, 0), reg)
		for pb.Next() {
			idx, err := l.AcquireWriter(a)
			if err != nil {
				b.Fatal(err)
			}
			l.ReleaseWriter(a, idx)
		}
	})
}
