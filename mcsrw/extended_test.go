package mcsrw

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foedus-project/mcslock/block"
	"github.com/foedus-project/mcslock/spin"
)

func newExtAdaptor(tid block.ThreadID, reg *ExtendedRegistry) *ExtendedAdaptor {
	return NewExtendedAdaptor(NewExtendedArena(tid, 64), reg)
}

func TestExtendedUncontendedWriterRoundTrip(t *testing.T) {
	reg := NewExtendedRegistry()
	a := newExtAdaptor(1, reg)
	var l Lock

	idx, ok, err := l.AcquireWriter(a, spin.Never)
	require.NoError(t, err)
	require.True(t, ok)

	l.ReleaseWriter(a, idx)
	assert.True(t, l.IsEmpty())
}

func TestExtendedThreeReadersFanIn(t *testing.T) {
	reg := NewExtendedRegistry()
	var l Lock

	var wg sync.WaitGroup
	wg.Add(3)
	for i := block.ThreadID(1); i <= 3; i++ {
		go func(tid block.ThreadID) {
			defer wg.Done()
			a := newExtAdaptor(tid, reg)
			idx, ok, err := l.AcquireReader(a, spin.Never)
			require.NoError(t, err)
			require.True(t, ok)
			l.ReleaseReader(a, idx)
		}(i)
	}
	wg.Wait()
	assert.True(t, l.IsEmpty())
}

func TestExtendedWriterWaitsForReaders(t *testing.T) {
	reg := NewExtendedRegistry()
	var l Lock

	readerA := newExtAdaptor(1, reg)
	readerIdx, ok, err := l.AcquireReader(readerA, spin.Never)
	require.NoError(t, err)
	require.True(t, ok)

	writerA := newExtAdaptor(2, reg)
	writerDone := make(chan block.BlockIndex, 1)
	go func() {
		idx, ok, err := l.AcquireWriter(writerA, spin.Never)
		require.NoError(t, err)
		require.True(t, ok)
		writerDone <- idx
	}()

	select {
	case <-writerDone:
		t.Fatal("writer must not proceed while a reader is active")
	default:
	}

	l.ReleaseReader(readerA, readerIdx)
	widx := <-writerDone
	l.ReleaseWriter(writerA, widx)
	assert.True(t, l.IsEmpty())
}

// TestExtendedReaderBargesOntoAlreadyGrantedReader mirrors the simple
// lock's barging test: a reader that links onto a predecessor whose own
// AcquireReader call already returned must join directly instead of
// waiting on a forward-grant check that will never run again.
func TestExtendedReaderBargesOntoAlreadyGrantedReader(t *testing.T) {
	reg := NewExtendedRegistry()
	var l Lock

	readerA := newExtAdaptor(1, reg)
	idxA, ok, err := l.AcquireReader(readerA, spin.Never)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, l.NReaders())

	readerB := newExtAdaptor(2, reg)
	done := make(chan block.BlockIndex, 1)
	go func() {
		idx, ok, err := l.AcquireReader(readerB, spin.Never)
		require.NoError(t, err)
		require.True(t, ok)
		done <- idx
	}()

	var idxB block.BlockIndex
	select {
	case idxB = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader B never joined an already-granted reader predecessor")
	}
	assert.EqualValues(t, 2, l.NReaders())

	l.ReleaseReader(readerA, idxA)
	l.ReleaseReader(readerB, idxB)
	assert.True(t, l.IsEmpty())
}

func TestExtendedReaderTryFailsAgainstWriter(t *testing.T) {
	reg := NewExtendedRegistry()
	writerA := newExtAdaptor(1, reg)
	var l Lock

	widx, ok, err := l.AcquireWriter(writerA, spin.Never)
	require.NoError(t, err)
	require.True(t, ok)

	readerA := newExtAdaptor(2, reg)
	_, granted, err := l.TryAcquireReader(readerA)
	require.NoError(t, err)
	assert.False(t, granted)

	l.ReleaseWriter(writerA, widx)
	ridx, granted, err := l.TryAcquireReader(readerA)
	require.NoError(t, err)
	assert.True(t, granted)
	l.ReleaseReader(readerA, ridx)
}
