package statebuffer

import (
	"maps"
	"sync"
	"sync/atomic"
	"testing"
)

type snapshot struct {
	values map[int]int
	gen    int
}

func newSnapshotBuffer() *Buffer[snapshot] {
	return New(
		WithInit(func(v *snapshot) { v.values = make(map[int]int) }),
		WithCopy(func(dst, src *snapshot) {
			clear(dst.values)
			maps.Copy(dst.values, src.values)
			dst.gen = src.gen
		}),
	)
}

func TestBuffer_initialState(t *testing.T) {
	t.Parallel()
	b := newSnapshotBuffer()
	if b.Front() == b.Back() {
		t.Fatal("front and back must be distinct")
	}
	if b.Front().values == nil || b.Back().values == nil {
		t.Fatal("init not applied to both instances")
	}
	if b.Swaps() != 0 {
		t.Fatalf("unexpected swaps: %d", b.Swaps())
	}
}

func TestBuffer_Swap_publishesBack(t *testing.T) {
	t.Parallel()
	b := newSnapshotBuffer()

	back := b.Back()
	back.gen = 1
	back.values[1] = 10

	if b.Front().gen != 0 {
		t.Fatal("front observed write before swap")
	}

	b.Swap()

	if b.Front() != back {
		t.Fatal("front is not the most recently populated back")
	}
	if got := b.Front().values[1]; got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	if b.Swaps() != 1 {
		t.Fatalf("expected 1 swap, got %d", b.Swaps())
	}
}

func TestBuffer_Reconcile(t *testing.T) {
	t.Parallel()
	b := newSnapshotBuffer()

	b.Back().values[1] = 1
	b.Back().gen = 1
	b.Swap()

	// back is now the stale instance, from before the first pass
	if len(b.Back().values) != 0 {
		t.Fatal("expected stale back")
	}
	if !b.Reconcile() {
		t.Fatal("expected copy")
	}
	if b.Back().values[1] != 1 || b.Back().gen != 1 {
		t.Fatalf("reconcile did not copy front: %+v", *b.Back())
	}
	b.Back().values[2] = 2
	if _, ok := b.Front().values[2]; ok {
		t.Fatal("reconcile aliased front and back")
	}

	// writes since the last reconcile must survive another one
	if b.Reconcile() {
		t.Fatal("expected no copy")
	}
	if b.Back().values[2] != 2 {
		t.Fatal("reconcile clobbered back")
	}
}

func TestBuffer_Reconcile_beforeFirstSwap(t *testing.T) {
	t.Parallel()
	b := newSnapshotBuffer()
	b.Back().values[1] = 1
	if b.Reconcile() {
		t.Fatal("back is not stale before the first swap")
	}
	if b.Back().values[1] != 1 {
		t.Fatal("reconcile clobbered back")
	}
}

func TestBuffer_Reconcile_noCopy(t *testing.T) {
	t.Parallel()
	b := New[int]()
	*b.Back() = 5
	b.Swap()
	if b.Reconcile() {
		t.Fatal("expected no copy")
	}
	if *b.Back() != 0 {
		t.Fatalf("expected no-op reconcile, got %d", *b.Back())
	}
}

// TestBuffer_handoff exercises the intended protocol: a writer goroutine
// populates the back instance, then signals completion; the consumer swaps
// only after observing the signal, and must always see a fully populated
// snapshot.
func TestBuffer_handoff(t *testing.T) {
	t.Parallel()

	const (
		passes = 500
		width  = 64
	)

	b := newSnapshotBuffer()

	var complete atomic.Bool
	trigger := make(chan struct{}, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for gen := 1; gen <= passes; gen++ {
			<-trigger
			b.Reconcile()
			back := b.Back()
			back.gen = gen
			for i := 0; i < width; i++ {
				back.values[i] = gen
			}
			complete.Store(true)
		}
	}()

	lastGen := 0
	trigger <- struct{}{}
	for lastGen < passes {
		front := b.Front()
		for i, v := range front.values {
			if v != front.gen {
				t.Fatalf("torn snapshot: values[%d]=%d gen=%d", i, v, front.gen)
			}
		}
		if front.gen < lastGen {
			t.Fatalf("generation went backwards: %d < %d", front.gen, lastGen)
		}
		lastGen = front.gen
		if complete.Load() {
			b.Swap()
			complete.Store(false)
			if b.Front().gen != lastGen+1 {
				t.Fatalf("expected gen %d after swap, got %d", lastGen+1, b.Front().gen)
			}
			lastGen = b.Front().gen
			if lastGen < passes {
				trigger <- struct{}{}
			}
		}
	}
	wg.Wait()

	if b.Swaps() != passes {
		t.Fatalf("expected %d swaps, got %d", passes, b.Swaps())
	}
}

func BenchmarkBuffer_Swap(b *testing.B) {
	buf := New(WithInit(func(v *[1 << 16]byte) {}))
	b.ReportAllocs()
	for b.Loop() {
		buf.Swap()
	}
}
