package cmdqueue

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

func TestNew_capacityRounding(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ in, want int }{
		{1, 1},
		{2, 2},
		{3, 4},
		{1000, 1024},
		{1024, 1024},
	} {
		if got := New[int](tc.in).Cap(); got != tc.want {
			t.Errorf("New(%d).Cap() = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNew_panicsOnInvalidCapacity(t *testing.T) {
	t.Parallel()
	defer func() {
		if r := recover(); r == nil || !strings.HasPrefix(r.(string), "cmdqueue: ") {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	New[int](0)
}

func TestQueue_fifo(t *testing.T) {
	t.Parallel()
	q := New[string](4)
	for _, v := range []string{"a", "b", "c"} {
		if !q.Submit(v) {
			t.Fatalf("submit %q failed", v)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected len 3, got %d", q.Len())
	}
	got := q.Drain()
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("unexpected order: %v", got)
	}
	if q.Len() != 0 || q.Drain() != nil {
		t.Fatal("expected empty queue")
	}
}

func TestQueue_full(t *testing.T) {
	t.Parallel()
	q := New[int](2)
	if !q.Submit(1) || !q.Submit(2) {
		t.Fatal("expected room for two")
	}
	if q.Submit(3) {
		t.Fatal("expected full")
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", q.Dropped())
	}
	got := q.Drain()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("queue changed by rejected submit: %v", got)
	}
	if !q.Submit(4) {
		t.Fatal("expected room after drain")
	}
}

type named string

func (n named) String() string { return string(n) }

func TestQueue_full_logs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()

	q := New[named](1, WithLogger(logger), WithName("test"), WithDropLogRates(nil))
	q.Submit("first")
	q.Submit("second")
	q.Submit("third")

	out := buf.String()
	if n := strings.Count(out, "command queue full"); n != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", n, out)
	}
	if !strings.Contains(out, `"command":"second"`) || !strings.Contains(out, `"queue":"test"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestQueue_full_logsRateLimited(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()

	q := New[int](1, WithLogger(logger))
	q.Submit(0)
	for i := range 50 {
		q.Submit(i)
	}
	if q.Dropped() != 50 {
		t.Fatalf("expected 50 drops, got %d", q.Dropped())
	}
	if n := strings.Count(buf.String(), "command queue full"); n != 1 {
		t.Fatalf("expected 1 log line, got %d", n)
	}
}

func TestQueue_DrainInto_reuse(t *testing.T) {
	t.Parallel()
	q := New[int](8)
	buf := make([]int, 0, 8)
	for round := range 10 {
		for i := range 5 {
			q.Submit(round*10 + i)
		}
		buf = q.DrainInto(buf[:0])
		if len(buf) != 5 || buf[0] != round*10 || buf[4] != round*10+4 {
			t.Fatalf("round %d: unexpected %v", round, buf)
		}
	}
}

// TestQueue_spsc runs a producer and consumer concurrently, asserting every
// accepted element is received exactly once, in order.
func TestQueue_spsc(t *testing.T) {
	t.Parallel()

	const total = 100_000
	q := New[int](64)

	var (
		wg       sync.WaitGroup
		accepted []int
	)
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := range total {
			if q.Submit(i) {
				accepted = append(accepted, i)
			}
		}
	}()

	var received []int
	buf := make([]int, 0, 64)
	for {
		select {
		case <-done:
			received = append(received, q.Drain()...)
			wg.Wait()
			if len(received) != len(accepted) {
				t.Fatalf("received %d, accepted %d", len(received), len(accepted))
			}
			for i := range received {
				if received[i] != accepted[i] {
					t.Fatalf("index %d: received %d, accepted %d", i, received[i], accepted[i])
				}
			}
			if uint64(total-len(accepted)) != q.Dropped() {
				t.Fatalf("drop count mismatch: %d vs %d", total-len(accepted), q.Dropped())
			}
			return
		default:
			buf = q.DrainInto(buf[:0])
			received = append(received, buf...)
		}
	}
}

func BenchmarkQueue_SubmitDrain(b *testing.B) {
	q := New[int](1024)
	buf := make([]int, 0, 1024)
	b.ReportAllocs()
	for b.Loop() {
		for i := range 256 {
			q.Submit(i)
		}
		buf = q.DrainInto(buf[:0])
	}
}
