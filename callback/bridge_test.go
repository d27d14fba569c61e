package callback

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-framesync/fault"
	"github.com/joeycumines/go-framesync/scene"
)

// lockEntrant is a minimal Entrant, asserting entry is exclusive and scoped
// to a single callback.
type lockEntrant struct {
	mu      sync.Mutex
	entered atomic.Int32
	enters  atomic.Int32
}

func (x *lockEntrant) Enter(fn func() error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.entered.Add(1) != 1 {
		panic("re-entered")
	}
	defer x.entered.Add(-1)
	x.enters.Add(1)
	return fn()
}

func newBridge(t *testing.T, opts ...Option) (*Bridge, *lockEntrant, *fault.Boundary) {
	t.Helper()
	entrant := new(lockEntrant)
	boundary := fault.NewBoundary(fault.WithLogRates(nil))
	return New(entrant, boundary, opts...), entrant, boundary
}

func TestNew_fatalPrecondition(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name     string
		entrant  Entrant
		boundary *fault.Boundary
	}{
		{`nil entrant`, nil, fault.NewBoundary()},
		{`typed nil entrant`, (*lockEntrant)(nil), fault.NewBoundary()},
		{`nil boundary`, new(lockEntrant), nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				r := recover()
				err, ok := r.(error)
				if !ok || !errors.Is(err, fault.ErrFatalPrecondition) {
					t.Fatalf("unexpected panic: %v", r)
				}
			}()
			New(tc.entrant, tc.boundary)
		})
	}
}

func TestBridge_exactlyOnce(t *testing.T) {
	t.Parallel()
	b, entrant, _ := newBridge(t)

	var calls atomic.Int32
	var got Result
	id := b.Register(func(r Result) error {
		calls.Add(1)
		got = r
		return nil
	})
	require.NotZero(t, id)

	assert.Zero(t, b.ExecutePendingCallbacks(), "not ready, must not run")
	assert.Equal(t, 1, b.Pending())

	require.True(t, b.NotifyReady(id, Created{ID: 7}))
	assert.False(t, b.NotifyReady(id, Created{ID: 8}), "double notify")

	assert.Equal(t, 1, b.ExecutePendingCallbacks())
	assert.Zero(t, b.ExecutePendingCallbacks())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Created{ID: 7}, got)
	assert.Equal(t, int32(1), entrant.enters.Load())
	assert.Zero(t, b.Pending())

	assert.False(t, b.NotifyReady(id, Applied{}), "handle consumed")
}

func TestBridge_registrationOrder(t *testing.T) {
	t.Parallel()
	b, _, _ := newBridge(t)

	var order []int
	ids := make([]Handle, 5)
	for i := range ids {
		ids[i] = b.Register(func(Result) error {
			order = append(order, i)
			return nil
		})
	}
	// notify out of order, leaving 2 pending
	for _, i := range []int{4, 0, 3, 1} {
		b.NotifyReady(ids[i], Applied{})
	}
	assert.Equal(t, 4, b.ExecutePendingCallbacks())
	assert.Equal(t, []int{0, 1, 3, 4}, order)
	assert.Equal(t, 1, b.Pending())

	b.NotifyReady(ids[2], Applied{})
	assert.Equal(t, 1, b.ExecutePendingCallbacks())
	assert.Equal(t, []int{0, 1, 3, 4, 2}, order)
}

func TestBridge_failingCallbackIsolated(t *testing.T) {
	t.Parallel()
	b, _, boundary := newBridge(t)

	var ran []string
	a := b.Register(func(Result) error {
		ran = append(ran, "a")
		return errors.New("a failed")
	})
	p := b.Register(func(Result) error {
		ran = append(ran, "panic")
		panic("callback panic")
	})
	c := b.Register(func(r Result) error {
		ran = append(ran, "c")
		return nil
	})
	for _, id := range []Handle{a, p, c} {
		b.NotifyReady(id, Failed{Err: errors.New("x")})
	}

	assert.Equal(t, 3, b.ExecutePendingCallbacks())
	assert.Equal(t, []string{"a", "panic", "c"}, ran)
	assert.Equal(t, uint64(2), boundary.Exceptions())
	assert.Zero(t, b.Pending())
}

func TestBridge_reentrantRegister(t *testing.T) {
	t.Parallel()
	b, _, _ := newBridge(t)

	var inner Handle
	outer := b.Register(func(Result) error {
		inner = b.Register(func(Result) error { return nil })
		b.NotifyReady(inner, Applied{})
		return nil
	})
	b.NotifyReady(outer, Applied{})

	assert.Equal(t, 1, b.ExecutePendingCallbacks())
	assert.NotZero(t, inner)
	assert.Equal(t, 1, b.Pending(), "inner must wait for the next pass")
	assert.Equal(t, 1, b.ExecutePendingCallbacks())
}

func TestBridge_unknownHandle(t *testing.T) {
	t.Parallel()
	b, _, _ := newBridge(t)
	assert.False(t, b.NotifyReady(42, Applied{}))
	assert.False(t, b.NotifyReady(0, Applied{}))
	assert.Zero(t, b.Register(nil))
}

func TestBridge_Close(t *testing.T) {
	t.Parallel()
	b, _, boundary := newBridge(t)
	id := b.Register(func(Result) error {
		t.Error("must not run")
		return nil
	})
	b.NotifyReady(id, Applied{})
	assert.Equal(t, 1, b.Close())
	assert.Zero(t, b.ExecutePendingCallbacks())
	assert.Zero(t, b.Register(func(Result) error { return nil }))
	assert.Equal(t, uint64(1), boundary.Absorbed())
}

func TestBridge_compaction(t *testing.T) {
	t.Parallel()
	b, _, _ := newBridge(t)

	keep := b.Register(func(Result) error { return nil })
	for range 1000 {
		id := b.Register(func(Result) error { return nil })
		b.NotifyReady(id, Applied{})
	}
	assert.Equal(t, 1000, b.ExecutePendingCallbacks())

	b.mu.Lock()
	n := len(b.order)
	b.mu.Unlock()
	assert.Equal(t, 1, n)

	b.NotifyReady(keep, Applied{})
	assert.Equal(t, 1, b.ExecutePendingCallbacks())
}

func TestBridge_concurrentNotify(t *testing.T) {
	t.Parallel()
	b, _, _ := newBridge(t)

	const n = 200
	var calls atomic.Int32
	ids := make([]Handle, n)
	for i := range ids {
		ids[i] = b.Register(func(Result) error {
			calls.Add(1)
			return nil
		})
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.NotifyReady(id, Applied{})
		}()
	}
	total := 0
	for total < n {
		total += b.ExecutePendingCallbacks()
	}
	wg.Wait()
	assert.Equal(t, int32(n), calls.Load())
}

func TestResultFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Created{ID: 3}, ResultFor(scene.NewCreateMesh(3, "m", scene.EntityPatch{}), nil))
	assert.Equal(t, Applied{ID: 3}, ResultFor(scene.NewDestroyEntity(3), nil))
	err := errors.New("bad")
	assert.Equal(t, Failed{Err: err}, ResultFor(scene.NewDestroyEntity(3), err))
	assert.Equal(t, scene.ID(3), Target(Created{ID: 3}))
	assert.Zero(t, Target(Failed{}))
}
