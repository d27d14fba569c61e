package scripthost

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-framesync/fault"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.String()
}

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}

func TestHost_ExecuteScript(t *testing.T) {
	t.Parallel()
	h := New()

	require.True(t, h.ExecuteScript("ok.js", `var x = 1 + 2`))
	assert.False(t, h.HasError())

	v, err := h.ExecuteScriptWithResult("result.js", `x * 2`)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v.ToInteger())

	assert.False(t, h.ExecuteScript("bad.js", `throw new Error("nope")`))
	assert.True(t, h.HasError())
	var ex *goja.Exception
	require.True(t, errors.As(h.LastError(), &ex))
	assert.Contains(t, ex.Value().String(), "nope")

	// the next success clears it
	require.True(t, h.ExecuteScript("ok.js", `x`))
	assert.False(t, h.HasError())

	assert.False(t, h.ExecuteScript("syntax.js", `function (`))
	assert.True(t, h.HasError())
	h.ClearError()
	assert.NoError(t, h.LastError())
}

func TestHost_Call(t *testing.T) {
	t.Parallel()
	h := New()
	require.True(t, h.ExecuteScript("fn.js", `function add(a, b) { return a + b }; var notFn = 1`))

	v, err := h.Call("add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.ToInteger())

	_, err = h.Call("missing")
	assert.ErrorIs(t, err, ErrNotFunction)
	_, err = h.Call("notFn")
	assert.ErrorIs(t, err, ErrNotFunction)
}

func TestHost_CompileLoad(t *testing.T) {
	t.Parallel()
	h := New()
	require.True(t, h.ExecuteScript("v1.js", `function version() { return 1 }`))

	_, err := h.Compile("broken.js", `function version( {`)
	require.Error(t, err)
	assert.Equal(t, fault.KindScriptFault, fault.KindOf(err))

	prog, err := h.Compile("v2.js", `function version() { return 2 }`)
	require.NoError(t, err)
	require.NoError(t, h.Load(prog))

	v, err := h.Call("version")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ToInteger())
}

func TestHost_modules(t *testing.T) {
	t.Parallel()
	h := New(WithModule("answer", func(vm *goja.Runtime, module *goja.Object) {
		_ = module.Get("exports").(*goja.Object).Set("value", 42)
	}))
	h.RegisterModule("late", func(vm *goja.Runtime, module *goja.Object) {
		_ = module.Get("exports").(*goja.Object).Set("value", 7)
	})
	v, err := h.ExecuteScriptWithResult("mod.js", `require("answer").value + require("late").value`)
	require.NoError(t, err)
	assert.Equal(t, int64(49), v.ToInteger())
}

func TestHost_console(t *testing.T) {
	t.Parallel()
	var buf syncBuffer
	h := New(WithLogger(newTestLogger(&buf)))
	require.True(t, h.ExecuteScript("console.js", `console.log("hello"); console.error("bad")`))

	out := buf.String()
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"source":"console"`)
	assert.Contains(t, out, `"lvl":"err"`)
}

func TestHost_Enter_exclusive(t *testing.T) {
	t.Parallel()
	h := New()

	var (
		wg     sync.WaitGroup
		inside int
		max    int
		mu     sync.Mutex
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = h.Enter(func() error {
					mu.Lock()
					inside++
					max = maxInt(max, inside)
					mu.Unlock()
					time.Sleep(time.Microsecond)
					mu.Lock()
					inside--
					mu.Unlock()
					return nil
				})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, max)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func TestHost_Enter_releasesOnPanic(t *testing.T) {
	t.Parallel()
	h := New()
	func() {
		defer func() { _ = recover() }()
		_ = h.Enter(func() error { panic("boom") })
	}()
	require.NoError(t, h.Enter(func() error { return nil }))
}

func TestHost_Close(t *testing.T) {
	t.Parallel()
	h := New()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- h.EnterVM(func(vm *goja.Runtime) error {
			close(started)
			_, err := vm.RunString(`for (;;) {}`)
			return err
		})
	}()
	<-started
	require.NoError(t, h.Close())

	var interrupted *goja.InterruptedError
	require.True(t, errors.As(<-done, &interrupted))

	err := h.Enter(func() error { return nil })
	assert.ErrorIs(t, err, fault.ErrRuntimeUnavailable)
	assert.False(t, h.ExecuteScript("after.js", `1`))
	assert.Equal(t, fault.KindRuntimeUnavailable, fault.KindOf(h.LastError()))
	assert.NoError(t, h.Close())
}

func TestPrinter_nilLogger(t *testing.T) {
	t.Parallel()
	p := printer{}
	p.Log("x")
	p.Warn("x")
	p.Error("x")
	assert.True(t, strings.HasPrefix(ErrNotFunction.Error(), "scripthost: "))
}
