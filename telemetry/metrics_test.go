package telemetry

import (
	"math"
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExceptions struct{ n uint64 }

func (x *fakeExceptions) Exceptions() uint64 { return x.n }
func (x *fakeExceptions) ResetExceptions() uint64 {
	n := x.n
	x.n = 0
	return n
}

type fakeDrops uint64

func (x fakeDrops) Dropped() uint64 { return uint64(x) }

func TestMetrics_Snapshot(t *testing.T) {
	t.Parallel()

	exceptions := &fakeExceptions{n: 3}
	m := New(WithExceptionSource(exceptions), WithDropSource(fakeDrops(7)))

	m.RecordFrame(false, false, 0)
	m.RecordFrame(false, true, 0)
	m.RecordFrame(true, false, 4)
	// 37 is coprime to 101, so this visits 1..100 in a scrambled order
	for i := 1; i <= 100; i++ {
		m.RecordPass(time.Duration(i*37%101)*time.Millisecond, i == 100)
	}

	s := m.Snapshot()
	assert.Equal(t, uint64(3), s.Frames)
	assert.Equal(t, uint64(1), s.Consumed)
	assert.Equal(t, uint64(1), s.Skipped)
	assert.Equal(t, uint64(4), s.Commands)
	assert.Equal(t, uint64(1), s.Faulted)
	assert.Equal(t, uint64(3), s.Exceptions)
	assert.Equal(t, uint64(7), s.Dropped)
	assert.Equal(t, 100, s.Pass.Count)
	assert.Equal(t, 100*time.Millisecond, s.Pass.Max)
	assert.InDelta(t, float64(50500*time.Microsecond), float64(s.Pass.Mean), float64(time.Microsecond))
	assert.InDelta(t, float64(50*time.Millisecond), float64(s.Pass.P50), float64(10*time.Millisecond))
	assert.Greater(t, s.FPS, 0.0)

	m.Reset()
	s = m.Snapshot()
	assert.Zero(t, s.Frames)
	assert.Zero(t, s.Pass.Count)
	assert.Zero(t, s.Exceptions)
	assert.Equal(t, uint64(7), s.Dropped)
}

func TestQuantile_accuracy(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	d := newDistribution(percentiles[:]...)
	values := make([]float64, 10_000)
	for i := range values {
		values[i] = r.Float64() * 1000
		d.observe(values[i])
	}
	sort.Float64s(values)

	for i, p := range percentiles {
		want := values[int(p*float64(len(values)-1))]
		got := d.quantile(i)
		if math.Abs(got-want) > 20 {
			t.Errorf("p%.0f: got %.2f, want ~%.2f", p*100, got, want)
		}
	}
	assert.Equal(t, values[len(values)-1], d.max)
}

func TestQuantile_fewObservations(t *testing.T) {
	t.Parallel()
	q := newQuantile(0.5)
	assert.Zero(t, q.value())
	for _, v := range []float64{5, 1, 3} {
		q.observe(v)
	}
	assert.Equal(t, 3.0, q.value())
}

func TestRateCounter(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	c := NewRateCounter(time.Second, 100*time.Millisecond)
	c.now = func() time.Time { return now }
	c.last = now

	for range 10 {
		c.Increment()
	}
	require.InDelta(t, 10.0, c.Rate(), 1e-9)

	now = now.Add(500 * time.Millisecond)
	c.Increment()
	require.InDelta(t, 11.0, c.Rate(), 1e-9)

	now = now.Add(600 * time.Millisecond)
	require.InDelta(t, 1.0, c.Rate(), 1e-9, "first bucket expired")

	now = now.Add(time.Hour)
	require.Zero(t, c.Rate())
}
