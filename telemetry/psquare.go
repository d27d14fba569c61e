package telemetry

import (
	"math"
)

// quantile is a streaming P-square estimator for a single quantile, see Jain
// and Chlamtac (1985), "The P² Algorithm for Dynamic Calculation of
// Quantiles and Histograms Without Storing Observations".
//
// Updates and reads are O(1), and it retains five markers regardless of the
// number of observations. Not safe for concurrent use.
type quantile struct {
	// heights of the five markers
	q [5]float64
	// desired marker positions
	want [5]float64
	// desired position increments, per observation
	step [5]float64
	// actual marker positions
	pos   [5]int
	p     float64
	count int
}

func newQuantile(p float64) quantile {
	p = math.Max(0, math.Min(1, p))
	return quantile{
		p:    p,
		step: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (x *quantile) observe(v float64) {
	x.count++

	if x.count <= 5 {
		// the first five observations seed the markers, kept sorted
		i := x.count - 1
		for i > 0 && x.q[i-1] > v {
			x.q[i] = x.q[i-1]
			i--
		}
		x.q[i] = v
		if x.count == 5 {
			x.pos = [5]int{0, 1, 2, 3, 4}
			x.want = [5]float64{0, 2 * x.p, 4 * x.p, 2 + 2*x.p, 4}
		}
		return
	}

	var cell int
	switch {
	case v < x.q[0]:
		x.q[0] = v
	case v >= x.q[4]:
		x.q[4] = v
		cell = 3
	default:
		for cell = 0; cell < 3; cell++ {
			if v < x.q[cell+1] {
				break
			}
		}
	}

	for i := cell + 1; i < 5; i++ {
		x.pos[i]++
	}
	for i := range x.want {
		x.want[i] += x.step[i]
	}

	for i := 1; i < 4; i++ {
		d := x.want[i] - float64(x.pos[i])
		if (d < 1 || x.pos[i+1]-x.pos[i] <= 1) && (d > -1 || x.pos[i-1]-x.pos[i] >= -1) {
			continue
		}
		dir := 1
		if d < 0 {
			dir = -1
		}
		if h := x.parabolic(i, dir); x.q[i-1] < h && h < x.q[i+1] {
			x.q[i] = h
		} else {
			x.q[i] = x.linear(i, dir)
		}
		x.pos[i] += dir
	}
}

func (x *quantile) parabolic(i, dir int) float64 {
	d := float64(dir)
	n, prev, next := float64(x.pos[i]), float64(x.pos[i-1]), float64(x.pos[i+1])
	return x.q[i] + d/(next-prev)*
		((n-prev+d)*(x.q[i+1]-x.q[i])/(next-n)+
			(next-n-d)*(x.q[i]-x.q[i-1])/(n-prev))
}

func (x *quantile) linear(i, dir int) float64 {
	j := i + dir
	return x.q[i] + float64(dir)*(x.q[j]-x.q[i])/float64(x.pos[j]-x.pos[i])
}

// value returns the current estimate.
func (x *quantile) value() float64 {
	switch {
	case x.count == 0:
		return 0
	case x.count < 5:
		// seeds are sorted, pick the nearest rank
		return x.q[int(float64(x.count-1)*x.p)]
	default:
		return x.q[2]
	}
}

// distribution tracks a fixed set of quantiles, plus the count, sum, and
// maximum, of a stream of observations. Not safe for concurrent use.
type distribution struct {
	quantiles []quantile
	sum       float64
	max       float64
	count     int
}

func newDistribution(ps ...float64) distribution {
	d := distribution{quantiles: make([]quantile, len(ps))}
	for i, p := range ps {
		d.quantiles[i] = newQuantile(p)
	}
	return d
}

func (x *distribution) observe(v float64) {
	if x.count == 0 || v > x.max {
		x.max = v
	}
	x.count++
	x.sum += v
	for i := range x.quantiles {
		x.quantiles[i].observe(v)
	}
}

func (x *distribution) quantile(i int) float64 {
	if i < 0 || i >= len(x.quantiles) {
		return 0
	}
	return x.quantiles[i].value()
}

func (x *distribution) mean() float64 {
	if x.count == 0 {
		return 0
	}
	return x.sum / float64(x.count)
}

func (x *distribution) reset() {
	for i := range x.quantiles {
		x.quantiles[i] = newQuantile(x.quantiles[i].p)
	}
	x.sum, x.max, x.count = 0, 0, 0
}
