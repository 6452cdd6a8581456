package filter

import (
	"fmt"
	"math"
)

const (
	gridDensity   = 16
	maxIterations = 40
	// convergence is reached when the extremal errors agree to this fraction.
	convergence = 1e-4
	// rippleFloor is where the error drops into rounding noise; a design this
	// good is accepted even if the extremal errors no longer equalise.
	rippleFloor = 1e-8
	// maxDeviation is the largest weighted ripple accepted from a design
	// (20dB stopband attenuation). Anything worse means the taps cannot
	// realise the transition band.
	maxDeviation = 0.1
)

// DesignError reports infeasible filter design parameters.
type DesignError struct {
	Taps   int
	Reason string
}

func (e *DesignError) Error() string {
	return fmt.Sprintf("filter design with %d taps failed: %s", e.Taps, e.Reason)
}

// Remez designs a linear phase (symmetric) FIR filter with the Parks-McClellan
// exchange algorithm. bands holds pairs of edges in cycles/sample
// (0 <= f <= 0.5), desired and weights hold one value per band.
//
// The result is judged by the weighted error it reaches on the design grid and
// a Kaiser windowed design over the same bands is returned instead when that
// one does better. A DesignError means neither stays within maxDeviation, i.e.
// numTaps is too low for the narrowest transition.
func Remez(numTaps int, bands, desired, weights []float64) ([]float64, error) {
	if numTaps < 3 {
		return nil, &DesignError{Taps: numTaps, Reason: "at least 3 taps are required"}
	}
	if len(bands) == 0 || len(bands)%2 != 0 {
		return nil, &DesignError{Taps: numTaps, Reason: "band edges must come in pairs"}
	}
	numBands := len(bands) / 2
	if len(desired) != numBands || len(weights) != numBands {
		return nil, &DesignError{Taps: numTaps, Reason: "need one desired value and weight per band"}
	}
	for i, f := range bands {
		if f < 0 || f > 0.5 {
			return nil, &DesignError{Taps: numTaps, Reason: fmt.Sprintf("band edge %g outside [0, 0.5]", f)}
		}
		if i > 0 && f <= bands[i-1] {
			return nil, &DesignError{Taps: numTaps, Reason: "band edges must be strictly increasing"}
		}
	}
	for _, w := range weights {
		if w <= 0 {
			return nil, &DesignError{Taps: numTaps, Reason: "weights must be positive"}
		}
	}

	// r is the number of cosine basis functions; r+1 extremal frequencies.
	r := numTaps / 2
	if numTaps%2 == 1 {
		r++
	}
	even := numTaps%2 == 0

	g := newGrid(r, bands, desired, weights)
	target := newGrid(r, bands, desired, weights)
	if len(g.freq) < r+1 {
		return nil, &DesignError{Taps: numTaps, Reason: "bands too narrow for the number of taps"}
	}
	if even {
		// H(f) = cos(pi f) P(f); design P against a reweighted target.
		for i, f := range g.freq {
			c := math.Cos(math.Pi * f)
			g.desired[i] /= c
			g.weight[i] *= c
		}
	}

	ext := make([]int, r+1)
	for i := range ext {
		ext[i] = i * (len(g.freq) - 1) / r
	}

	// Once the optimal ripple drops below double precision the exchange
	// stops settling. The best fit seen so far is kept and judged by the
	// response it actually produces.
	var (
		e     = make([]float64, len(g.freq))
		best  *solution
		bestE = math.Inf(1)
	)
	for iter := 0; iter < maxIterations; iter++ {
		s := solve(g, ext)
		if worst := g.errors(s, e); worst < bestE {
			best, bestE = s, worst
		}
		found, ok := extrema(e, r+1)
		if !ok {
			break
		}
		unchanged := sameIndices(ext, found)
		ext = found

		lo, hi := math.Inf(1), 0.0
		for _, idx := range ext {
			v := math.Abs(e[idx])
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if unchanged || hi < rippleFloor || (hi-lo)/hi < convergence {
			s = solve(g, ext)
			if worst := g.errors(s, e); worst < bestE {
				best, bestE = s, worst
			}
			break
		}
	}

	dev := math.Inf(1)
	var h []float64
	if best != nil {
		h = frequencySample(numTaps, best.amplitudes(numTaps, even))
		dev = target.deviation(h)
	}
	w := windowed(numTaps, bands, desired)
	if wd := target.deviation(w); wd < dev || math.IsNaN(dev) {
		h, dev = w, wd
	}
	if !(dev <= maxDeviation) {
		return nil, &DesignError{Taps: numTaps, Reason: fmt.Sprintf("ripple %.3f too large for the transition band", dev)}
	}
	return h, nil
}

// grid is the dense frequency grid the error is evaluated on.
type grid struct {
	freq    []float64
	desired []float64
	weight  []float64
}

func newGrid(r int, bands, desired, weights []float64) *grid {
	delf := 0.5 / float64(gridDensity*r)
	g := &grid{}
	for b := 0; b < len(bands)/2; b++ {
		low, high := bands[2*b], bands[2*b+1]
		k := int((high-low)/delf + 0.5)
		if k < 1 {
			k = 1
		}
		for i := 0; i < k; i++ {
			g.freq = append(g.freq, low+float64(i)*delf)
			g.desired = append(g.desired, desired[b])
			g.weight = append(g.weight, weights[b])
		}
		g.freq[len(g.freq)-1] = high
	}
	// An even length symmetric filter always has a zero at Nyquist.
	if n := len(g.freq); n > 0 && g.freq[n-1] > 0.5-delf {
		g.freq[n-1] = 0.5 - delf
	}
	return g
}

// errors fills e with the weighted error of s on the grid and returns its
// largest magnitude.
func (g *grid) errors(s *solution, e []float64) float64 {
	worst := 0.0
	for i, f := range g.freq {
		e[i] = g.weight[i] * (g.desired[i] - s.eval(f))
		if v := math.Abs(e[i]); v > worst || math.IsNaN(v) {
			worst = v
		}
	}
	return worst
}

// deviation is the largest weighted error of the filter h on the grid.
func (g *grid) deviation(h []float64) float64 {
	worst := 0.0
	for i, f := range g.freq {
		v := g.weight[i] * math.Abs(g.desired[i]-amplitude(h, f))
		if v > worst || math.IsNaN(v) {
			worst = v
		}
	}
	return worst
}

// solution is the Chebyshev fit through the current extremal set, evaluated
// by barycentric Lagrange interpolation.
type solution struct {
	x     []float64
	y     []float64
	ad    []float64
	delta float64
}

func solve(g *grid, ext []int) *solution {
	n := len(ext)
	s := &solution{
		x:  make([]float64, n),
		y:  make([]float64, n),
		ad: make([]float64, n),
	}
	for i, idx := range ext {
		s.x[i] = math.Cos(2 * math.Pi * g.freq[idx])
	}
	// Interleaved products keep the weights from over/underflowing.
	ld := (n-2)/15 + 1
	for i := range s.x {
		denom := 1.0
		for j := 0; j < ld; j++ {
			for k := j; k < n; k += ld {
				if k != i {
					denom *= 2 * (s.x[i] - s.x[k])
				}
			}
		}
		if math.Abs(denom) < 1e-5 {
			denom = 1e-5
		}
		s.ad[i] = 1 / denom
	}

	var numer, denom float64
	sign := 1.0
	for i, idx := range ext {
		numer += s.ad[i] * g.desired[idx]
		denom += sign * s.ad[i] / g.weight[idx]
		sign = -sign
	}
	s.delta = numer / denom
	sign = 1.0
	for i, idx := range ext {
		s.y[i] = g.desired[idx] - sign*s.delta/g.weight[idx]
		sign = -sign
	}
	return s
}

// amplitudes samples the fitted response at f = k/numTaps, k = 0..numTaps/2.
func (s *solution) amplitudes(numTaps int, even bool) []float64 {
	amp := make([]float64, numTaps/2+1)
	for k := range amp {
		f := float64(k) / float64(numTaps)
		a := s.eval(f)
		if even {
			a *= math.Cos(math.Pi * f)
		}
		amp[k] = a
	}
	return amp
}

func (s *solution) eval(f float64) float64 {
	xc := math.Cos(2 * math.Pi * f)
	var numer, denom float64
	for i := range s.x {
		c := xc - s.x[i]
		if math.Abs(c) < 1e-7 {
			return s.y[i]
		}
		c = s.ad[i] / c
		denom += c
		numer += c * s.y[i]
	}
	return numer / denom
}

// extrema locates the local extrema of the error curve and thins them down to
// want alternating points.
func extrema(e []float64, want int) ([]int, bool) {
	n := len(e)
	if n < 2 {
		return nil, false
	}
	var found []int
	if (e[0] > 0 && e[0] > e[1]) || (e[0] < 0 && e[0] < e[1]) {
		found = append(found, 0)
	}
	for i := 1; i < n-1; i++ {
		if (e[i] >= e[i-1] && e[i] > e[i+1] && e[i] > 0) ||
			(e[i] <= e[i-1] && e[i] < e[i+1] && e[i] < 0) {
			found = append(found, i)
		}
	}
	if (e[n-1] > 0 && e[n-1] > e[n-2]) || (e[n-1] < 0 && e[n-1] < e[n-2]) {
		found = append(found, n-1)
	}

	// Of two neighbours with the same sign only the larger one is an
	// alternation point.
	for i := 1; i < len(found); {
		a, b := found[i-1], found[i]
		if (e[a] > 0) == (e[b] > 0) {
			if math.Abs(e[a]) < math.Abs(e[b]) {
				found = append(found[:i-1], found[i:]...)
			} else {
				found = append(found[:i], found[i+1:]...)
			}
			continue
		}
		i++
	}
	// Drop from whichever end carries the smaller error.
	for len(found) > want {
		if math.Abs(e[found[0]]) < math.Abs(e[found[len(found)-1]]) {
			found = found[1:]
		} else {
			found = found[:len(found)-1]
		}
	}
	if len(found) < want {
		return nil, false
	}
	return found, true
}

func sameIndices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// frequencySample computes the impulse response of a symmetric filter from
// numTaps/2+1 samples of its amplitude response at f = k/numTaps.
func frequencySample(numTaps int, amp []float64) []float64 {
	h := make([]float64, numTaps)
	m := float64(numTaps-1) / 2
	last := (numTaps - 1) / 2
	for n := range h {
		x := 2 * math.Pi * (float64(n) - m) / float64(numTaps)
		v := amp[0]
		for k := 1; k <= last; k++ {
			v += 2 * amp[k] * math.Cos(x*float64(k))
		}
		h[n] = v / float64(numTaps)
	}
	return h
}

// amplitude is the zero phase response of the symmetric filter h at f.
func amplitude(h []float64, f float64) float64 {
	m := float64(len(h)-1) / 2
	var a float64
	for n, c := range h {
		a += c * math.Cos(2*math.Pi*f*(float64(n)-m))
	}
	return a
}

// windowed designs a piecewise constant filter by windowing the ideal
// response with a Kaiser window. Band boundaries sit in the middle of each
// transition and the window is sized for the narrowest one.
func windowed(numTaps int, bands, desired []float64) []float64 {
	numBands := len(bands) / 2
	cuts := []float64{0}
	width := 0.5
	for b := 0; b < numBands-1; b++ {
		cuts = append(cuts, (bands[2*b+1]+bands[2*b+2])/2)
		width = math.Min(width, bands[2*b+2]-bands[2*b+1])
	}
	cuts = append(cuts, 0.5)

	// Kaiser's estimate of the attenuation reachable with these taps.
	atten := math.Min(14.36*width*float64(numTaps-1)+7.95, 150)
	var beta float64
	switch {
	case atten > 50:
		beta = 0.1102 * (atten - 8.7)
	case atten > 21:
		beta = 0.5842*math.Pow(atten-21, 0.4) + 0.07886*(atten-21)
	}

	// ideal lowpass with cutoff c, centred on x = 0
	ideal := func(c, x float64) float64 {
		if x == 0 {
			return 2 * c
		}
		return math.Sin(2*math.Pi*c*x) / (math.Pi * x)
	}
	h := make([]float64, numTaps)
	m := float64(numTaps-1) / 2
	norm := besselI0(beta)
	for n := range h {
		x := float64(n) - m
		var v float64
		for b := 0; b < numBands; b++ {
			v += desired[b] * (ideal(cuts[b+1], x) - ideal(cuts[b], x))
		}
		pos := x / m
		v *= besselI0(beta*math.Sqrt(math.Max(0, 1-pos*pos))) / norm
		h[n] = v
	}
	return h
}

// besselI0 is the zeroth order modified Bessel function of the first kind.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	for k := 1; ; k++ {
		q := x / (2 * float64(k))
		term *= q * q
		sum += term
		if term < 1e-17*sum {
			return sum
		}
	}
}
