// Package filter designs and applies the FIR filters used by the demodulator.
package filter

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Lowpass designs an equiripple lowpass filter for the given sample rate with
// the passband ending at passEdge and the stopband starting at stopEdge (Hz).
func Lowpass(numTaps int, sampleRate, passEdge, stopEdge float64) ([]float64, error) {
	if sampleRate <= 0 {
		return nil, &DesignError{Taps: numTaps, Reason: "sample rate must be positive"}
	}
	nyquist := sampleRate / 2
	if passEdge <= 0 || stopEdge <= passEdge || stopEdge >= nyquist {
		return nil, &DesignError{
			Taps:   numTaps,
			Reason: fmt.Sprintf("need 0 < pass (%g Hz) < stop (%g Hz) < nyquist (%g Hz)", passEdge, stopEdge, nyquist),
		}
	}
	return Remez(numTaps,
		[]float64{0, passEdge / sampleRate, stopEdge / sampleRate, 0.5},
		[]float64{1, 0},
		[]float64{1, 1},
	)
}

// Hamming designs a windowed-sinc lowpass filter. cutoff is relative to the
// Nyquist frequency (0 < cutoff < 1) and the DC gain is normalised to 1.
func Hamming(numTaps int, cutoff float64) []float64 {
	h := make([]float64, numTaps)
	m := float64(numTaps-1) / 2
	var sum float64
	for n := range h {
		x := float64(n) - m
		v := cutoff
		if x != 0 {
			v = math.Sin(math.Pi*cutoff*x) / (math.Pi * x)
		}
		if numTaps > 1 {
			v *= 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/float64(numTaps-1))
		}
		h[n] = v
		sum += v
	}
	if sum != 0 {
		for n := range h {
			h[n] /= sum
		}
	}
	return h
}

// Apply runs x through the FIR filter h with zero initial state.
func Apply(h, x []float64) []float64 {
	return DecimateReal(h, x, 1)
}

// DecimateComplex filters x with h and keeps every factor-th output, starting
// with the first. Only the kept outputs are computed.
func DecimateComplex(h []float64, x []complex128, factor int) []complex128 {
	if factor < 1 {
		factor = 1
	}
	out := make([]complex128, (len(x)+factor-1)/factor)
	for m := range out {
		n := m * factor
		var re, im float64
		for k, c := range h {
			if k > n {
				break
			}
			v := x[n-k]
			re += c * real(v)
			im += c * imag(v)
		}
		out[m] = complex(re, im)
	}
	return out
}

// DecimateReal is DecimateComplex for real signals.
func DecimateReal(h, x []float64, factor int) []float64 {
	if factor < 1 {
		factor = 1
	}
	out := make([]float64, (len(x)+factor-1)/factor)
	for m := range out {
		n := m * factor
		var acc float64
		for k, c := range h {
			if k > n {
				break
			}
			acc += c * x[n-k]
		}
		out[m] = acc
	}
	return out
}

// Response returns the magnitude response of h at f cycles/sample.
func Response(h []float64, f float64) float64 {
	var acc complex128
	for n, c := range h {
		acc += complex(c, 0) * cmplx.Exp(complex(0, -2*math.Pi*f*float64(n)))
	}
	return cmplx.Abs(acc)
}
