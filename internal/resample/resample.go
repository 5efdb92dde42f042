// Package resample implements the 1-pole low-pass filter plus linear
// interpolation resampler described in spec §4.2, converting the OPL3
// chip's native clockrate down to the mixer's output rate.
package resample

import "math"

// Source pulls one more native-rate sample from upstream (the OPL driver).
// ok is false when the driver could not generate any more frames this call
// (buffer exhausted); the caller must stop pulling on the first false.
type Source func() (sample int16, ok bool)

// Resampler converts from inRate to outRate with a 1-pole anti-alias LPF
// followed by linear interpolation, as specified in spec §4.2.
type Resampler struct {
	lpfCoef   float64
	rateRatio float64
	mu        float64
	prev      float64
	next      float64
	underflow bool
}

// New builds a Resampler. cutoffHz should be outRate/2.
func New(inRate, outRate, cutoffHz float64) *Resampler {
	return &Resampler{
		lpfCoef:   1 - math.Exp(-2*math.Pi*cutoffHz/inRate),
		rateRatio: inRate / outRate,
		mu:        1.0,
	}
}

// Next pulls as many input samples as needed from src to produce one
// output sample. It returns ok=false if src underflowed before an output
// sample could be produced; the caller (the OPL driver) is expected to
// have already tried to top up its native buffer before calling this.
func (r *Resampler) Next(src Source) (int16, bool) {
	for r.mu >= 1.0 {
		x, ok := src()
		if !ok {
			r.underflow = true
			return 0, false
		}
		r.prev = r.next
		r.next += (float64(x) - r.next) * r.lpfCoef
		r.mu -= 1.0
	}
	out := r.prev + (r.next-r.prev)*r.mu
	r.mu += r.rateRatio
	return clampInt16(out), true
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(math.Round(v))
}

// Reset clears interpolation state (e.g. on stream restart).
func (r *Resampler) Reset() {
	r.mu = 1.0
	r.prev = 0
	r.next = 0
	r.underflow = false
}
