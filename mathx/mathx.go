// Package mathx holds the numeric helpers used to build sweeps and post
// process their results
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Linspace returns n evenly spaced points from start to stop, inclusive.
// n == 1 returns just start
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// Arange returns start, start+step, ... up to but excluding stop
func Arange(start, stop, step float64) []float64 {
	if step == 0 || (stop-start)/step <= 0 {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// SweepList builds the setpoints of a bias sweep.  The forward leg is
// Linspace(start, stop, steps).  returnSweep appends the same points in
// reverse, without repeating stop.  bidirectional appends the whole
// sequence again with every point negated
func SweepList(start, stop float64, steps int, returnSweep, bidirectional bool) []float64 {
	fwd := Linspace(start, stop, steps)
	out := append([]float64(nil), fwd...)
	if returnSweep {
		for i := len(fwd) - 2; i >= 0; i-- {
			out = append(out, fwd[i])
		}
	}
	if bidirectional {
		n := len(out)
		for i := 0; i < n; i++ {
			out = append(out, -out[i])
		}
	}
	return out
}

// Diff returns the first differences of x, len(x)-1 values
func Diff(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	for i := range out {
		out[i] = x[i+1] - x[i]
	}
	return out
}

// CriticalCurrent returns the current at the first step where the voltage
// jumps by more than threshold, the switching current of a nanowire.  NaN
// if the voltage never jumps
func CriticalCurrent(i, v []float64, threshold float64) float64 {
	dv := Diff(v)
	for k, d := range dv {
		if math.Abs(d) > threshold && k < len(i) {
			return i[k]
		}
	}
	return math.NaN()
}

// DB10 converts a power ratio to dB
func DB10(x float64) float64 {
	return 10 * math.Log10(x)
}

// DB20 converts an amplitude ratio to dB
func DB20(x float64) float64 {
	return 20 * math.Log10(x)
}

// FromDB10 converts dB to a power ratio
func FromDB10(db float64) float64 {
	return math.Pow(10, db/10)
}

// DBmToWatts converts a power in dBm to W
func DBmToWatts(dbm float64) float64 {
	return FromDB10(dbm) / 1e3
}

// WattsToDBm converts a power in W to dBm
func WattsToDBm(w float64) float64 {
	return DB10(w * 1e3)
}

// Magnitude returns |re + j*im| elementwise
func Magnitude(re, im []float64) []float64 {
	out := make([]float64, min(len(re), len(im)))
	for i := range out {
		out[i] = math.Hypot(re[i], im[i])
	}
	return out
}

// PhaseDeg returns the phase of re + j*im in degrees, elementwise
func PhaseDeg(re, im []float64) []float64 {
	out := make([]float64, min(len(re), len(im)))
	for i := range out {
		out[i] = math.Atan2(im[i], re[i]) * 180 / math.Pi
	}
	return out
}

// ArgMin returns the index of the smallest value in x, -1 if x is empty
func ArgMin(x []float64) int {
	idx := -1
	for i, v := range x {
		if idx < 0 || v < x[idx] {
			idx = i
		}
	}
	return idx
}

// Histogram counts values into bins equal width bins spanning [lo, hi].
// Values outside the range are ignored; hi falls in the last bin.  edges
// has bins+1 entries
func Histogram(values []float64, bins int, lo, hi float64) (counts []int, edges []float64) {
	if bins <= 0 || hi <= lo {
		return nil, nil
	}
	counts = make([]int, bins)
	edges = Linspace(lo, hi, bins+1)
	width := (hi - lo) / float64(bins)
	for _, v := range values {
		if v < lo || v > hi || math.IsNaN(v) {
			continue
		}
		k := int((v - lo) / width)
		if k >= bins {
			k = bins - 1
		}
		counts[k]++
	}
	return counts, edges
}
