package mathx_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/qnngroup/qnnlab/mathx"
)

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-12 {
			return false
		}
	}
	return true
}

func ExampleSweepList() {
	fmt.Println(mathx.SweepList(0, 2, 3, true, false))
	// Output: [0 1 2 1 0]
}

func TestRound(t *testing.T) {
	if got := mathx.Round(1.26, 0.1); math.Abs(got-1.3) > 1e-12 {
		t.Errorf("expected 1.3, got %g", got)
	}
	if got := mathx.Round(-1.26, 0.1); math.Abs(got+1.3) > 1e-12 {
		t.Errorf("expected -1.3, got %g", got)
	}
}

func TestLinspace(t *testing.T) {
	table := []struct {
		start, stop float64
		n           int
		exp         []float64
	}{
		{0, 1, 5, []float64{0, .25, .5, .75, 1}},
		{1, -1, 3, []float64{1, 0, -1}},
		{3, 9, 1, []float64{3}},
		{0, 1, 0, nil},
	}
	for _, tt := range table {
		if got := mathx.Linspace(tt.start, tt.stop, tt.n); !equal(got, tt.exp) {
			t.Errorf("Linspace(%g, %g, %d): expected %v, got %v", tt.start, tt.stop, tt.n, tt.exp, got)
		}
	}
}

func TestArange(t *testing.T) {
	if got := mathx.Arange(0, 1, 0.25); !equal(got, []float64{0, .25, .5, .75}) {
		t.Errorf("unexpected %v", got)
	}
	if got := mathx.Arange(0, 1, -1); got != nil {
		t.Errorf("expected nil for step pointing away from stop, got %v", got)
	}
}

func TestSweepListBidirectional(t *testing.T) {
	got := mathx.SweepList(0, 1, 2, true, true)
	exp := []float64{0, 1, 0, 0, -1, 0}
	if !equal(got, exp) {
		t.Errorf("expected %v, got %v", exp, got)
	}
}

func TestCriticalCurrent(t *testing.T) {
	i := []float64{0, 1e-6, 2e-6, 3e-6, 4e-6}
	v := []float64{0, 0, 1e-5, 5e-3, 5e-3}
	if got := mathx.CriticalCurrent(i, v, 1e-3); got != 2e-6 {
		t.Errorf("expected switching at 2 uA, got %g", got)
	}
	if got := mathx.CriticalCurrent(i, make([]float64, 5), 1e-3); !math.IsNaN(got) {
		t.Errorf("expected NaN for a device that never switches, got %g", got)
	}
}

func TestDecibels(t *testing.T) {
	if got := mathx.DB10(100); math.Abs(got-20) > 1e-12 {
		t.Errorf("DB10(100) = %g", got)
	}
	if got := mathx.DB20(10); math.Abs(got-20) > 1e-12 {
		t.Errorf("DB20(10) = %g", got)
	}
	if got := mathx.DBmToWatts(30); math.Abs(got-1) > 1e-12 {
		t.Errorf("30 dBm = %g W", got)
	}
	if got := mathx.WattsToDBm(mathx.DBmToWatts(-17)); math.Abs(got+17) > 1e-9 {
		t.Errorf("dBm round trip gave %g", got)
	}
}

func TestMagnitudePhase(t *testing.T) {
	re, im := []float64{3, 0}, []float64{4, -1}
	if got := mathx.Magnitude(re, im); !equal(got, []float64{5, 1}) {
		t.Errorf("unexpected magnitude %v", got)
	}
	if got := mathx.PhaseDeg(re, im); math.Abs(got[1]+90) > 1e-12 {
		t.Errorf("expected -90 deg, got %v", got)
	}
}

func TestArgMin(t *testing.T) {
	if got := mathx.ArgMin([]float64{3, -1, 2, -1}); got != 1 {
		t.Errorf("expected first minimum at 1, got %d", got)
	}
	if got := mathx.ArgMin(nil); got != -1 {
		t.Errorf("expected -1 for empty input, got %d", got)
	}
}

func TestHistogram(t *testing.T) {
	counts, edges := mathx.Histogram([]float64{0, 0.1, 0.5, 1, 2, -1}, 2, 0, 1)
	if len(counts) != 2 || counts[0] != 2 || counts[1] != 2 {
		t.Errorf("unexpected counts %v", counts)
	}
	if !equal(edges, []float64{0, .5, 1}) {
		t.Errorf("unexpected edges %v", edges)
	}
}
