package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/qnngroup/qnnlab/util"
)

func ExampleGetBit() {
	fmt.Println(util.GetBit(0b10000000, 7), util.GetBit(0b10000000, 6))
	// Output: true false
}

func TestGetBit(t *testing.T) {
	var b byte = 0b00010010
	for i := uint(0); i < 8; i++ {
		exp := i == 1 || i == 4
		if got := util.GetBit(b, i); got != exp {
			t.Errorf("bit %d: expected %v, got %v", i, exp, got)
		}
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampInRange(t *testing.T) {
	if got := util.Clamp(5, 0, 10); got != 5 {
		t.Errorf("expected in range value to pass through, got %f", got)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
