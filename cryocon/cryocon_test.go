package cryocon_test

import (
	"math"
	"testing"

	"github.com/qnngroup/qnnlab/comm/commtest"
	"github.com/qnngroup/qnnlab/cryocon"
)

func TestParseTemperature(t *testing.T) {
	for in, exp := range map[string]float64{
		"4.2;K":      4.2,
		"-269.15;C":  4,
		" 1.000 ;K ": 1,
	} {
		got, err := cryocon.ParseTemperature(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if math.Abs(float64(got)-exp) > 1e-9 {
			t.Errorf("%q: expected %g, got %g", in, exp, got)
		}
	}
	got, err := cryocon.ParseTemperature("-------;K")
	if err != nil || !math.IsNaN(float64(got)) {
		t.Errorf("expected NaN for an empty channel, got %g, %v", got, err)
	}
	if _, err := cryocon.ParseTemperature("4.2;Q"); err == nil {
		t.Error("expected an error for an unknown unit")
	}
}

func TestReadAllChannels(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{
		"*IDN?":             "Cryocon Model 14 Rev 1.00",
		"INP 0:TEMP?;UNIT?": "3.1;K",
		"INP 1:TEMP?;UNIT?": "..;K",
		"INP 2:TEMP?;UNIT?": "NAK",
	}))
	tm := cryocon.NewTemperatureMonitor(inst.Pool())
	got, err := tm.ReadAllChannels()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 3.1 || !math.IsNaN(float64(got[1])) {
		t.Errorf("expected [3.1 NaN], got %v", got)
	}
	k, err := tm.ReadKelvin("0")
	if err != nil || k != 3.1 {
		t.Errorf("expected 3.1, got %g, %v", k, err)
	}
}
