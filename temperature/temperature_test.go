package temperature_test

import (
	"errors"
	"math"
	"testing"

	"github.com/qnngroup/qnnlab/temperature"
)

func TestToKelvin(t *testing.T) {
	cases := []struct {
		value float64
		unit  string
		exp   float64
	}{
		{4.2, "K", 4.2},
		{1.5, "", 1.5},
		{0, "C", 273.15},
		{-268.95, " c ", 4.2},
		{32, "F", 273.15},
	}
	for _, c := range cases {
		k, err := temperature.ToKelvin(c.value, c.unit)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(float64(k)-c.exp) > 1e-9 {
			t.Errorf("%g %q: expected %g K, got %g", c.value, c.unit, c.exp, k)
		}
	}
}

func TestToKelvinSensorUnits(t *testing.T) {
	k, err := temperature.ToKelvin(1200, "S")
	if !errors.Is(err, temperature.ErrUnknownUnit) {
		t.Errorf("expected ErrUnknownUnit, got %v", err)
	}
	if k.Valid() {
		t.Error("unconvertible reading should not be valid")
	}
}

func TestK2CRoundTrip(t *testing.T) {
	for _, k := range []temperature.Kelvin{0.01, 4.2, 77, 300} {
		if back := temperature.C2K(temperature.K2C(k)); math.Abs(float64(back-k)) > 1e-9 {
			t.Errorf("%v K round tripped to %v", k, back)
		}
	}
	if temperature.Kelvin(-1).Valid() {
		t.Error("negative kelvin should not be valid")
	}
}
