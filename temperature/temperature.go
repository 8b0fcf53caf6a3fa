// Package temperature holds the units cryostat thermometry is reported in
// and conversions to kelvin, the unit every qnnlab log and recipe uses.
package temperature

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

type (
	// Kelvin is a temperature in K
	Kelvin float64

	// Celsius is a temperature in C
	Celsius float64

	// Fahrenheit is a temperature in deg F
	Fahrenheit float64
)

const zeroCelsius = 273.15

// Unknown is the reading recorded for a sensor that is open, over range
// or not installed
var Unknown = Kelvin(math.NaN())

// ErrUnknownUnit is returned by ToKelvin for a unit letter it cannot convert
var ErrUnknownUnit = errors.New("unknown temperature unit")

// Valid is false for Unknown and for readings below absolute zero
func (k Kelvin) Valid() bool {
	return !math.IsNaN(float64(k)) && k >= 0
}

// C2K converts Celsius to Kelvin
func C2K(c Celsius) Kelvin {
	return Kelvin(c + zeroCelsius)
}

// K2C converts Kelvin to Celsius
func K2C(k Kelvin) Celsius {
	return Celsius(k - zeroCelsius)
}

// F2K converts Fahrenheit to Kelvin
func F2K(f Fahrenheit) Kelvin {
	return C2K(Celsius((f - 32) * 5 / 9))
}

// ToKelvin converts value, reported in unit K, C or F, to kelvin.
// Controllers set to sensor units (S, ohms, volts) cannot be converted
func ToKelvin(value float64, unit string) (Kelvin, error) {
	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "K", "":
		return Kelvin(value), nil
	case "C":
		return C2K(Celsius(value)), nil
	case "F":
		return F2K(Fahrenheit(value)), nil
	}
	return Unknown, errors.Wrapf(ErrUnknownUnit, "%q", unit)
}
