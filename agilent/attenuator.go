package agilent

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/scpi"
)

// Attenuator is an 8156A/8157A optical attenuator
type Attenuator struct {
	scpi.SCPI
}

// NewAttenuator creates a new attenuator using pool for communication
func NewAttenuator(pool *comm.Pool) *Attenuator {
	return &Attenuator{scpi.SCPI{Pool: pool}}
}

// SetAttenuation sets the attenuation in dB, 0 to 60
func (a *Attenuator) SetAttenuation(dB float64) error {
	if dB < 0 || dB > 60 {
		return errors.Errorf("attenuation %g dB out of range 0-60", dB)
	}
	return a.Write(fmt.Sprintf(":INP:ATT %0.3f", dB))
}

// GetAttenuation returns the attenuation in dB
func (a *Attenuator) GetAttenuation() (float64, error) {
	return a.ReadFloat(":INP:ATT?")
}

// SetWavelength sets the calibration wavelength in meters
func (a *Attenuator) SetWavelength(meters float64) error {
	return a.Write(fmt.Sprintf(":INP:WAV %E", meters))
}

// GetWavelength returns the calibration wavelength in meters
func (a *Attenuator) GetWavelength() (float64, error) {
	return a.ReadFloat(":INP:WAV?")
}

// SetEnabled opens (true) or closes the shutter
func (a *Attenuator) SetEnabled(on bool) error {
	if on {
		return a.Write(":OUTP:STAT ON")
	}
	return a.Write(":OUTP:STAT OFF")
}

// GetEnabled returns true if the shutter is open
func (a *Attenuator) GetEnabled() (bool, error) {
	return a.ReadBool(":OUTP:STAT?")
}
