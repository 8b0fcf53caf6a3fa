package instruments

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/agilent"
)

// PulseShaper is a WaveformGenerator that can set a pulse width
type PulseShaper interface {
	SetPulseWidth(ch int, secs float64) error
}

// 33250A function names for the shapes a WaveformGenerator understands
var agilentShapes = map[string]string{
	"SINE":   "SIN",
	"SQUARE": "SQU",
	"RAMP":   "RAMP",
	"PULSE":  "PULS",
	"NOISE":  "NOIS",
	"DC":     "DC",
	"ARB":    "USER",
}

// singleChannel presents a one channel 33250A as a WaveformGenerator
type singleChannel struct {
	*agilent.FunctionGenerator
}

func (s singleChannel) check(ch int) error {
	if ch != 1 {
		return errors.Errorf("single channel generator has no channel %d", ch)
	}
	return nil
}

func (s singleChannel) SetWaveform(ch int, shape string) error {
	if err := s.check(ch); err != nil {
		return err
	}
	fcn, ok := agilentShapes[strings.ToUpper(shape)]
	if !ok {
		return errors.Errorf("unknown waveform %q", shape)
	}
	return s.SetFunction(fcn)
}

func (s singleChannel) SetFrequency(ch int, hz float64) error {
	if err := s.check(ch); err != nil {
		return err
	}
	return s.FunctionGenerator.SetFrequency(hz)
}

func (s singleChannel) SetAmplitude(ch int, vpp float64) error {
	if err := s.check(ch); err != nil {
		return err
	}
	return s.SetVoltage(vpp)
}

func (s singleChannel) SetOffset(ch int, volts float64) error {
	if err := s.check(ch); err != nil {
		return err
	}
	return s.FunctionGenerator.SetOffset(volts)
}

func (s singleChannel) SetOutput(ch int, on bool) error {
	if err := s.check(ch); err != nil {
		return err
	}
	return s.FunctionGenerator.SetOutput(on)
}

func (s singleChannel) SetPulseWidth(ch int, secs float64) error {
	if err := s.check(ch); err != nil {
		return err
	}
	return s.FunctionGenerator.SetPulseWidth(secs)
}
