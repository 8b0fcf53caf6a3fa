// Package keysight provides access to Keysight (Agilent) PNA network analyzers in Go
package keysight

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/scpi"
)

// MeasurementName is the name given to the S21 trace this package creates
const MeasurementName = "CH1_S21"

// PNA is an interface to an N5224A, N5230 or similar PNA family analyzer
type PNA struct {
	scpi.SCPI
	averages int
}

// NewPNA creates a new analyzer using pool for communication
func NewPNA(pool *comm.Pool) *PNA {
	return &PNA{SCPI: scpi.SCPI{Pool: pool}}
}

// ConfigureS21 deletes all measurements, creates an S21 trace, displays it
// and selects ASCII data transfer
func (p *PNA) ConfigureS21() error {
	for _, cmd := range []string{
		"CALC1:PAR:DEL:ALL",
		fmt.Sprintf("CALC1:PAR:DEF:EXT '%s','S21'", MeasurementName),
		fmt.Sprintf("DISP:WIND1:TRAC1:FEED '%s'", MeasurementName),
		fmt.Sprintf("CALC1:PAR:SEL '%s'", MeasurementName),
		"FORM:DATA ASCII,0",
		"INIT1:CONT OFF",
	} {
		if err := p.Write(cmd); err != nil {
			return errors.Wrap(err, "configuring S21 measurement")
		}
	}
	return nil
}

// SetStartFrequency sets the start of the sweep in Hz
func (p *PNA) SetStartFrequency(hz float64) error {
	return p.Write(fmt.Sprintf("SENS1:FREQ:STAR %E", hz))
}

// GetStartFrequency returns the start of the sweep in Hz
func (p *PNA) GetStartFrequency() (float64, error) {
	return p.ReadFloat("SENS1:FREQ:STAR?")
}

// SetStopFrequency sets the end of the sweep in Hz
func (p *PNA) SetStopFrequency(hz float64) error {
	return p.Write(fmt.Sprintf("SENS1:FREQ:STOP %E", hz))
}

// GetStopFrequency returns the end of the sweep in Hz
func (p *PNA) GetStopFrequency() (float64, error) {
	return p.ReadFloat("SENS1:FREQ:STOP?")
}

// SetCenterSpan sets the sweep by its center and width in Hz
func (p *PNA) SetCenterSpan(center, span float64) error {
	if err := p.Write(fmt.Sprintf("SENS1:FREQ:CENT %E", center)); err != nil {
		return err
	}
	return p.Write(fmt.Sprintf("SENS1:FREQ:SPAN %E", span))
}

// SetPoints sets the number of points in the sweep
func (p *PNA) SetPoints(n int) error {
	if n < 1 {
		return errors.Errorf("sweep must have at least one point, got %d", n)
	}
	return p.Write(fmt.Sprintf("SENS1:SWE:POIN %d", n))
}

// GetPoints returns the number of points in the sweep
func (p *PNA) GetPoints() (int, error) {
	return p.ReadInt("SENS1:SWE:POIN?")
}

// SetIFBandwidth sets the IF bandwidth in Hz
func (p *PNA) SetIFBandwidth(hz float64) error {
	return p.Write(fmt.Sprintf("SENS1:BAND %E", hz))
}

// SetPower sets the port 1 source power in dBm
func (p *PNA) SetPower(dBm float64) error {
	return p.Write(fmt.Sprintf("SOUR1:POW1 %E", dBm))
}

// GetPower returns the port 1 source power in dBm
func (p *PNA) GetPower() (float64, error) {
	return p.ReadFloat("SOUR1:POW1?")
}

// SetOutput turns the RF output on or off
func (p *PNA) SetOutput(on bool) error {
	if on {
		return p.Write("OUTP ON")
	}
	return p.Write("OUTP OFF")
}

// SetAverages sets the number of sweeps averaged per measurement.
// n <= 1 disables averaging
func (p *PNA) SetAverages(n int) error {
	if n <= 1 {
		p.averages = 1
		return p.Write("SENS1:AVER OFF")
	}
	if err := p.Write(fmt.Sprintf("SENS1:AVER:COUN %d", n)); err != nil {
		return err
	}
	p.averages = n
	return p.Write("SENS1:AVER ON")
}

// Sweep performs a measurement, one sweep per average, and blocks until it
// is complete
func (p *PNA) Sweep(ctx context.Context) error {
	if p.averages > 1 {
		if err := p.Write("SENS1:AVER:CLE"); err != nil {
			return err
		}
		if err := p.Write(fmt.Sprintf("SENS1:SWE:GRO:COUN %d", p.averages)); err != nil {
			return err
		}
		if err := p.Write("SENS1:SWE:MODE GRO"); err != nil {
			return err
		}
	} else if err := p.Write("SENS1:SWE:MODE SING"); err != nil {
		return err
	}
	return p.WaitComplete(ctx)
}

// Frequencies returns the stimulus frequency of each point in Hz
func (p *PNA) Frequencies() ([]float64, error) {
	return p.ReadFloats("SENS1:X?")
}

// RealImag returns the complex S21 of the last sweep
func (p *PNA) RealImag() (re, im []float64, err error) {
	vals, err := p.ReadFloats("CALC1:DATA? SDATA")
	if err != nil {
		return nil, nil, err
	}
	return SplitComplex(vals)
}

// LogMag returns the formatted magnitude of the last sweep in dB
func (p *PNA) LogMag() ([]float64, error) {
	if err := p.Write("CALC1:FORM MLOG"); err != nil {
		return nil, err
	}
	return p.ReadFloats("CALC1:DATA? FDATA")
}

// SplitComplex splits interleaved re,im,re,im... values
func SplitComplex(vals []float64) (re, im []float64, err error) {
	if len(vals)%2 != 0 {
		return nil, nil, errors.Errorf("complex data has odd length %d", len(vals))
	}
	re = make([]float64, len(vals)/2)
	im = make([]float64, len(vals)/2)
	for i := range re {
		re[i] = vals[2*i]
		im[i] = vals[2*i+1]
	}
	return re, im, nil
}
