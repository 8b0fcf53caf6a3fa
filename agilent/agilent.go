// Package agilent provides an interface to agilent test and measurement equipment
package agilent

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tarm/serial"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/scpi"
)

// SerialConfig returns the serial settings of the 33250A's RS-232 port
func SerialConfig(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        57600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 5 * time.Second}
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'G', -1, 64)
}

// FunctionGenerator is an interface to hardware of the same name
type FunctionGenerator struct {
	scpi.SCPI
}

// NewFunctionGenerator creates a new FunctionGenerator instance using pool
// for communication
func NewFunctionGenerator(pool *comm.Pool) *FunctionGenerator {
	return &FunctionGenerator{scpi.SCPI{Pool: pool}}
}

// SetFunction configures the output function used by the generator,
// e.g. SIN, SQU, PULS, USER
func (f *FunctionGenerator) SetFunction(fcn string) error {
	// FUNC <fcn>
	return f.Write("FUNC", fcn)
}

// GetFunction returns the current function type used by the generator
func (f *FunctionGenerator) GetFunction() (string, error) {
	// FUNC?
	return f.ReadString("FUNC?")
}

// SetFrequency configures the output frequency of the generator in Hz
func (f *FunctionGenerator) SetFrequency(hz float64) error {
	// FREQ <Hz>
	return f.Write("FREQ", fmtFloat(hz))
}

// GetFrequency returns the frequency of the generator in Hz
func (f *FunctionGenerator) GetFrequency() (float64, error) {
	// FREQ?
	return f.ReadFloat("FREQ?")
}

// SetVoltage configures the output voltage (Vpp) of the signal
func (f *FunctionGenerator) SetVoltage(volts float64) error {
	// VOLT <volts Vpp>; UNIT VPP
	return f.Write("VOLT", fmtFloat(volts), "VPP")
}

// GetVoltage returns the current output votlage of the generator
func (f *FunctionGenerator) GetVoltage() (float64, error) {
	// VOLT?
	return f.ReadFloat("VOLT?")
}

// SetOffset configures the output voltage offset
func (f *FunctionGenerator) SetOffset(volts float64) error {
	// VOLT:OFFS <volts>
	return f.Write("VOLT:OFFS", fmtFloat(volts))
}

// GetOffset gets the current voltage offset
func (f *FunctionGenerator) GetOffset() (float64, error) {
	// VOLT:OFFS?
	return f.ReadFloat("VOLT:OFFS?")
}

// SetOutputLoad configures the adjustments inside the generator for the
// impedance of the load circuit.  Use +Inf for high impedance
func (f *FunctionGenerator) SetOutputLoad(ohms float64) error {
	// OUTP:LOAD <ohms>
	if ohms > 1e4 {
		return f.Write("OUTP:LOAD INF")
	}
	return f.Write("OUTP:LOAD", fmtFloat(ohms))
}

// SetOutput enables or disables the output on the front connector of the
// function generator
func (f *FunctionGenerator) SetOutput(on bool) error {
	// OUTP ON|OFF
	if on {
		return f.Write("OUTP ON")
	}
	return f.Write("OUTP OFF")
}

// GetOutput returns True if the generator is currently outputting a signal
func (f *FunctionGenerator) GetOutput() (bool, error) {
	return f.ReadBool("OUTP?")
}

// SetPulseWidth sets the width of pulses in the PULS function, in seconds
func (f *FunctionGenerator) SetPulseWidth(secs float64) error {
	return f.Write("PULS:WIDT", fmtFloat(secs))
}

// SetBurst configures triggered bursts of n cycles, or disables bursts if n < 1
func (f *FunctionGenerator) SetBurst(n int) error {
	if n < 1 {
		return f.Write("BURS:STAT OFF")
	}
	if err := f.Write(fmt.Sprintf("BURS:NCYC %d", n)); err != nil {
		return err
	}
	if err := f.Write("BURS:MODE TRIG"); err != nil {
		return err
	}
	return f.Write("BURS:STAT ON")
}

// Trigger issues a bus trigger
func (f *FunctionGenerator) Trigger() error {
	return f.Write("*TRG")
}
