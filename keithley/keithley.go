/*
Package keithley provides interfaces to Keithley source-meters and multimeters.

Both instruments speak SCPI over GPIB, usually through a Prologix adapter.
The 2400 is used as a voltage source in series with a bias resistor, and
often doubles as the voltmeter across the device under test.
*/
package keithley

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/scpi"
)

var (
	voltageRanges = []float64{0.2, 2, 20, 200}
	currentRanges = []float64{1e-6, 10e-6, 100e-6, 1e-3, 10e-3, 100e-3, 1}
)

// SuitableRange returns the smallest range which can hold value.  The largest
// range is returned if none can
func SuitableRange(ranges []float64, value float64) float64 {
	value = math.Abs(value)
	for _, r := range ranges {
		if value <= r {
			return r
		}
	}
	return ranges[len(ranges)-1]
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// SMU2400 is a Keithley 2400 series source-meter
type SMU2400 struct {
	scpi.SCPI
}

// NewSMU2400 creates a new source-meter using pool for communication
func NewSMU2400(pool *comm.Pool) *SMU2400 {
	return &SMU2400{scpi.SCPI{Pool: pool}}
}

// Reset returns the instrument to its power on state and selects
// voltage and current as the elements returned by :READ?
func (k *SMU2400) Reset() error {
	if err := k.Write("*RST"); err != nil {
		return err
	}
	return k.Write(":FORM:ELEM VOLT,CURR")
}

// SourceVoltageMode configures the output as a fixed voltage source
// measuring current
func (k *SMU2400) SourceVoltageMode() error {
	for _, cmd := range []string{
		":SOUR:FUNC VOLT",
		":SOUR:VOLT:MODE FIX",
		":SENS:FUNC \"CURR\"",
		":SENS:CURR:RANG:AUTO ON",
	} {
		if err := k.Write(cmd); err != nil {
			return errors.Wrap(err, "voltage source mode")
		}
	}
	return nil
}

// SourceCurrentMode configures the output as a fixed current source
// measuring voltage
func (k *SMU2400) SourceCurrentMode() error {
	for _, cmd := range []string{
		":SOUR:FUNC CURR",
		":SOUR:CURR:MODE FIX",
		":SENS:FUNC \"VOLT\"",
		":SENS:VOLT:RANG:AUTO ON",
	} {
		if err := k.Write(cmd); err != nil {
			return errors.Wrap(err, "current source mode")
		}
	}
	return nil
}

// SetVoltage sets the source voltage level
func (k *SMU2400) SetVoltage(volts float64) error {
	return k.Write(fmt.Sprintf(":SOUR:VOLT:LEV %E", volts))
}

// GetVoltage returns the source voltage level
func (k *SMU2400) GetVoltage() (float64, error) {
	return k.ReadFloat(":SOUR:VOLT:LEV?")
}

// SetCurrent sets the source current level
func (k *SMU2400) SetCurrent(amps float64) error {
	return k.Write(fmt.Sprintf(":SOUR:CURR:LEV %E", amps))
}

// GetCurrent returns the source current level
func (k *SMU2400) GetCurrent() (float64, error) {
	return k.ReadFloat(":SOUR:CURR:LEV?")
}

// SetComplianceCurrent limits the current while sourcing voltage
func (k *SMU2400) SetComplianceCurrent(amps float64) error {
	return k.Write(fmt.Sprintf(":SENS:CURR:PROT %E", amps))
}

// SetComplianceVoltage limits the voltage while sourcing current
func (k *SMU2400) SetComplianceVoltage(volts float64) error {
	return k.Write(fmt.Sprintf(":SENS:VOLT:PROT %E", volts))
}

// InCompliance returns true if the current limit has been reached
func (k *SMU2400) InCompliance() (bool, error) {
	return k.ReadBool(":SENS:CURR:PROT:TRIP?")
}

// SetVoltageRange fixes the source voltage range to the smallest which
// holds volts.  A value of zero enables autoranging
func (k *SMU2400) SetVoltageRange(volts float64) error {
	if volts == 0 {
		return k.Write(":SOUR:VOLT:RANG:AUTO ON")
	}
	return k.Write(fmt.Sprintf(":SOUR:VOLT:RANG %g", SuitableRange(voltageRanges, volts)))
}

// SetCurrentRange fixes the current measurement range to the smallest which
// holds amps.  A value of zero enables autoranging
func (k *SMU2400) SetCurrentRange(amps float64) error {
	if amps == 0 {
		return k.Write(":SENS:CURR:RANG:AUTO ON")
	}
	return k.Write(fmt.Sprintf(":SENS:CURR:RANG %g", SuitableRange(currentRanges, amps)))
}

// SetNPLC sets the integration time in power line cycles, 0.01 to 10
func (k *SMU2400) SetNPLC(nplc float64) error {
	if nplc < 0.01 || nplc > 10 {
		return errors.Errorf("NPLC %g out of range 0.01-10", nplc)
	}
	return k.Write(fmt.Sprintf(":SENS:CURR:NPLC %g", nplc))
}

// SetOutput turns the output on or off
func (k *SMU2400) SetOutput(on bool) error {
	return k.Write(":OUTP " + onOff(on))
}

// GetOutput returns true if the output is on
func (k *SMU2400) GetOutput() (bool, error) {
	return k.ReadBool(":OUTP?")
}

// Read triggers a measurement and returns the voltage and current
func (k *SMU2400) Read() (volts, amps float64, err error) {
	resp, err := k.ReadString(":READ?")
	if err != nil {
		return 0, 0, errors.Wrap(err, "data read fail")
	}
	pieces := strings.Split(resp, ",")
	if len(pieces) < 2 {
		return 0, 0, errors.Errorf("expected voltage and current from :READ?, got %q", resp)
	}
	volts, err = strconv.ParseFloat(pieces[0], 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "conversion for voltage value failed")
	}
	amps, err = strconv.ParseFloat(pieces[1], 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "conversion for current value failed")
	}
	return volts, amps, nil
}

// ReadVoltage triggers a measurement and returns the voltage
func (k *SMU2400) ReadVoltage() (float64, error) {
	v, _, err := k.Read()
	return v, err
}

// ReadCurrent triggers a measurement and returns the current
func (k *SMU2400) ReadCurrent() (float64, error) {
	_, i, err := k.Read()
	return i, err
}

// DMM2700 is a Keithley 2700 multimeter / data acquisition system
type DMM2700 struct {
	scpi.SCPI
}

// NewDMM2700 creates a new multimeter using pool for communication
func NewDMM2700(pool *comm.Pool) *DMM2700 {
	return &DMM2700{scpi.SCPI{Pool: pool}}
}

// Reset returns the meter to its power on state, reporting readings only
func (d *DMM2700) Reset() error {
	if err := d.Write("*RST"); err != nil {
		return err
	}
	return d.Write(":FORM:ELEM READ")
}

// SetNPLC sets the DC voltage integration time in power line cycles
func (d *DMM2700) SetNPLC(nplc float64) error {
	return d.Write(fmt.Sprintf(":SENS:VOLT:DC:NPLC %g", nplc))
}

// SetAutoRange turns DC voltage autoranging on or off
func (d *DMM2700) SetAutoRange(on bool) error {
	return d.Write(":SENS:VOLT:DC:RANG:AUTO " + onOff(on))
}

// ReadVoltage measures the DC voltage
func (d *DMM2700) ReadVoltage() (float64, error) {
	resp, err := d.ReadString("MEAS:VOLT:DC?")
	if err != nil {
		return 0, err
	}
	return ParseReading(resp)
}

// ParseReading parses the first element of a 2700 reading, which may carry
// a unit suffix such as +1.2345E-03VDC
func ParseReading(s string) (float64, error) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(strings.TrimSpace(s), "ABCDFGHIJKLMNOPQRSTUVWXYZ")
	return strconv.ParseFloat(s, 64)
}
