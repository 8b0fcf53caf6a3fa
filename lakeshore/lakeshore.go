/*
Package lakeshore provides tools for working with Lakeshore 336 and 372
temperature controllers.

The controllers speak a SCPI-like dialect over serial, GPIB or ethernet.
The serial interface runs 7 data bits, odd parity, one stop bit and accepts
fewer than 20 commands per second, so connections should be rate limited
with comm.RateLimitedMaker.
*/
package lakeshore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/scpi"
	"github.com/qnngroup/qnnlab/temperature"
	"github.com/qnngroup/qnnlab/util"
)

// CommandsPerSecond is the fastest rate the controllers accept commands
const CommandsPerSecond = 19

// heater status codes returned by HTRST?
var heaterStatus = map[int]string{
	0: "OK",
	1: "OPEN",
	2: "SHORT",
}

// SerialConfig returns the serial settings for a controller on addr
func SerialConfig(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        57600,
		Size:        7,
		Parity:      serial.ParityOdd,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// ReadingStatus decodes the bitfield returned by RDGST?
type ReadingStatus struct {
	InvalidReading  bool
	TempUnderRange  bool
	TempOverRange   bool
	SensorZero      bool
	SensorOverRange bool
}

// OK is true if no status bit is set
func (r ReadingStatus) OK() bool {
	return r == ReadingStatus{}
}

// ParseReadingStatus decodes an RDGST? value
func ParseReadingStatus(code int) ReadingStatus {
	b := byte(code)
	return ReadingStatus{
		InvalidReading:  util.GetBit(b, 0),
		TempUnderRange:  util.GetBit(b, 4),
		TempOverRange:   util.GetBit(b, 5),
		SensorZero:      util.GetBit(b, 6),
		SensorOverRange: util.GetBit(b, 7),
	}
}

// PID holds a control loop's gains
type PID struct {
	P, I, D float64
}

// Controller is a 336 or 372 temperature controller
type Controller struct {
	scpi.SCPI
}

// NewController returns a new Controller using pool for communication
func NewController(pool *comm.Pool) *Controller {
	return &Controller{scpi.SCPI{Pool: pool}}
}

// Identification returns the *IDN? response
func (c *Controller) Identification() (scpi.Identity, error) {
	return c.Identify()
}

// ReadKelvin reads the temperature of input ch (A, B, C, D or a 372 channel number)
func (c *Controller) ReadKelvin(ch string) (temperature.Kelvin, error) {
	f, err := c.ReadFloat("KRDG? " + ch)
	return temperature.Kelvin(f), err
}

// ReadCelsius reads the temperature of input ch in Celsius
func (c *Controller) ReadCelsius(ch string) (temperature.Celsius, error) {
	f, err := c.ReadFloat("CRDG? " + ch)
	return temperature.Celsius(f), err
}

// ReadSensor reads the raw sensor value of input ch, in ohms or volts
func (c *Controller) ReadSensor(ch string) (float64, error) {
	return c.ReadFloat("SRDG? " + ch)
}

// ReadingStatus reads the status of input ch
func (c *Controller) ReadingStatus(ch string) (ReadingStatus, error) {
	code, err := c.ReadInt("RDGST? " + ch)
	if err != nil {
		return ReadingStatus{}, err
	}
	return ParseReadingStatus(code), nil
}

// HeaterOutput reads the output of heater loop in %
func (c *Controller) HeaterOutput(loop int) (float64, error) {
	return c.ReadFloat(fmt.Sprintf("HTR? %d", loop))
}

// HeaterStatus reads the heater status, one of OK, OPEN or SHORT
func (c *Controller) HeaterStatus(loop int) (string, error) {
	code, err := c.ReadInt(fmt.Sprintf("HTRST? %d", loop))
	if err != nil {
		return "", err
	}
	if s, ok := heaterStatus[code]; ok {
		return s, nil
	}
	return "", errors.Errorf("unknown heater status %d", code)
}

// Setpoint reads the control setpoint of loop
func (c *Controller) Setpoint(loop int) (float64, error) {
	return c.ReadFloat(fmt.Sprintf("SETP? %d", loop))
}

// SetSetpoint sets the control setpoint of loop, in the loop's units
func (c *Controller) SetSetpoint(loop int, value float64) error {
	return c.Write(fmt.Sprintf("SETP %d,%g", loop, value))
}

// PID reads the PID constants of loop:
// P - linear / proportional term
// I - integral term
// D - derivative term
func (c *Controller) PID(loop int) (PID, error) {
	resp, err := c.ReadString(fmt.Sprintf("PID? %d", loop))
	if err != nil {
		return PID{}, err
	}
	pieces := strings.Split(resp, ",")
	if len(pieces) != 3 {
		return PID{}, errors.Errorf("PID? returned %d values, expected 3", len(pieces))
	}
	var numeric [3]float64
	for i, v := range pieces {
		numeric[i], err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return PID{}, errors.Wrap(err, "parsing PID")
		}
	}
	return PID{numeric[0], numeric[1], numeric[2]}, nil
}

// SetPID sets the PID constants of loop
func (c *Controller) SetPID(loop int, pid PID) error {
	return c.Write(fmt.Sprintf("PID %d,%g,%g,%g", loop, pid.P, pid.I, pid.D))
}
