/*
Package srs provides an interface to Stanford Research Systems SIM modules
housed in a SIM900 mainframe.

The mainframe owns the GPIB/serial connection.  A module is spoken to by
opening a pass-through with CONN <slot>,"<escape>", sending it commands, and
sending the escape string to return to the mainframe.  All three happen
within one pool lease so another caller cannot interleave.
*/
package srs

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/scpi"
)

const escape = "xyz"

// SIM900 is a SIM900 mainframe
type SIM900 struct {
	pool *comm.Pool
}

// NewSIM900 creates a new mainframe using pool for communication
func NewSIM900(pool *comm.Pool) *SIM900 {
	return &SIM900{pool: pool}
}

// Do sends cmd to the module in slot, returning the reply if query is true
func (m *SIM900) Do(slot int, cmd string, query bool) (resp string, err error) {
	if slot < 1 || slot > 8 {
		return "", errors.Errorf("SIM900 slot %d out of range 1-8", slot)
	}
	conn, err := m.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { m.pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, scpi.DefaultTimeout)
	if err != nil {
		return "", err
	}
	rw := comm.NewTerminator(wrap, '\n', '\n')
	if _, err = fmt.Fprintf(rw, "CONN %d,\"%s\"\n", slot, escape); err != nil {
		return "", err
	}
	if _, err = io.WriteString(rw, cmd); err != nil {
		return "", err
	}
	if query {
		var line []byte
		line, err = rw.ReadLine()
		if err != nil {
			return "", err
		}
		resp = string(line)
	}
	_, err = io.WriteString(rw, escape)
	return resp, err
}

// Module returns the SIM928 in slot
func (m *SIM900) Module(slot int) *SIM928 {
	return &SIM928{Mainframe: m, Slot: slot}
}

// Identify returns the mainframe's identity
func (m *SIM900) Identify() (scpi.Identity, error) {
	conn, err := m.pool.Get()
	if err != nil {
		return scpi.Identity{}, err
	}
	defer func() { m.pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, scpi.DefaultTimeout)
	if err != nil {
		return scpi.Identity{}, err
	}
	var resp []byte
	resp, err = comm.NewTerminator(wrap, '\n', '\n').Query([]byte("*IDN?"))
	if err != nil {
		return scpi.Identity{}, err
	}
	return scpi.ParseIdentity(string(resp)), nil
}

// SIM928 is an isolated voltage source module
type SIM928 struct {
	Mainframe *SIM900
	Slot      int
}

// MaxVoltage is the largest magnitude the SIM928 can output
const MaxVoltage = 20.

// SetVoltage sets the output voltage with 1 mV resolution
func (s *SIM928) SetVoltage(volts float64) error {
	if math.Abs(volts) > MaxVoltage {
		return errors.Errorf("SIM928 voltage %g exceeds %g V", volts, MaxVoltage)
	}
	_, err := s.Mainframe.Do(s.Slot, fmt.Sprintf("VOLT %0.3f", volts), false)
	return err
}

// GetVoltage returns the output voltage setpoint
func (s *SIM928) GetVoltage() (float64, error) {
	resp, err := s.Mainframe.Do(s.Slot, "VOLT?", true)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// SetOutput turns the output on or off
func (s *SIM928) SetOutput(on bool) error {
	cmd := "OPOF"
	if on {
		cmd = "OPON"
	}
	_, err := s.Mainframe.Do(s.Slot, cmd, false)
	return err
}

// GetOutput returns true if the output is on
func (s *SIM928) GetOutput() (bool, error) {
	resp, err := s.Mainframe.Do(s.Slot, "EXON?", true)
	if err != nil {
		return false, err
	}
	return scpi.ParseBool(resp)
}

// Reset returns the module to its default state
func (s *SIM928) Reset() error {
	_, err := s.Mainframe.Do(s.Slot, "*RST", false)
	return err
}

// Identify returns the module's identity
func (s *SIM928) Identify() (scpi.Identity, error) {
	resp, err := s.Mainframe.Do(s.Slot, "*IDN?", true)
	if err != nil {
		return scpi.Identity{}, err
	}
	return scpi.ParseIdentity(resp), nil
}
