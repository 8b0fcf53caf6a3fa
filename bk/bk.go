/*
Package bk provides an interface to B&K Precision 4060 series arbitrary
waveform generators.

The 4060 uses the Siglent command set: basic waves are set with
Cn:BSWV <param>,<value> and arbitrary waves are uploaded with Cn:WVDT,
carrying 16 bit little endian samples after the WAVEDATA keyword.
*/
package bk

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/scpi"
	"github.com/qnngroup/qnnlab/util"
)

// waveforms accepted by SetWaveform
var shapes = map[string]bool{
	"SINE": true, "SQUARE": true, "RAMP": true, "PULSE": true,
	"NOISE": true, "ARB": true, "DC": true,
}

// FullScale is the magnitude of the largest arbitrary waveform sample
const FullScale = 32767

// AWG4060 is a 4063/4064/4065 arbitrary waveform generator
type AWG4060 struct {
	scpi.SCPI
}

// NewAWG4060 creates a new generator using pool for communication
func NewAWG4060(pool *comm.Pool) *AWG4060 {
	return &AWG4060{scpi.SCPI{Pool: pool}}
}

func checkChannel(ch int) error {
	if ch != 1 && ch != 2 {
		return errors.Errorf("channel must be 1 or 2, got %d", ch)
	}
	return nil
}

func (a *AWG4060) basicWave(ch int, param string, value string) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return a.Write(fmt.Sprintf("C%d:BSWV %s,%s", ch, param, value))
}

// SetWaveform sets the output shape of a channel, e.g. SINE, PULSE, ARB
func (a *AWG4060) SetWaveform(ch int, shape string) error {
	shape = strings.ToUpper(shape)
	if !shapes[shape] {
		return errors.Errorf("unknown waveform %q", shape)
	}
	return a.basicWave(ch, "WVTP", shape)
}

// SetFrequency sets the frequency of a channel in Hz
func (a *AWG4060) SetFrequency(ch int, hz float64) error {
	return a.basicWave(ch, "FRQ", fmt.Sprintf("%g", hz))
}

// SetAmplitude sets the amplitude of a channel in Vpp
func (a *AWG4060) SetAmplitude(ch int, vpp float64) error {
	return a.basicWave(ch, "AMP", fmt.Sprintf("%g", vpp))
}

// SetOffset sets the DC offset of a channel in volts
func (a *AWG4060) SetOffset(ch int, volts float64) error {
	return a.basicWave(ch, "OFST", fmt.Sprintf("%g", volts))
}

// SetOutput turns a channel's output on or off
func (a *AWG4060) SetOutput(ch int, on bool) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	state := "OFF"
	if on {
		state = "ON"
	}
	return a.Write(fmt.Sprintf("C%d:OUTP %s", ch, state))
}

// GetWaveform returns the raw BSWV? reply for a channel
func (a *AWG4060) GetWaveform(ch int) (string, error) {
	if err := checkChannel(ch); err != nil {
		return "", err
	}
	return a.ReadString(fmt.Sprintf("C%d:BSWV?", ch))
}

// EncodeSamples scales samples so the largest magnitude is FullScale and
// packs them as little endian int16.  An all zero waveform stays zero
func EncodeSamples(samples []float64) []byte {
	peak := 0.
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s))
	}
	out := make([]byte, 2*len(samples))
	if peak == 0 {
		return out
	}
	for i, s := range samples {
		v := int16(math.Round(util.Clamp(s/peak, -1, 1) * FullScale))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// UploadArbitrary stores samples as a user waveform called name, sent on
// channel ch
func (a *AWG4060) UploadArbitrary(ch int, name string, samples []float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if len(samples) < 2 {
		return errors.Errorf("arbitrary waveform needs at least 2 samples, got %d", len(samples))
	}
	if name == "" || strings.ContainsAny(name, ", ") {
		return errors.Errorf("invalid waveform name %q", name)
	}
	hdr := fmt.Sprintf("C%d:WVDT WVNM,%s,WAVEDATA,", ch, name)
	return a.WriteBytes(append([]byte(hdr), EncodeSamples(samples)...))
}

// SelectArbitrary makes the user waveform called name the output of channel ch
func (a *AWG4060) SelectArbitrary(ch int, name string) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := a.SetWaveform(ch, "ARB"); err != nil {
		return err
	}
	return a.Write(fmt.Sprintf("C%d:ARWV NAME,%s", ch, name))
}

// SetPulseWidth sets the width of pulses on a channel in the PULSE shape
func (a *AWG4060) SetPulseWidth(ch int, secs float64) error {
	return a.basicWave(ch, "WIDTH", fmt.Sprintf("%g", secs))
}
