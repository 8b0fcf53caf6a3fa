package instruments

import (
	"context"
	"io"
	"time"

	"github.com/qnngroup/qnnlab/oscilloscope"
	"github.com/qnngroup/qnnlab/scpi"
	"github.com/qnngroup/qnnlab/temperature"
)

// Identifier is an instrument that answers *IDN?
type Identifier interface {
	Identify() (scpi.Identity, error)
}

// VoltageSource biases a device
type VoltageSource interface {
	SetVoltage(volts float64) error
	GetVoltage() (float64, error)
	SetOutput(on bool) error
	GetOutput() (bool, error)
}

// VoltMeter measures a DC voltage
type VoltMeter interface {
	ReadVoltage() (float64, error)
}

// PhotonCounter totalizes pulses over a gate time
type PhotonCounter interface {
	SetupTotalize(gate time.Duration) error
	SetTriggerLevel(volts float64) error
	GetTriggerLevel() (float64, error)
	Counts(ctx context.Context) (float64, error)
}

// Attenuator is a variable optical attenuator with a shutter
type Attenuator interface {
	SetAttenuation(dB float64) error
	GetAttenuation() (float64, error)
	SetEnabled(on bool) error
	GetEnabled() (bool, error)
}

// Oscilloscope captures single shot waveforms
type Oscilloscope interface {
	SetTriggerMode(mode string) error
	GetTriggerMode() (string, error)
	SetTriggerSource(channel string) error
	SetTriggerLevel(channel string, volts float64) error
	WaitForTrigger(ctx context.Context) error
	Waveform(channel string) (oscilloscope.Waveform, error)
}

// WaveformGenerator is a multi channel function generator
type WaveformGenerator interface {
	SetWaveform(ch int, shape string) error
	SetFrequency(ch int, hz float64) error
	SetAmplitude(ch int, vpp float64) error
	SetOffset(ch int, volts float64) error
	SetOutput(ch int, on bool) error
}

// Configurer sets up the communication format a driver decodes replies in.
// Open calls it once the instrument has identified itself
type Configurer interface {
	Configure() error
}

// Screenshotter writes an image of the instrument's screen
type Screenshotter interface {
	Screenshot(w io.Writer) error
}

// NetworkAnalyzer measures S21 over a frequency sweep
type NetworkAnalyzer interface {
	ConfigureS21() error
	SetStartFrequency(hz float64) error
	SetStopFrequency(hz float64) error
	SetPoints(n int) error
	SetIFBandwidth(hz float64) error
	SetPower(dBm float64) error
	SetOutput(on bool) error
	SetAverages(n int) error
	Sweep(ctx context.Context) error
	Frequencies() ([]float64, error)
	RealImag() (re, im []float64, err error)
}

// Thermometer reads temperature sensors
type Thermometer interface {
	ReadKelvin(ch string) (temperature.Kelvin, error)
}
