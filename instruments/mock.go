package instruments

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/mathx"
	"github.com/qnngroup/qnnlab/oscilloscope"
	"github.com/qnngroup/qnnlab/scpi"
	"github.com/qnngroup/qnnlab/temperature"
	"github.com/qnngroup/qnnlab/util"
)

var mockIdentity = scpi.Identity{Manufacturer: "QNN", Model: "SIMULATED", Serial: "0", Firmware: "1"}

// Nanowire simulates a superconducting nanowire single photon detector
// biased through a series resistor.  The source, meter, counter and
// attenuator of a MockBench all act on one Nanowire
type Nanowire struct {
	mu sync.Mutex

	// R is the bias resistor and Rn the normal state resistance, ohms
	R, Rn float64

	// Isw is the switching current, amps
	Isw float64

	// MaxRate is the count rate with the detector saturated and DarkRate
	// the rate with the light blocked, counts per second
	MaxRate, DarkRate float64

	// PulseHeight is the amplitude of output pulses, volts
	PulseHeight float64

	volts  float64
	output bool
	atten  float64
	light  bool
	level  float64
	gate   time.Duration
}

// NewNanowire returns a detector with typical parameters
func NewNanowire() *Nanowire {
	return &Nanowire{
		R:           100e3,
		Rn:          1e6,
		Isw:         8e-6,
		MaxRate:     1e5,
		DarkRate:    10,
		PulseHeight: 0.3,
		light:       true,
		gate:        time.Second,
	}
}

// current is the bias current.  Locked by the caller
func (n *Nanowire) current() float64 {
	if !n.output {
		return 0
	}
	return n.volts / n.R
}

// deviceVoltage is the voltage across the wire.  Zero while superconducting,
// a resistive divider once switched
func (n *Nanowire) deviceVoltage() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i := n.current(); math.Abs(i) < n.Isw {
		return 0
	}
	return n.volts * n.Rn / (n.R + n.Rn)
}

// rate is the expected count rate at the present bias and trigger level
func (n *Nanowire) rate() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	i := math.Abs(n.current())
	if i >= n.Isw || i == 0 {
		return 0
	}
	// detection efficiency rises sigmoidally to a plateau near Isw
	eff := 1 / (1 + math.Exp(-(i-0.7*n.Isw)/(0.05*n.Isw)))
	r := n.DarkRate * i / n.Isw
	if n.light {
		r += n.MaxRate * eff * math.Pow(10, -n.atten/10)
	}
	// pulses below the trigger level count, those above it do not
	return r / (1 + math.Exp((n.level-n.PulseHeight)/0.01))
}

// MockSource is the bias source of a Nanowire
type MockSource struct{ *Nanowire }

func (m MockSource) SetVoltage(volts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volts = volts
	return nil
}

func (m MockSource) GetVoltage() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volts, nil
}

func (m MockSource) SetOutput(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.output = on
	return nil
}

func (m MockSource) GetOutput() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output, nil
}

func (m MockSource) Identify() (scpi.Identity, error) { return mockIdentity, nil }

// MockMeter reads the voltage across a Nanowire
type MockMeter struct{ *Nanowire }

func (m MockMeter) ReadVoltage() (float64, error) { return m.deviceVoltage(), nil }

func (m MockMeter) Identify() (scpi.Identity, error) { return mockIdentity, nil }

// MockCounter counts a Nanowire's output pulses
type MockCounter struct{ *Nanowire }

func (m MockCounter) SetupTotalize(gate time.Duration) error {
	if gate <= 0 {
		return errors.New("gate time must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
	return nil
}

func (m MockCounter) SetTriggerLevel(volts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = volts
	return nil
}

func (m MockCounter) GetTriggerLevel() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level, nil
}

// Counts returns the expected number of counts in one gate, rounded
func (m MockCounter) Counts(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r := m.rate()
	m.mu.Lock()
	defer m.mu.Unlock()
	return math.Round(r * m.gate.Seconds()), nil
}

func (m MockCounter) Identify() (scpi.Identity, error) { return mockIdentity, nil }

// MockAttenuator sets the light reaching a Nanowire
type MockAttenuator struct{ *Nanowire }

func (m MockAttenuator) SetAttenuation(dB float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.atten = dB
	return nil
}

func (m MockAttenuator) GetAttenuation() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atten, nil
}

func (m MockAttenuator) SetEnabled(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.light = on
	return nil
}

func (m MockAttenuator) GetEnabled() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.light, nil
}

func (m MockAttenuator) Identify() (scpi.Identity, error) { return mockIdentity, nil }

// MockScope returns decaying pulses, one per single acquisition
type MockScope struct {
	mu     sync.Mutex
	mode   string
	source string
	level  float64

	// Points is the record length
	Points int

	// DT is the sample interval, seconds
	DT float64

	// Amplitude and Tau shape the pulse, volts and seconds
	Amplitude, Tau float64
}

// NewMockScope returns a scope recording 2000 points at 20 GS/s
func NewMockScope() *MockScope {
	return &MockScope{mode: "Stopped", Points: 2000, DT: 50e-12, Amplitude: 0.3, Tau: 10e-9}
}

func (m *MockScope) SetTriggerMode(mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	return nil
}

func (m *MockScope) GetTriggerMode() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode, nil
}

func (m *MockScope) SetTriggerSource(channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = channel
	return nil
}

func (m *MockScope) SetTriggerLevel(channel string, volts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = volts
	return nil
}

// WaitForTrigger completes a single acquisition immediately
func (m *MockScope) WaitForTrigger(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.level > m.Amplitude {
		return errors.New("trigger level above pulse height, scope will never trigger")
	}
	m.mode = "Stopped"
	return nil
}

// Waveform returns a pulse triggered 10% into the record
func (m *MockScope) Waveform(channel string) (oscilloscope.Waveform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const scale = 1e-5
	t0 := -float64(m.Points) * m.DT / 10
	data := make([]int16, m.Points)
	for i := range data {
		t := t0 + float64(i)*m.DT
		if t >= 0 {
			data[i] = int16(m.Amplitude * math.Exp(-t/m.Tau) / scale)
		}
	}
	return oscilloscope.Waveform{
		DT: m.DT,
		T0: t0,
		Channels: map[string]oscilloscope.Channel{
			channel: {Data: data, Scale: scale},
		},
	}, nil
}

// Screenshot draws the trigger level as a one pixel high bar
func (m *MockScope) Screenshot(w io.Writer) error {
	m.mu.Lock()
	frac := util.Clamp(m.level/m.Amplitude, 0, 1)
	m.mu.Unlock()
	img := image.NewGray(image.Rect(0, 0, 64, 1))
	for x := 0; x < 64; x++ {
		img.SetGray(x, 0, color.Gray{Y: uint8(255 * frac)})
	}
	return png.Encode(w, img)
}

func (m *MockScope) Identify() (scpi.Identity, error) { return mockIdentity, nil }

// MockAWG records the settings of a two channel generator
type MockAWG struct {
	mu       sync.Mutex
	Settings map[int]map[string]float64
	Shapes   map[int]string
	Outputs  map[int]bool
}

// NewMockAWG returns an idle generator
func NewMockAWG() *MockAWG {
	return &MockAWG{Settings: map[int]map[string]float64{}, Shapes: map[int]string{}, Outputs: map[int]bool{}}
}

func (m *MockAWG) set(ch int, key string, v float64) error {
	if ch != 1 && ch != 2 {
		return errors.Errorf("channel must be 1 or 2, got %d", ch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Settings[ch] == nil {
		m.Settings[ch] = map[string]float64{}
	}
	m.Settings[ch][key] = v
	return nil
}

func (m *MockAWG) SetWaveform(ch int, shape string) error {
	if err := m.set(ch, "shape", 0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Shapes[ch] = strings.ToUpper(shape)
	return nil
}

func (m *MockAWG) SetFrequency(ch int, hz float64) error    { return m.set(ch, "frequency", hz) }
func (m *MockAWG) SetAmplitude(ch int, vpp float64) error   { return m.set(ch, "amplitude", vpp) }
func (m *MockAWG) SetOffset(ch int, volts float64) error    { return m.set(ch, "offset", volts) }
func (m *MockAWG) SetPulseWidth(ch int, secs float64) error { return m.set(ch, "width", secs) }

func (m *MockAWG) SetOutput(ch int, on bool) error {
	if err := m.set(ch, "output", 0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outputs[ch] = on
	return nil
}

func (m *MockAWG) Identify() (scpi.Identity, error) { return mockIdentity, nil }

// MockVNA measures a notch type resonator,
// S21 = 1 - (Q/Qc) / (1 + 2jQ(f-f0)/f0)
type MockVNA struct {
	mu          sync.Mutex
	start, stop float64
	points      int
	power       float64

	// F0 is the resonance frequency, Q the loaded and Qc the coupling quality factor
	F0, Q, Qc float64
}

// NewMockVNA returns an analyzer measuring a 6 GHz resonator
func NewMockVNA() *MockVNA {
	return &MockVNA{start: 4e9, stop: 8e9, points: 201, F0: 6e9, Q: 2e4, Qc: 4e4}
}

func (m *MockVNA) ConfigureS21() error { return nil }

func (m *MockVNA) SetStartFrequency(hz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = hz
	return nil
}

func (m *MockVNA) SetStopFrequency(hz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stop = hz
	return nil
}

func (m *MockVNA) SetPoints(n int) error {
	if n < 1 {
		return errors.Errorf("points must be positive, got %d", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = n
	return nil
}

func (m *MockVNA) SetIFBandwidth(hz float64) error { return nil }

func (m *MockVNA) SetPower(dBm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.power = dBm
	return nil
}

func (m *MockVNA) SetOutput(on bool) error          { return nil }
func (m *MockVNA) SetAverages(n int) error          { return nil }
func (m *MockVNA) Identify() (scpi.Identity, error) { return mockIdentity, nil }

func (m *MockVNA) Sweep(ctx context.Context) error { return ctx.Err() }

func (m *MockVNA) Frequencies() ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mathx.Linspace(m.start, m.stop, m.points), nil
}

func (m *MockVNA) RealImag() (re, im []float64, err error) {
	f, _ := m.Frequencies()
	m.mu.Lock()
	defer m.mu.Unlock()
	// kinetic inductance pulls the resonance down slightly at high power
	f0 := m.F0 * (1 - 1e-6*mathx.FromDB10(m.power+30))
	re, im = make([]float64, len(f)), make([]float64, len(f))
	for i, fi := range f {
		s := 1 - complex(m.Q/m.Qc, 0)/complex(1, 2*m.Q*(fi-f0)/f0)
		re[i], im[i] = real(s), imag(s)
	}
	return re, im, nil
}

// MockThermometer reads a fixed temperature on every channel
type MockThermometer struct {
	Kelvin temperature.Kelvin
}

func (m MockThermometer) ReadKelvin(ch string) (temperature.Kelvin, error) {
	if ch == "" {
		return 0, errors.New("no channel given")
	}
	return m.Kelvin, nil
}

func (m MockThermometer) Identify() (scpi.Identity, error) { return mockIdentity, nil }

// MockBench is a full set of simulated instruments
type MockBench struct {
	Wire        *Nanowire
	Scope       *MockScope
	AWG         *MockAWG
	VNA         *MockVNA
	Thermometer MockThermometer
}

// NewMockBench returns a bench around a typical nanowire
func NewMockBench() *MockBench {
	return &MockBench{
		Wire:        NewNanowire(),
		Scope:       NewMockScope(),
		AWG:         NewMockAWG(),
		VNA:         NewMockVNA(),
		Thermometer: MockThermometer{Kelvin: 2.5},
	}
}

// Role returns the simulated instrument for role
func (b *MockBench) Role(role string) interface{} {
	switch role {
	case config.RoleSource:
		return MockSource{b.Wire}
	case config.RoleMeter:
		return MockMeter{b.Wire}
	case config.RoleCounter:
		return MockCounter{b.Wire}
	case config.RoleAttenuator:
		return MockAttenuator{b.Wire}
	case config.RoleScope:
		return b.Scope
	case config.RoleAWG:
		return b.AWG
	case config.RoleVNA:
		return b.VNA
	case config.RoleTemperature:
		return b.Thermometer
	}
	return nil
}

// Set returns a Set with every role filled from the bench
func (b *MockBench) Set() *Set {
	s := NewSet()
	for _, r := range config.Roles {
		s.Add(r, b.Role(r))
	}
	return s
}
