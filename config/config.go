/*
Package config loads the YAML files describing a measurement setup.

A file names the instrument filling each role of the setup and the
parameters of each recipe:

	Save File:
	  Sample name: W12
	  Device name: D3
	Path: data
	Source:
	  name: SIM928
	  port: GPIB0::2
	  port_alt: 1
	  gpib_adapter: 192.168.1.20
	Meter:
	  name: Keithley2700
	  port: GPIB0::16
	IV Curve:
	  Start: 0
	  Stop: 1
	  Steps: 201

Keys are case sensitive.  Sections absent from the file keep their
defaults, and absent instrument roles are left nil.
*/
package config

import (
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	yml "gopkg.in/yaml.v2"

	"github.com/qnngroup/qnnlab/util"
)

// DefaultFile is the config file read when none is given
const DefaultFile = "qnnlab.yml"

// roles, in the order instruments are opened
const (
	RoleSource      = "Source"
	RoleMeter       = "Meter"
	RoleCounter     = "Counter"
	RoleAttenuator  = "Attenuator"
	RoleScope       = "Scope"
	RoleAWG         = "AWG"
	RoleVNA         = "VNA"
	RoleTemperature = "Temperature"
)

// Roles lists every role in opening order
var Roles = []string{RoleSource, RoleMeter, RoleCounter, RoleAttenuator, RoleScope, RoleAWG, RoleVNA, RoleTemperature}

// Instrument describes the instrument filling one role
type Instrument struct {
	// Name is the driver type, e.g. Keithley2400 or SIM928
	Name string `koanf:"name" yaml:"name"`

	// Port is the VISA style resource string, e.g. GPIB0::5::INSTR
	Port string `koanf:"port" yaml:"port"`

	// PortAlt is the SIM900 slot for SIM modules
	PortAlt int `koanf:"port_alt" yaml:"port_alt,omitempty"`

	// GPIBAdapter is the address of the Prologix controller GPIB ports go through
	GPIBAdapter string `koanf:"gpib_adapter" yaml:"gpib_adapter,omitempty"`

	// Timeout is the I/O timeout in seconds, 0 for the driver's default
	Timeout float64 `koanf:"timeout" yaml:"timeout,omitempty"`
}

// TimeoutDuration is Timeout as a Duration
func (i Instrument) TimeoutDuration() time.Duration {
	return util.SecsToDuration(i.Timeout)
}

// IVCurve parameterizes a current-voltage sweep.  Voltages are applied to
// the source through a series resistance R
type IVCurve struct {
	Start         float64 `koanf:"Start" yaml:"Start"`
	Stop          float64 `koanf:"Stop" yaml:"Stop"`
	Steps         int     `koanf:"Steps" yaml:"Steps"`
	ReturnSweep   bool    `koanf:"Return Sweep" yaml:"Return Sweep"`
	Bidirectional bool    `koanf:"Bidirectional" yaml:"Bidirectional"`
	Sweeps        int     `koanf:"Sweeps" yaml:"Sweeps"`
	R             float64 `koanf:"R" yaml:"R"`
	Settle        float64 `koanf:"Settle" yaml:"Settle"`

	// Threshold is the voltage jump between steps taken as switching
	Threshold float64 `koanf:"Threshold" yaml:"Threshold"`
}

// PhotonCounts parameterizes a count rate versus bias sweep
type PhotonCounts struct {
	Start        float64 `koanf:"Start" yaml:"Start"`
	Stop         float64 `koanf:"Stop" yaml:"Stop"`
	Steps        int     `koanf:"Steps" yaml:"Steps"`
	R            float64 `koanf:"R" yaml:"R"`
	Gate         float64 `koanf:"Gate" yaml:"Gate"`
	TriggerLevel float64 `koanf:"Trigger Level" yaml:"Trigger Level"`
	Attenuation  float64 `koanf:"Attenuation" yaml:"Attenuation"`
	Dark         bool    `koanf:"Dark Counts" yaml:"Dark Counts"`
	Settle       float64 `koanf:"Settle" yaml:"Settle"`
}

// TriggerSweep parameterizes a grid of counts over trigger level and bias
type TriggerSweep struct {
	BiasStart  float64 `koanf:"Bias Start" yaml:"Bias Start"`
	BiasStop   float64 `koanf:"Bias Stop" yaml:"Bias Stop"`
	BiasSteps  int     `koanf:"Bias Steps" yaml:"Bias Steps"`
	LevelStart float64 `koanf:"Level Start" yaml:"Level Start"`
	LevelStop  float64 `koanf:"Level Stop" yaml:"Level Stop"`
	LevelSteps int     `koanf:"Level Steps" yaml:"Level Steps"`
	R          float64 `koanf:"R" yaml:"R"`
	Gate       float64 `koanf:"Gate" yaml:"Gate"`
	Settle     float64 `koanf:"Settle" yaml:"Settle"`
}

// S21 parameterizes a resonator transmission measurement, one sweep per power
type S21 struct {
	Start       float64   `koanf:"Start" yaml:"Start"`
	Stop        float64   `koanf:"Stop" yaml:"Stop"`
	Points      int       `koanf:"Points" yaml:"Points"`
	IFBandwidth float64   `koanf:"IF Bandwidth" yaml:"IF Bandwidth"`
	Powers      []float64 `koanf:"Powers" yaml:"Powers"`
	Averages    int       `koanf:"Averages" yaml:"Averages"`
}

// PulseTraces parameterizes repeated single shot scope acquisitions
type PulseTraces struct {
	Bias          float64  `koanf:"Bias" yaml:"Bias"`
	R             float64  `koanf:"R" yaml:"R"`
	Traces        int      `koanf:"Traces" yaml:"Traces"`
	Channels      []string `koanf:"Channels" yaml:"Channels"`
	TriggerSource string   `koanf:"Trigger Source" yaml:"Trigger Source"`
	TriggerLevel  float64  `koanf:"Trigger Level" yaml:"Trigger Level"`
	Settle        float64  `koanf:"Settle" yaml:"Settle"`

	// the AWG, when present, is set up to drive the pulse input
	PulseFrequency float64 `koanf:"Pulse Frequency" yaml:"Pulse Frequency"`
	PulseAmplitude float64 `koanf:"Pulse Amplitude" yaml:"Pulse Amplitude"`
	PulseWidth     float64 `koanf:"Pulse Width" yaml:"Pulse Width"`
}

// TemperatureLog configures the temperature logging daemon
type TemperatureLog struct {
	Channels   []string `koanf:"Channels" yaml:"Channels"`
	Interval   float64  `koanf:"Interval" yaml:"Interval"`
	File       string   `koanf:"File" yaml:"File"`
	FlushEvery int      `koanf:"Flush Every" yaml:"Flush Every"`
	Addr       string   `koanf:"Addr" yaml:"Addr"`

	// History is the number of readings kept in memory for HTTP clients
	History int `koanf:"History" yaml:"History"`
}

// Config is a complete measurement setup
type Config struct {
	SaveFile map[string]string `koanf:"Save File,omitempty" yaml:"Save File,omitempty"`
	User     string            `koanf:"User" yaml:"User"`
	Path     string            `koanf:"Path" yaml:"Path"`

	// Mock substitutes simulated instruments for every role
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Addr is the listen address of the instrument server
	Addr string `koanf:"Addr" yaml:"Addr"`

	Source      *Instrument `koanf:"Source,omitempty" yaml:"Source,omitempty"`
	Meter       *Instrument `koanf:"Meter,omitempty" yaml:"Meter,omitempty"`
	Counter     *Instrument `koanf:"Counter,omitempty" yaml:"Counter,omitempty"`
	Attenuator  *Instrument `koanf:"Attenuator,omitempty" yaml:"Attenuator,omitempty"`
	Scope       *Instrument `koanf:"Scope,omitempty" yaml:"Scope,omitempty"`
	AWG         *Instrument `koanf:"AWG,omitempty" yaml:"AWG,omitempty"`
	VNA         *Instrument `koanf:"VNA,omitempty" yaml:"VNA,omitempty"`
	Temperature *Instrument `koanf:"Temperature,omitempty" yaml:"Temperature,omitempty"`

	IV      IVCurve        `koanf:"IV Curve" yaml:"IV Curve"`
	Counts  PhotonCounts   `koanf:"Photon Counts" yaml:"Photon Counts"`
	Trigger TriggerSweep   `koanf:"Trigger Sweep" yaml:"Trigger Sweep"`
	S21     S21            `koanf:"S21" yaml:"S21"`
	Traces  PulseTraces    `koanf:"Pulse Traces" yaml:"Pulse Traces"`
	TempLog TemperatureLog `koanf:"Temperature Log" yaml:"Temperature Log"`
}

// Defaults returns the configuration used for anything a file leaves out
func Defaults() Config {
	return Config{
		Path: ".",
		Addr: ":8000",
		IV: IVCurve{
			Stop:      1,
			Steps:     101,
			Sweeps:    1,
			R:         100e3,
			Settle:    0.1,
			Threshold: 5e-3,
		},
		Counts: PhotonCounts{
			Stop:         1,
			Steps:        51,
			R:            100e3,
			Gate:         1,
			TriggerLevel: 0.05,
			Settle:       0.1,
		},
		Trigger: TriggerSweep{
			BiasStop:   1,
			BiasSteps:  11,
			LevelStart: 0.01,
			LevelStop:  0.5,
			LevelSteps: 50,
			R:          100e3,
			Gate:       0.1,
			Settle:     0.1,
		},
		S21: S21{
			Start:       4e9,
			Stop:        8e9,
			Points:      1601,
			IFBandwidth: 1e3,
			Powers:      []float64{-30},
			Averages:    1,
		},
		Traces: PulseTraces{
			R:             100e3,
			Traces:        10,
			Channels:      []string{"C1"},
			TriggerSource: "C1",
			TriggerLevel:  0.05,
			Settle:        0.1,
		},
		TempLog: TemperatureLog{
			Channels:   []string{"A", "B"},
			Interval:   10,
			File:       "temperature.csv",
			FlushEvery: 1,
			Addr:       ":8001",
			History:    8640,
		},
	}
}

// Load reads the YAML file at path over the defaults.  A missing file is
// an error only if mustExist is true
func Load(path string, mustExist bool) (Config, error) {
	k := koanf.New(".")
	var c Config
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return c, errors.Wrap(err, "loading defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if mustExist || !errors.Is(err, fs.ErrNotExist) {
				return c, errors.Wrapf(err, "loading config %s", path)
			}
		}
	}
	if err := k.Unmarshal("", &c); err != nil {
		return c, errors.Wrap(err, "decoding config")
	}
	return c, nil
}

// Parameters returns the settings of one section of c, e.g. "IV Curve",
// keyed by their names in the config file
func (c Config) Parameters(section string) (map[string]interface{}, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(c, "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "flattening config")
	}
	if !k.Exists(section) {
		return nil, errors.Errorf("no config section %q", section)
	}
	return k.Cut(section).All(), nil
}

// Instruments returns the configured roles, keyed by role name
func (c Config) Instruments() map[string]Instrument {
	out := map[string]Instrument{}
	for role, ptr := range map[string]*Instrument{
		RoleSource:      c.Source,
		RoleMeter:       c.Meter,
		RoleCounter:     c.Counter,
		RoleAttenuator:  c.Attenuator,
		RoleScope:       c.Scope,
		RoleAWG:         c.AWG,
		RoleVNA:         c.VNA,
		RoleTemperature: c.Temperature,
	} {
		if ptr != nil {
			out[role] = *ptr
		}
	}
	return out
}

// Validate checks every configured instrument names a type and a port
func (c Config) Validate() error {
	var missing []string
	for role, inst := range c.Instruments() {
		if inst.Name == "" {
			missing = append(missing, role+".name")
		}
		if inst.Port == "" && !c.Mock {
			missing = append(missing, role+".port")
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Errorf("config missing %s", strings.Join(missing, ", "))
	}
	return nil
}

var unsafeChars = strings.NewReplacer(" ", "-", "/", "-", "\\", "-", ":", "-")

// FileName builds the path results of recipe are saved to, without an
// extension: <Path>/<Sample name>_<Device name>_<recipe>_<timestamp>
func (c Config) FileName(recipe string, t time.Time) string {
	var parts []string
	for _, k := range []string{"Sample name", "Device name"} {
		if v := c.SaveFile[k]; v != "" {
			parts = append(parts, unsafeChars.Replace(v))
		}
	}
	parts = append(parts, unsafeChars.Replace(recipe), t.Format("20060102_150405"))
	return filepath.Join(c.Path, strings.Join(parts, "_"))
}

// WriteYAML encodes c to w
func (c Config) WriteYAML(w io.Writer) error {
	enc := yml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(c)
}
