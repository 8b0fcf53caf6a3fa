package instruments

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/qnngroup/qnnlab/agilent"
	"github.com/qnngroup/qnnlab/bk"
	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/cryocon"
	"github.com/qnngroup/qnnlab/keithley"
	"github.com/qnngroup/qnnlab/keysight"
	"github.com/qnngroup/qnnlab/lakeshore"
	"github.com/qnngroup/qnnlab/lecroy"
	"github.com/qnngroup/qnnlab/scpi"
	"github.com/qnngroup/qnnlab/srs"
)

// Constructor builds a driver around pool
type Constructor func(pool *comm.Pool, inst config.Instrument) interface{}

// Type is an entry in the driver table
type Type struct {
	// Name is the canonical type name
	Name string

	// Aliases are alternative names accepted in config files
	Aliases []string

	// Roles are the roles the driver can fill
	Roles []string

	// Serial returns the port settings for serial connections; nil means 9600 8N1
	Serial func(device string) *serial.Config

	// RateLimit caps commands per second, 0 for no limit
	RateLimit float64

	New Constructor
}

// CanFill reports whether t can fill role
func (t Type) CanFill(role string) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// timeout applies an instrument's timeout override to s
func timeout(s *scpi.SCPI, inst config.Instrument) {
	if inst.Timeout > 0 {
		s.Timeout = inst.TimeoutDuration()
	}
}

var types = []Type{
	{
		Name:    "Keithley2400",
		Aliases: []string{"k2400", "smu2400", "keithley2401", "keithley2410"},
		Roles:   []string{config.RoleSource, config.RoleMeter},
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			k := keithley.NewSMU2400(pool)
			timeout(&k.SCPI, inst)
			return k
		},
	},
	{
		Name:    "Keithley2700",
		Aliases: []string{"k2700", "dmm2700", "keithley2000"},
		Roles:   []string{config.RoleMeter},
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			d := keithley.NewDMM2700(pool)
			timeout(&d.SCPI, inst)
			return d
		},
	},
	{
		Name:    "SIM928",
		Aliases: []string{"srs928", "sim900", "srssim928"},
		Roles:   []string{config.RoleSource},
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			slot := inst.PortAlt
			if slot == 0 {
				slot = 1
			}
			return srs.NewSIM900(pool).Module(slot)
		},
	},
	{
		Name:    "LeCroy",
		Aliases: []string{"lecroy620zi", "lecroywaverunner", "waverunner", "lecroy8254"},
		Roles:   []string{config.RoleScope},
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			s := lecroy.NewScope(pool)
			timeout(&s.SCPI, inst)
			return s
		},
	},
	{
		Name:    "KeysightN5224a",
		Aliases: []string{"n5224a", "pna", "keysightpna", "agilentn5230a", "n5230a"},
		Roles:   []string{config.RoleVNA},
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			p := keysight.NewPNA(pool)
			timeout(&p.SCPI, inst)
			return p
		},
	},
	{
		Name:    "Agilent53131a",
		Aliases: []string{"53131a", "agilent53220a", "keysight53220a", "53220a"},
		Roles:   []string{config.RoleCounter},
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			c := agilent.NewCounter(pool)
			timeout(&c.SCPI, inst)
			return c
		},
	},
	{
		Name:    "Agilent8157a",
		Aliases: []string{"8157a", "agilent8156a", "8156a"},
		Roles:   []string{config.RoleAttenuator},
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			a := agilent.NewAttenuator(pool)
			timeout(&a.SCPI, inst)
			return a
		},
	},
	{
		Name:    "Agilent33250a",
		Aliases: []string{"33250a", "agilentfunctiongenerator"},
		Roles:   []string{config.RoleAWG},
		Serial:  agilent.SerialConfig,
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			f := agilent.NewFunctionGenerator(pool)
			timeout(&f.SCPI, inst)
			return singleChannel{f}
		},
	},
	{
		Name:    "BK4060",
		Aliases: []string{"bk4063", "bk4064", "bk4065", "bkprecision4060", "awg4060"},
		Roles:   []string{config.RoleAWG},
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			a := bk.NewAWG4060(pool)
			timeout(&a.SCPI, inst)
			return a
		},
	},
	{
		Name:      "Lakeshore336",
		Aliases:   []string{"ls336", "lakeshore372", "ls372", "lakeshore"},
		Roles:     []string{config.RoleTemperature},
		Serial:    lakeshore.SerialConfig,
		RateLimit: lakeshore.CommandsPerSecond,
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			c := lakeshore.NewController(pool)
			timeout(&c.SCPI, inst)
			return c
		},
	},
	{
		Name:    "Cryocon",
		Aliases: []string{"cryocon12", "cryocon14", "cryocon18i"},
		Roles:   []string{config.RoleTemperature},
		New: func(pool *comm.Pool, inst config.Instrument) interface{} {
			m := cryocon.NewTemperatureMonitor(pool)
			timeout(&m.SCPI, inst)
			return m
		},
	},
}

// normalize folds case and drops separators, Keithley-2400 => keithley2400
func normalize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ', '.':
			return -1
		}
		return r
	}, strings.ToLower(name))
}

// table maps every normalized name and alias to its type
var table = func() map[string]Type {
	m := map[string]Type{}
	for _, t := range types {
		m[normalize(t.Name)] = t
		for _, a := range t.Aliases {
			m[normalize(a)] = t
		}
	}
	return m
}()

// ErrUnknownInstrument is returned by Lookup for names not in the table
var ErrUnknownInstrument = errors.New("unknown instrument type")

// Lookup finds the type called name, ignoring case and separators
func Lookup(name string) (Type, error) {
	t, ok := table[normalize(name)]
	if !ok {
		return Type{}, errors.Wrapf(ErrUnknownInstrument, "%q", name)
	}
	return t, nil
}

// Types returns the canonical name of every supported type, sorted
func Types() []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.Name
	}
	sort.Strings(out)
	return out
}

// defaultSerial is used for types without their own serial settings
func defaultSerial(device string) *serial.Config {
	return &serial.Config{Name: device, Baud: 9600, Size: 8, ReadTimeout: time.Second}
}
