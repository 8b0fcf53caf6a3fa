/*
Package instruments opens the instruments a config file describes and
hands them out by role.

Each role section of the config names a driver type and a port.  Open
resolves the port to a transport (TCP, VICP, Prologix GPIB, serial or
USB-TMC), builds the driver, checks it answers *IDN? and logs one line per
instrument.  Recipes then ask the Set for a capability, e.g. Source() for a
VoltageSource, and get ErrRoleMissing rather than a nil handle when the
config left the role out.
*/
package instruments

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/gpib"
)

var (
	// ErrRoleMissing is returned when a recipe needs a role the config does not fill
	ErrRoleMissing = errors.New("no instrument configured for role")

	// ErrNotConnected is returned by a Set after Close
	ErrNotConnected = errors.New("instruments are closed")

	// ErrWrongRole is returned when a type cannot fill the role it is configured for
	ErrWrongRole = errors.New("instrument type cannot fill role")
)

// ConnectError records why the instrument filling a role could not be opened
type ConnectError struct {
	Role string
	Name string
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s (%s at %s): %v", e.Role, e.Name, e.Port, e.Err)
}

// Unwrap returns the underlying error
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Options alters the behavior of Open
type Options struct {
	// Strict closes everything and fails if any instrument cannot be opened
	Strict bool

	// SkipVerify skips the *IDN? check
	SkipVerify bool
}

// Set is a collection of open instruments keyed by role
type Set struct {
	mu      sync.Mutex
	devices map[string]interface{}
	pools   []*comm.Pool
	buses   map[string]*gpib.Bus
	closed  bool
}

// NewSet returns an empty Set
func NewSet() *Set {
	return &Set{devices: map[string]interface{}{}, buses: map[string]*gpib.Bus{}}
}

// Open opens every instrument in cfg.  Instruments that fail are left out of
// the returned Set and reported in the error, a multierr of *ConnectError.
// With opts.Strict the Set is closed and nil is returned instead.  With
// cfg.Mock every role is filled with a simulated instrument
func Open(ctx context.Context, cfg config.Config, opts Options) (*Set, error) {
	s := NewSet()
	configured := cfg.Instruments()
	var mocks *MockBench
	if cfg.Mock {
		mocks = NewMockBench()
	}
	var errs error
	for _, role := range config.Roles {
		inst, ok := configured[role]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if mocks != nil {
			s.Add(role, mocks.Role(role))
			log.Info().Str("role", role).Str("type", inst.Name).Msg("using simulated instrument")
			continue
		}
		if err := s.open(role, inst, opts); err != nil {
			cerr := &ConnectError{Role: role, Name: inst.Name, Port: inst.Port, Err: err}
			log.Error().Err(err).Str("role", role).Str("type", inst.Name).Str("port", inst.Port).Msg("failed to connect")
			errs = multierr.Append(errs, cerr)
		}
	}
	if errs != nil && opts.Strict {
		return nil, multierr.Append(errs, s.Close())
	}
	return s, errs
}

func (s *Set) open(role string, inst config.Instrument, opts Options) error {
	t, err := Lookup(inst.Name)
	if err != nil {
		return err
	}
	if !t.CanFill(role) {
		return errors.Wrapf(ErrWrongRole, "%s as %s", t.Name, role)
	}
	maker, err := s.maker(t, inst)
	if err != nil {
		return err
	}
	pool := comm.NewPool(1, idleTimeout, maker)
	dev := t.New(pool, inst)
	ev := log.Info().Str("role", role).Str("type", t.Name).Str("port", inst.Port)
	if id, ok := dev.(Identifier); ok && !opts.SkipVerify {
		idn, err := id.Identify()
		if err != nil {
			pool.Close()
			return errors.Wrap(err, "*IDN?")
		}
		ev = ev.Str("model", idn.Model).Str("serial", idn.Serial)
	}
	if c, ok := dev.(Configurer); ok {
		if err := c.Configure(); err != nil {
			pool.Close()
			return errors.Wrap(err, "configuring")
		}
	}
	ev.Msg("connected")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools = append(s.pools, pool)
	s.devices[role] = dev
	return nil
}

// Add places dev in the Set as role, replacing any instrument already there
func (s *Set) Add(role string, dev interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[role] = dev
}

// Get returns the instrument filling role
func (s *Set) Get(role string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNotConnected
	}
	dev, ok := s.devices[role]
	if !ok {
		return nil, errors.Wrap(ErrRoleMissing, role)
	}
	return dev, nil
}

// Roles returns the filled roles in opening order
func (s *Set) Roles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range config.Roles {
		if _, ok := s.devices[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// as fetches role and asserts it to T
func as[T any](s *Set, role string) (T, error) {
	var zero T
	dev, err := s.Get(role)
	if err != nil {
		return zero, err
	}
	out, ok := dev.(T)
	if !ok {
		return zero, errors.Errorf("%s instrument %T lacks the required capability", role, dev)
	}
	return out, nil
}

// Source returns the bias source
func (s *Set) Source() (VoltageSource, error) { return as[VoltageSource](s, config.RoleSource) }

// Meter returns the voltmeter
func (s *Set) Meter() (VoltMeter, error) { return as[VoltMeter](s, config.RoleMeter) }

// Counter returns the photon counter
func (s *Set) Counter() (PhotonCounter, error) { return as[PhotonCounter](s, config.RoleCounter) }

// Attenuator returns the optical attenuator
func (s *Set) Attenuator() (Attenuator, error) { return as[Attenuator](s, config.RoleAttenuator) }

// Scope returns the oscilloscope
func (s *Set) Scope() (Oscilloscope, error) { return as[Oscilloscope](s, config.RoleScope) }

// AWG returns the waveform generator
func (s *Set) AWG() (WaveformGenerator, error) { return as[WaveformGenerator](s, config.RoleAWG) }

// VNA returns the network analyzer
func (s *Set) VNA() (NetworkAnalyzer, error) { return as[NetworkAnalyzer](s, config.RoleVNA) }

// Thermometer returns the temperature controller
func (s *Set) Thermometer() (Thermometer, error) {
	return as[Thermometer](s, config.RoleTemperature)
}

// Close closes every connection.  The Set cannot be used afterwards
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	for _, p := range s.pools {
		err = multierr.Append(err, p.Close())
	}
	for _, b := range s.buses {
		err = multierr.Append(err, b.Close())
	}
	return err
}
