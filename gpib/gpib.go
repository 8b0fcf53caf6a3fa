/*
Package gpib talks to GPIB instruments through a Prologix GPIB-ETHERNET or
GPIB-USB controller.

The controller only accepts a single client, so every instrument behind it
shares one Bus.  Each instrument gets a Device from Bus.Maker, which plugs
into a comm.Pool.  A Device claims the bus for the duration of a pool lease,
addressing its instrument as it does, so query/reply pairs from different
instruments never interleave.

Commands for the controller itself are prefixed with "++".  Everything else
is forwarded to the addressed instrument, with CR, LF, ESC and '+' escaped.
*/
package gpib

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/qnngroup/qnnlab/comm"
)

const (
	// EthernetPort is the TCP port of a Prologix GPIB-ETHERNET controller
	EthernetPort = 1234

	esc = 27
)

// Option configures a Bus
type Option func(*Bus)

// WithReadTimeout sets the controller's read timeout, ++read_tmo_ms.  The
// controller accepts 1 ~ 3000 ms
func WithReadTimeout(d time.Duration) Option {
	return func(b *Bus) { b.readTimeout = d }
}

// WithAR488 slightly alters the init commands for the Arduino-based AR488,
// which does not understand verbose or savecfg
func WithAR488() Option { return func(b *Bus) { b.ar488 = true } }

// Bus is a single Prologix controller shared by one or more instruments
type Bus struct {
	sync.Mutex

	open        comm.CreationFunc
	rw          io.ReadWriteCloser
	readTimeout time.Duration
	ar488       bool

	// addressed is the address currently selected on the controller
	addressed string
}

// NewBus returns a bus whose controller connection is made lazily by open
func NewBus(open comm.CreationFunc, opts ...Option) *Bus {
	b := &Bus{open: open, readTimeout: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewEthernetBus creates a bus for a GPIB-ETHERNET controller at host
func NewEthernetBus(host string, opts ...Option) *Bus {
	addr := fmt.Sprintf("%s:%d", host, EthernetPort)
	return NewBus(comm.BackingOffTCPConnMaker(addr, 3*time.Second), opts...)
}

// NewUSBBus creates a bus for a GPIB-USB controller on a virtual COM port
func NewUSBBus(port string, opts ...Option) *Bus {
	open := func() (io.ReadWriteCloser, error) {
		p, err := serial.Open(port, &serial.Mode{BaudRate: 115200})
		if err != nil {
			return nil, errors.Wrapf(err, "opening Prologix on %s", port)
		}
		if err := p.SetReadTimeout(5 * time.Second); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	}
	return NewBus(open, opts...)
}

// Maker returns a CreationFunc producing Devices for the instrument at the
// given addresses.  A secondary address of 0 means none.
func (b *Bus) Maker(primary, secondary int) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		if primary < 0 || primary > 30 {
			return nil, errors.Errorf("invalid primary address %d (must be 0-30)", primary)
		}
		if secondary != 0 && (secondary < 96 || secondary > 126) {
			return nil, errors.Errorf("invalid secondary address %d (must be 96-126)", secondary)
		}
		return &Device{bus: b, primary: primary, secondary: secondary}, nil
	}
}

// connect opens and configures the controller.  The bus must be locked
func (b *Bus) connect() error {
	if b.rw != nil {
		return nil
	}
	rw, err := b.open()
	if err != nil {
		return err
	}
	b.rw = rw
	var cmds []string
	if !b.ar488 {
		cmds = append(cmds, "savecfg 0")
	}
	cmds = append(cmds,
		"mode 1", // controller mode
		"auto 0", // no read-after-write, we send ++read ourselves
		"eoi 1",  // assert EOI with the last character
		"eos 2",  // append LF to instrument commands
		fmt.Sprintf("read_tmo_ms %d", b.readTimeout.Milliseconds()),
		"eot_enable 1",
		"eot_char 10",
	)
	for _, cmd := range cmds {
		if err := b.command(cmd); err != nil {
			b.rw.Close()
			b.rw = nil
			return err
		}
	}
	b.addressed = ""
	log.Debug().Str("controller", "prologix").Msg("GPIB controller configured")
	return nil
}

// command sends a ++ command to the controller.  The bus must be locked
func (b *Bus) command(cmd string) error {
	_, err := fmt.Fprintf(b.rw, "++%s\n", strings.TrimSpace(cmd))
	return err
}

// drop discards the controller connection after a transport error.  The bus must be locked
func (b *Bus) drop() {
	if b.rw != nil {
		b.rw.Close()
		b.rw = nil
	}
}

// Close closes the controller connection
func (b *Bus) Close() error {
	b.Lock()
	defer b.Unlock()
	if b.rw == nil {
		return nil
	}
	// return the instruments to front panel control
	b.command("loc")
	err := b.rw.Close()
	b.rw = nil
	return err
}

// Device is the connection to a single instrument on a Bus.  It satisfies
// comm.Leased, so a comm.Pool locks the bus around each transaction
type Device struct {
	bus         *Bus
	primary     int
	secondary   int
	pendingRead bool
	leased      bool
}

func (d *Device) addr() string {
	if d.secondary != 0 {
		return fmt.Sprintf("addr %d %d", d.primary, d.secondary)
	}
	return fmt.Sprintf("addr %d", d.primary)
}

// Acquire locks the bus and addresses this instrument
func (d *Device) Acquire() error {
	d.bus.Lock()
	if err := d.bus.connect(); err != nil {
		d.bus.Unlock()
		return err
	}
	addr := d.addr()
	if d.bus.addressed != addr {
		if err := d.bus.command(addr); err != nil {
			d.bus.drop()
			d.bus.Unlock()
			return err
		}
		d.bus.addressed = addr
	}
	d.leased = true
	d.pendingRead = false
	return nil
}

// Release unlocks the bus
func (d *Device) Release() {
	if d.leased {
		d.leased = false
		d.bus.Unlock()
	}
}

// Write sends p to the instrument, escaping characters the controller would
// otherwise interpret
func (d *Device) Write(p []byte) (int, error) {
	if !d.leased {
		return 0, errors.New("gpib device used outside of a pool lease")
	}
	body := p
	for len(body) > 0 && (body[len(body)-1] == '\n' || body[len(body)-1] == '\r') {
		body = body[:len(body)-1]
	}
	_, err := d.bus.rw.Write(append(Escape(body), '\n'))
	if err != nil {
		return 0, err
	}
	d.pendingRead = false
	return len(p), nil
}

// Read asks the controller to read from the instrument until EOI, then
// returns what arrives
func (d *Device) Read(p []byte) (int, error) {
	if !d.leased {
		return 0, errors.New("gpib device used outside of a pool lease")
	}
	if !d.pendingRead {
		if err := d.bus.command("read eoi"); err != nil {
			return 0, err
		}
		d.pendingRead = true
	}
	return d.bus.rw.Read(p)
}

// Close forgets the device.  The controller connection is owned by the Bus,
// but is dropped if the device is closed while leased, which only happens
// when the pool destroys it after a transport error
func (d *Device) Close() error {
	if d.leased {
		d.bus.drop()
	}
	return nil
}

// SetReadDeadline forwards to the controller connection, if it supports deadlines
func (d *Device) SetReadDeadline(t time.Time) error {
	if dl, ok := d.bus.rw.(interface{ SetReadDeadline(time.Time) error }); ok {
		return dl.SetReadDeadline(t)
	}
	return nil
}

// SetWriteDeadline forwards to the controller connection, if it supports deadlines
func (d *Device) SetWriteDeadline(t time.Time) error {
	if dl, ok := d.bus.rw.(interface{ SetWriteDeadline(time.Time) error }); ok {
		return dl.SetWriteDeadline(t)
	}
	return nil
}

// Escape prefixes CR, LF, ESC and '+' with ESC so the controller passes them
// through to the instrument instead of acting on them
func Escape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case '\r', '\n', esc, '+':
			out = append(out, esc)
		}
		out = append(out, c)
	}
	return out
}
