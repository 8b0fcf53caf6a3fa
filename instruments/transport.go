package instruments

import (
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/gpib"
	"github.com/qnngroup/qnnlab/lecroy"
	"github.com/qnngroup/qnnlab/usbtmc"
)

const (
	dialTimeout = 3 * time.Second

	// idle connections are closed after this long
	idleTimeout = 5 * time.Minute
)

// isSerialDevice reports whether addr names a local serial port rather than a host
func isSerialDevice(addr string) bool {
	return strings.HasPrefix(addr, "/dev/") || strings.HasPrefix(strings.ToUpper(addr), "COM")
}

// bus returns the Prologix controller at addr, creating it on first use so
// every instrument behind one controller shares it
func (s *Set) bus(addr string) *gpib.Bus {
	if b, ok := s.buses[addr]; ok {
		return b
	}
	var b *gpib.Bus
	if isSerialDevice(addr) {
		b = gpib.NewUSBBus(addr)
	} else {
		host := addr
		if h, _, err := net.SplitHostPort(addr); err == nil {
			host = h
		}
		b = gpib.NewEthernetBus(host)
	}
	s.buses[addr] = b
	return b
}

// maker resolves the connection to the instrument described by inst
func (s *Set) maker(t Type, inst config.Instrument) (comm.CreationFunc, error) {
	res, err := comm.ParseResource(inst.Port)
	if err != nil {
		return nil, err
	}
	var maker comm.CreationFunc
	switch res.Kind {
	case comm.GPIB:
		if inst.GPIBAdapter == "" {
			return nil, errors.Errorf("%s is a GPIB port but no gpib_adapter is configured", inst.Port)
		}
		maker = s.bus(inst.GPIBAdapter).Maker(res.Primary, res.Secondary)
	case comm.TCPIP, comm.Socket:
		// LeCroy scopes speak VICP rather than a raw socket
		if t.Name == "LeCroy" && (res.Kind == comm.TCPIP || res.Port == lecroy.VICPPort) {
			maker = lecroy.VICPConnMaker(res.Host, dialTimeout)
		} else {
			maker = comm.BackingOffTCPConnMaker(res.Addr(), dialTimeout)
		}
	case comm.ASRL:
		conf := defaultSerial
		if t.Serial != nil {
			conf = t.Serial
		}
		maker = comm.SerialConnMaker(conf(res.Device))
	case comm.USB:
		maker = usbtmc.Maker(res.VID, res.PID, res.Serial)
	default:
		return nil, errors.Errorf("unsupported resource %s", res)
	}
	if t.RateLimit > 0 {
		maker = comm.RateLimitedMaker(maker, t.RateLimit)
	}
	return maker, nil
}
