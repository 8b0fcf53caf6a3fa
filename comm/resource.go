package comm

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the transport family of a resource
type Kind int

const (
	// Socket is a raw TCP socket, e.g. 192.168.1.5:5025
	Socket Kind = iota
	// TCPIP is a LAN instrument addressed by host only
	TCPIP
	// GPIB is an instrument on a GPIB bus
	GPIB
	// ASRL is a serial port
	ASRL
	// USB is a USB-TMC instrument
	USB
)

// DefaultSCPIPort is the raw socket port nearly every LAN instrument listens on
const DefaultSCPIPort = 5025

var kindNames = map[Kind]string{
	Socket: "SOCKET",
	TCPIP:  "TCPIP",
	GPIB:   "GPIB",
	ASRL:   "ASRL",
	USB:    "USB",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Resource is a parsed VISA-style instrument address
type Resource struct {
	Kind Kind

	// Board is the interface number, GPIB0 => 0
	Board int

	// Primary and Secondary are GPIB addresses, Secondary is 0 if not used
	Primary   int
	Secondary int

	// Host and Port are used for TCPIP and Socket resources
	Host string
	Port int

	// Device is the serial device path, e.g. /dev/ttyUSB0 or COM3
	Device string

	// VID, PID and Serial identify a USB-TMC device
	VID    uint16
	PID    uint16
	Serial string
}

// Addr returns host:port for network resources
func (r Resource) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Resource) String() string {
	switch r.Kind {
	case GPIB:
		if r.Secondary != 0 {
			return fmt.Sprintf("GPIB%d::%d::%d::INSTR", r.Board, r.Primary, r.Secondary)
		}
		return fmt.Sprintf("GPIB%d::%d::INSTR", r.Board, r.Primary)
	case TCPIP:
		return fmt.Sprintf("TCPIP%d::%s::INSTR", r.Board, r.Host)
	case Socket:
		return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", r.Board, r.Host, r.Port)
	case ASRL:
		return fmt.Sprintf("ASRL%s::INSTR", r.Device)
	case USB:
		return fmt.Sprintf("USB%d::0x%04X::0x%04X::%s::INSTR", r.Board, r.VID, r.PID, r.Serial)
	}
	return "unknown resource"
}

// ParseResource parses the address formats found in lab configuration files:
//
//	GPIB0::5::INSTR, GPIB::5, GPIB0::5::96::INSTR
//	TCPIP0::10.0.0.2::INSTR, TCPIP0::10.0.0.2::inst0::INSTR
//	TCPIP0::10.0.0.2::5025::SOCKET
//	ASRL/dev/ttyUSB0::INSTR, ASRL3::INSTR, COM3, /dev/ttyS0
//	USB0::0x0957::0x1807::MY1234::INSTR
//	10.0.0.2:5025, 10.0.0.2
//
// TCPIP::INSTR resources are reached through the raw SCPI socket, as VXI-11
// is not implemented.
func ParseResource(s string) (Resource, error) {
	var r Resource
	s = strings.TrimSpace(s)
	if s == "" {
		return r, errors.New("empty resource string")
	}
	up := strings.ToUpper(s)
	pieces := strings.Split(s, "::")
	if strings.EqualFold(pieces[len(pieces)-1], "INSTR") {
		pieces = pieces[:len(pieces)-1]
	}
	switch {
	case strings.HasPrefix(up, "GPIB"):
		r.Kind = GPIB
		board, err := boardNumber(pieces[0], "GPIB")
		if err != nil {
			return r, err
		}
		r.Board = board
		if len(pieces) < 2 {
			return r, errors.Errorf("resource %q has no GPIB address", s)
		}
		r.Primary, err = strconv.Atoi(pieces[1])
		if err != nil {
			return r, errors.Wrapf(err, "resource %q primary address", s)
		}
		if r.Primary < 0 || r.Primary > 30 {
			return r, errors.Errorf("resource %q primary address must be 0-30", s)
		}
		if len(pieces) > 2 {
			r.Secondary, err = strconv.Atoi(pieces[2])
			if err != nil {
				return r, errors.Wrapf(err, "resource %q secondary address", s)
			}
			if r.Secondary < 96 || r.Secondary > 126 {
				return r, errors.Errorf("resource %q secondary address must be 96-126", s)
			}
		}
		return r, nil
	case strings.HasPrefix(up, "TCPIP"):
		board, err := boardNumber(pieces[0], "TCPIP")
		if err != nil {
			return r, err
		}
		r.Board = board
		if len(pieces) < 2 {
			return r, errors.Errorf("resource %q has no host", s)
		}
		r.Host = pieces[1]
		r.Port = DefaultSCPIPort
		r.Kind = TCPIP
		if len(pieces) == 4 && strings.EqualFold(pieces[3], "SOCKET") {
			r.Kind = Socket
			r.Port, err = strconv.Atoi(pieces[2])
			if err != nil {
				return r, errors.Wrapf(err, "resource %q port", s)
			}
		}
		return r, nil
	case strings.HasPrefix(up, "ASRL"):
		r.Kind = ASRL
		dev := pieces[0][4:]
		if _, err := strconv.Atoi(dev); err == nil {
			dev = "COM" + dev
		}
		if dev == "" {
			return r, errors.Errorf("resource %q has no serial device", s)
		}
		r.Device = dev
		return r, nil
	case strings.HasPrefix(up, "COM") || strings.HasPrefix(s, "/dev/"):
		r.Kind = ASRL
		r.Device = pieces[0]
		return r, nil
	case strings.HasPrefix(up, "USB"):
		r.Kind = USB
		board, err := boardNumber(pieces[0], "USB")
		if err != nil {
			return r, err
		}
		r.Board = board
		if len(pieces) < 3 {
			return r, errors.Errorf("resource %q needs vendor and product IDs", s)
		}
		vid, err := strconv.ParseUint(pieces[1], 0, 16)
		if err != nil {
			return r, errors.Wrapf(err, "resource %q vendor ID", s)
		}
		pid, err := strconv.ParseUint(pieces[2], 0, 16)
		if err != nil {
			return r, errors.Wrapf(err, "resource %q product ID", s)
		}
		r.VID, r.PID = uint16(vid), uint16(pid)
		if len(pieces) > 3 {
			r.Serial = pieces[3]
		}
		return r, nil
	}

	// bare host or host:port
	r.Kind = Socket
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		r.Host = s
		r.Port = DefaultSCPIPort
		return r, nil
	}
	r.Host = host
	r.Port, err = strconv.Atoi(port)
	if err != nil {
		return r, errors.Wrapf(err, "resource %q port", s)
	}
	return r, nil
}

func boardNumber(piece, prefix string) (int, error) {
	num := piece[len(prefix):]
	if num == "" {
		return 0, nil
	}
	b, err := strconv.Atoi(num)
	if err != nil {
		return 0, errors.Wrapf(err, "board number of %q", piece)
	}
	return b, nil
}
