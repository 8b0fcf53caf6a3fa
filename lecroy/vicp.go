package lecroy

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/qnngroup/qnnlab/comm"
)

// VICPPort is the TCP port LeCroy scopes serve VICP on
const VICPPort = 1861

const (
	vicpData    = 0x80
	vicpRemote  = 0x08
	vicpEOI     = 0x01
	vicpVersion = 0x01
	vicpHdrLen  = 8
)

// VICP frames a TCP connection with LeCroy's VICP headers: an operation
// byte, version, sequence number, a spare byte and a big endian length
type VICP struct {
	conn      net.Conn
	seq       byte
	remaining int
}

// NewVICP wraps conn
func NewVICP(conn net.Conn) *VICP {
	return &VICP{conn: conn}
}

// VICPConnMaker dials the scope at host and wraps the connection in VICP framing
func VICPConnMaker(host string, timeout time.Duration) comm.CreationFunc {
	dial := comm.BackingOffTCPConnMaker(net.JoinHostPort(host, strconv.Itoa(VICPPort)), timeout)
	return func() (io.ReadWriteCloser, error) {
		conn, err := dial()
		if err != nil {
			return nil, err
		}
		return NewVICP(conn.(net.Conn)), nil
	}
}

// Write sends p as a single message with EOI asserted
func (v *VICP) Write(p []byte) (int, error) {
	v.seq++
	if v.seq == 0 {
		v.seq = 1
	}
	hdr := [vicpHdrLen]byte{vicpData | vicpRemote | vicpEOI, vicpVersion, v.seq, 0}
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(p)))
	if _, err := v.conn.Write(append(hdr[:], p...)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read returns message payload, consuming headers as they arrive
func (v *VICP) Read(p []byte) (int, error) {
	for v.remaining == 0 {
		var hdr [vicpHdrLen]byte
		if _, err := io.ReadFull(v.conn, hdr[:]); err != nil {
			return 0, err
		}
		v.remaining = int(binary.BigEndian.Uint32(hdr[4:]))
	}
	if len(p) > v.remaining {
		p = p[:v.remaining]
	}
	n, err := v.conn.Read(p)
	v.remaining -= n
	return n, err
}

// Close closes the underlying connection
func (v *VICP) Close() error {
	return v.conn.Close()
}

// SetReadDeadline sets the read deadline of the underlying connection
func (v *VICP) SetReadDeadline(t time.Time) error {
	return v.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline of the underlying connection
func (v *VICP) SetWriteDeadline(t time.Time) error {
	return v.conn.SetWriteDeadline(t)
}
