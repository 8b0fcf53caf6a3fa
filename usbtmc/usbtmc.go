/*
Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices, enough to speak SCPI to bench instruments over
their rear USB port.

It does not implement the class-specific control requests (INITIATE_CLEAR,
ABORT_BULK_IN and friends), nor USB488 service requests.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Allocate a receipt buffer
2.  Create a read header and send it on the Out endpoint
3.  Read from the In endpoint

These are implemented as Write() and Read() on Device, which is an
io.ReadWriteCloser and can sit behind a comm.Pool like any other connection.
*/
package usbtmc

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/google/gousb"
	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/comm"
)

const (
	// reserved is the byte to insert in reserved header fields
	reserved = 0x00

	headerSize = 12

	msgDevDepOut = 0x01
	msgDevDepIn  = 0x02

	// maxTransfer bounds the size of a single bulk-in request
	maxTransfer = 4096
)

// ErrNoBulkEndpoints is returned when the default interface lacks a bulk in/out pair
var ErrNoBulkEndpoints = errors.New("usbtmc: interface has no bulk endpoints")

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	sync.Mutex

	value byte
}

func (b *bTagGen) next() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 { // bTag 0 is not allowed
		b.value = 1
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(tag byte, datalen int, eom bool) [headerSize]byte {
	out := [headerSize]byte{}
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag, 1 <= x <= 255, unique and incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bit 0 is EOM
	9-11 reserved
	*/
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	if eom {
		out[8] = 0x01
	}
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, the device is told not to stop on a term char
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	/* this differs from BulkOut by bytes 8~11
	8 bit 1 is TermCharEnabled
	9 TermChar
	10~11 reserved
	*/
	out[0] = msgDevDepIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	}
	return out
}

// decBulkInHeader validates a DEV_DEP_MSG_IN header, returning the
// transfer size and end of message flag
func decBulkInHeader(hdr []byte, tag byte) (size int, eom bool, err error) {
	if len(hdr) < headerSize {
		return 0, false, errors.Errorf("usbtmc: only received %d bytes, need %d to form header", len(hdr), headerSize)
	}
	if hdr[0] != msgDevDepIn {
		return 0, false, errors.Errorf("usbtmc: unexpected MsgID %d", hdr[0])
	}
	if hdr[1] != tag || hdr[2] != invbTag(tag) {
		return 0, false, errors.Errorf("usbtmc: bTag mismatch, sent %d got %d", tag, hdr[1])
	}
	return int(binary.LittleEndian.Uint32(hdr[4:8])), hdr[8]&0x01 == 1, nil
}

// pad4 appends zeros so len(b) is a multiple of 4
func pad4(b []byte) []byte {
	if residual := len(b) % 4; residual > 0 {
		b = append(b, make([]byte, 4-residual)...)
	}
	return b
}

// Device hides the details of USB and exposes an io.ReadWriteCloser
type Device struct {
	tags   bTagGen
	ctx    *gousb.Context
	device *gousb.Device
	iface  *gousb.Interface
	closer func()
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint

	// pending holds the unread tail of a bulk-in transfer
	pending []byte
}

// Open opens the first device matching vid and pid.  If serial is not empty,
// the device's serial number must also match
func Open(vid, pid uint16, serial string) (*Device, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	})
	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil && serial == "" {
			dev = d
			continue
		}
		if dev == nil {
			if sn, _ := d.SerialNumber(); sn == serial {
				dev = d
				continue
			}
		}
		d.Close()
	}
	if dev == nil {
		ctx.Close()
		if err != nil {
			return nil, err
		}
		return nil, errors.Errorf("usbtmc: no device %04x:%04x with serial %q", vid, pid, serial)
	}
	d := &Device{ctx: ctx, device: dev}
	if err := d.claim(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Device) claim() error {
	err := d.device.SetAutoDetach(true)
	if err != nil {
		return err
	}
	d.iface, d.closer, err = d.device.DefaultInterface()
	if err != nil {
		return err
	}
	inNum, outNum := -1, -1
	for _, ep := range d.iface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && inNum < 0 {
			inNum = ep.Number
		}
		if ep.Direction == gousb.EndpointDirectionOut && outNum < 0 {
			outNum = ep.Number
		}
	}
	if inNum < 0 || outNum < 0 {
		return ErrNoBulkEndpoints
	}
	if d.in, err = d.iface.InEndpoint(inNum); err != nil {
		return err
	}
	d.out, err = d.iface.OutEndpoint(outNum)
	return err
}

// Maker returns a CreationFunc for use with comm.NewPool
func Maker(vid, pid uint16, serial string) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return Open(vid, pid, serial)
	}
}

// Write sends b as a single DEV_DEP_MSG_OUT transfer with EOM set
func (d *Device) Write(b []byte) (int, error) {
	hdr := encBulkOutHeader(d.tags.next(), len(b), true)
	msg := make([]byte, 0, headerSize+len(b)+3)
	msg = append(msg, hdr[:]...)
	msg = append(msg, b...)
	msg = pad4(msg)
	if _, err := d.out.Write(msg); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Read requests up to len(p) bytes from the device.  A transfer larger than
// p is held and returned by subsequent Reads
func (d *Device) Read(p []byte) (int, error) {
	if len(d.pending) > 0 {
		n := copy(p, d.pending)
		d.pending = d.pending[n:]
		return n, nil
	}
	want := len(p)
	if want > maxTransfer {
		want = maxTransfer
	}
	tag := d.tags.next()
	hdr := encBulkInHeader(tag, want, nil)
	if _, err := d.out.Write(hdr[:]); err != nil {
		return 0, err
	}
	buf := make([]byte, headerSize+want+3)
	n, err := d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	size, _, err := decBulkInHeader(buf[:n], tag)
	if err != nil {
		return 0, err
	}
	data := buf[headerSize:n]
	if size < len(data) {
		data = data[:size]
	}
	copied := copy(p, data)
	d.pending = data[copied:]
	return copied, nil
}

// Close releases the interface and closes the device
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return err
}
