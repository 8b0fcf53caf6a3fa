// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/comm"
)

// DefaultTimeout is used when SCPI.Timeout is zero
const DefaultTimeout = 5 * time.Second

// ErrBadBlock is returned when a binary block response is malformed
var ErrBadBlock = errors.New("malformed IEEE 488.2 block")

// DeviceError is an entry from the instrument's error queue
type DeviceError struct {
	Code    int
	Message string
}

func (e DeviceError) Error() string {
	return strconv.Itoa(e.Code) + ",\"" + e.Message + "\""
}

// ParseError parses a SYSTem:ERRor? reply of the form -113,"Undefined header".
// nil is returned when the code is zero
func ParseError(s string) error {
	s = strings.TrimSpace(s)
	code, msg := s, ""
	if i := strings.IndexByte(s, ','); i >= 0 {
		code, msg = s[:i], s[i+1:]
	}
	c, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(code), "+"))
	if err != nil {
		return errors.Errorf("unparseable error queue entry %q", s)
	}
	if c == 0 {
		return nil
	}
	return DeviceError{Code: c, Message: strings.Trim(strings.TrimSpace(msg), "\"")}
}

// Identity is the parsed reply to *IDN?
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

// ParseIdentity splits an *IDN? reply into its four fields.  Missing fields are left blank
func ParseIdentity(s string) Identity {
	var id Identity
	pieces := strings.SplitN(strings.TrimSpace(s), ",", 4)
	fields := []*string{&id.Manufacturer, &id.Model, &id.Serial, &id.Firmware}
	for i, p := range pieces {
		*fields[i] = strings.TrimSpace(p)
	}
	return id
}

func (id Identity) String() string {
	return strings.Join([]string{id.Manufacturer, id.Model, id.Serial, id.Firmware}, ",")
}

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Timeout bounds each read and write.  DefaultTimeout if zero
	Timeout time.Duration
}

func (s *SCPI) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// lease gets a connection from the pool and calls f with it wrapped for
// timeouts and line termination, then returns it to the pool
func (s *SCPI) lease(f func(*comm.Terminator) error) (err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, s.timeout())
	if err != nil {
		return err
	}
	err = f(comm.NewTerminator(wrap, '\n', '\n'))
	return err
}

func (s *SCPI) write(handshake bool, cmds ...string) error {
	return s.lease(func(rw *comm.Terminator) error {
		if handshake {
			cmds = append([]string{"*CLS;"}, cmds...)
			cmds = append(cmds, ";:SYSTem:ERRor?")
		}
		if _, err := io.WriteString(rw, strings.Join(cmds, " ")); err != nil {
			return err
		}
		if handshake {
			resp, err := rw.ReadLine()
			if err != nil {
				return err
			}
			return ParseError(string(resp))
		}
		return nil
	})
}

func (s *SCPI) writeRead(handshake bool, cmds ...string) ([]byte, error) {
	var resp []byte
	err := s.lease(func(rw *comm.Terminator) error {
		if handshake {
			cmds = append([]string{"*CLS;"}, cmds...)
			cmds = append(cmds, ";:SYSTem:ERRor?")
		}
		if _, err := io.WriteString(rw, strings.Join(cmds, " ")); err != nil {
			return err
		}
		line, err := rw.ReadLine()
		if err != nil {
			return err
		}
		resp = line
		if handshake {
			pieces := bytes.Split(resp, []byte{';'})
			if err := ParseError(string(pieces[len(pieces)-1])); err != nil {
				return err
			}
			resp = bytes.Join(pieces[:len(pieces)-1], []byte{';'})
		}
		return nil
	})
	return resp, err
}

// Write sends a command to the device.  if f.Handshaking == true,
// it also requests an error response and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	return s.write(s.Handshaking, cmds...)
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	return s.writeRead(s.Handshaking, cmds...)
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	return strings.TrimSpace(string(resp)), err
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(resp, 64)
	return f, errors.Wrapf(err, "parsing reply to %s", strings.Join(cmds, " "))
}

// ReadFloats sends a command and parses a comma separated list of floats
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return nil, err
	}
	return ParseFloats(resp)
}

// ParseFloats parses a comma separated list of floats
func ParseFloats(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []float64{}, nil
	}
	pieces := strings.Split(s, ",")
	out := make([]float64, len(pieces))
	for i, p := range pieces {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		out[i] = f
	}
	return out, nil
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean.  1/0 and ON/OFF are understood
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	return ParseBool(resp)
}

// ParseBool parses the ways instruments spell booleans
func ParseBool(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	// some instruments reply +1.00000E+00 to integer queries
	if i, err := strconv.Atoi(strings.TrimPrefix(resp, "+")); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// ReadBlock sends a query and reads an IEEE 488.2 binary block reply.  Any
// header the instrument puts before the '#' is discarded
func (s *SCPI) ReadBlock(cmds ...string) ([]byte, error) {
	var data []byte
	err := s.lease(func(rw *comm.Terminator) error {
		if _, err := io.WriteString(rw, strings.Join(cmds, " ")); err != nil {
			return err
		}
		var err error
		data, err = readBlock(rw.Reader())
		return err
	})
	return data, err
}

func readBlock(br *bufio.Reader) ([]byte, error) {
	if _, err := br.ReadSlice('#'); err != nil {
		if err == bufio.ErrBufferFull {
			return nil, ErrBadBlock
		}
		return nil, err
	}
	digit, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	if digit < '0' || digit > '9' {
		return nil, errors.Wrapf(ErrBadBlock, "length digit %q", digit)
	}
	if digit == '0' {
		// indefinite length, runs to the newline
		buf, err := br.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		return buf[:len(buf)-1], nil
	}
	lenBuf := make([]byte, digit-'0')
	if _, err := io.ReadFull(br, lenBuf); err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(string(lenBuf))
	if err != nil {
		return nil, errors.Wrapf(ErrBadBlock, "length %q", lenBuf)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, err
	}
	// eat the trailing newline if it came with the payload
	if br.Buffered() > 0 {
		if b, _ := br.Peek(1); len(b) == 1 && b[0] == '\n' {
			br.ReadByte()
		}
	}
	return data, nil
}

// ParseBlock decodes a binary block held in memory, returning the payload and
// whatever follows it
func ParseBlock(b []byte) (data, rest []byte, err error) {
	i := bytes.IndexByte(b, '#')
	if i < 0 || i+1 >= len(b) {
		return nil, nil, ErrBadBlock
	}
	b = b[i+1:]
	digit := b[0]
	if digit < '0' || digit > '9' {
		return nil, nil, ErrBadBlock
	}
	if digit == '0' {
		end := bytes.IndexByte(b, '\n')
		if end < 0 {
			return b[1:], nil, nil
		}
		return b[1:end], b[end+1:], nil
	}
	nd := int(digit - '0')
	if len(b) < 1+nd {
		return nil, nil, ErrBadBlock
	}
	n, err := strconv.Atoi(string(b[1 : 1+nd]))
	if err != nil || len(b) < 1+nd+n {
		return nil, nil, ErrBadBlock
	}
	start := 1 + nd
	return b[start : start+n], b[start+n:], nil
}

// WriteBlock sends header followed by data as a definite length binary block
func (s *SCPI) WriteBlock(header string, data []byte) error {
	return s.WriteBytes(append([]byte(header), EncodeBlock(data)...))
}

// WriteBytes sends b verbatim followed by the terminator.  Used for binary
// payloads, which may themselves end in a newline
func (s *SCPI) WriteBytes(b []byte) error {
	return s.lease(func(rw *comm.Terminator) error {
		msg := make([]byte, len(b), len(b)+1)
		copy(msg, b)
		_, err := rw.Write(append(msg, '\n'))
		return err
	})
}

// EncodeBlock prefixes data with a definite length block header
func EncodeBlock(data []byte) []byte {
	n := strconv.Itoa(len(data))
	out := make([]byte, 0, 2+len(n)+len(data))
	out = append(out, '#', byte('0'+len(n)))
	out = append(out, n...)
	return append(out, data...)
}

// Raw sends a command to the scope and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	if strings.Contains(str, "?") {
		resp, err := s.writeRead(false, str)
		return strings.TrimSpace(string(resp)), err
	}
	return "", s.write(false, str)
}

// Identify queries *IDN?
func (s *SCPI) Identify() (Identity, error) {
	resp, err := s.Raw("*IDN?")
	if err != nil {
		return Identity{}, err
	}
	return ParseIdentity(resp), nil
}

// Reset sends *RST
func (s *SCPI) Reset() error {
	return s.write(false, "*RST")
}

// Clear sends *CLS, clearing the status registers and error queue
func (s *SCPI) Clear() error {
	return s.write(false, "*CLS")
}

// WaitComplete blocks until the instrument reports all pending operations
// are complete.  Timeouts waiting for the reply are retried until ctx is done
func (s *SCPI) WaitComplete(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		resp, err := s.Raw("*OPC?")
		if err == nil {
			if strings.TrimPrefix(resp, "+") == "1" {
				return nil
			}
			continue
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			continue
		}
		return err
	}
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.Raw("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	return ParseError(str)
}

// AllErrors returns all errors from the device as a list.  A transport
// failure ends the list
func (s *SCPI) AllErrors() []error {
	var errs []error
	for i := 0; i < 100; i++ {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
		var derr DeviceError
		if !errors.As(err, &derr) {
			break
		}
	}
	return errs
}

// AllErrorsString is equivalent to AllErrors, but joining by newline
// if there were no errors, the error return value is nil, otherwise
// it is the first error in the list and has no particular meaning
func (s *SCPI) AllErrorsString() (string, error) {
	errs := s.AllErrors()
	if len(errs) == 0 {
		return "", nil
	}
	strs := make([]string, len(errs))
	for i := 0; i < len(errs); i++ {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "\n"), errs[0]
}
