/*
Package comm provides connection plumbing for communication with lab hardware.

Most usages of this package will boil down to:
 1. parse the instrument's resource string with ParseResource
 2. pick a CreationFunc for the transport (TCP, serial, GPIB adapter, USB)
 3. put the CreationFunc behind a Pool, and hand the Pool to a driver
 4. inside the driver, wrap each leased connection with NewTimeout and
    NewTerminator so replies are framed

A minimal example for a thermometer that responds to "KRDG? A" with the
current temperature:

	maker := comm.BackingOffTCPConnMaker("192.168.1.40:7777", time.Second)
	pool := comm.NewPool(1, time.Minute, maker)
	conn, err := pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	rw := comm.NewTerminator(conn, '\n', '\n')
	resp, err := rw.Query([]byte("KRDG? A"))
	...
*/
package comm

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

var (
	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// BackingOffTCPConnMaker returns a CreationFunc that dials addr over TCP,
// retrying with an exponential backoff.  Some instruments (LeCroy scopes,
// Prologix adapters) do not like being connection thrashed.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			c, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, errors.Wrapf(err, "connecting to %s", addr)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens an RS232 port
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.OpenPort(conf)
		if err != nil {
			return nil, errors.Wrapf(err, "opening serial port %s", conf.Name)
		}
		return port, nil
	}
}

// Terminator wraps a connection, appending the Tx terminator to writes
// and reading replies up to the Rx terminator
type Terminator struct {
	rw io.ReadWriter
	br *bufio.Reader
	tx byte
	rx byte
}

// NewTerminator creates a new Terminator around rw
func NewTerminator(rw io.ReadWriter, tx, rx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReader(rw), tx: tx, rx: rx}
}

// Write sends p to the remote with the Tx terminator appended if missing.
// The returned count does not include the terminator
func (t *Terminator) Write(p []byte) (int, error) {
	buf := p
	if len(buf) == 0 || buf[len(buf)-1] != t.tx {
		buf = make([]byte, len(p), len(p)+1)
		copy(buf, p)
		buf = append(buf, t.tx)
	}
	_, err := t.rw.Write(buf)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read reads a single terminated reply into p with the terminator stripped.
// If p is too small for the reply, io.ErrShortBuffer is returned
func (t *Terminator) Read(p []byte) (int, error) {
	line, err := t.ReadLine()
	if err != nil {
		return 0, err
	}
	if len(line) > len(p) {
		n := copy(p, line)
		return n, io.ErrShortBuffer
	}
	return copy(p, line), nil
}

// ReadLine reads a reply up to the Rx terminator and strips it, along with
// a trailing carriage return when the terminator is a line feed
func (t *Terminator) ReadLine() ([]byte, error) {
	buf, err := t.br.ReadBytes(t.rx)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return buf, err
	}
	buf = buf[:len(buf)-1]
	if t.rx == '\n' {
		buf = bytes.TrimSuffix(buf, []byte{'\r'})
	}
	return buf, nil
}

// Query writes p and reads one reply
func (t *Terminator) Query(p []byte) ([]byte, error) {
	if _, err := t.Write(p); err != nil {
		return nil, err
	}
	return t.ReadLine()
}

// Reader exposes the buffered reader so binary payloads can be consumed
// without losing bytes already buffered
func (t *Terminator) Reader() *bufio.Reader {
	return t.br
}

type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Timeout applies a fresh deadline before every Read and Write
type Timeout struct {
	rw      io.ReadWriter
	dl      deadliner
	timeout time.Duration
}

// NewTimeout wraps rw so that each operation must complete within timeout.
// If rw does not support deadlines (e.g. a serial port, which has its own
// read timeout) it is returned unchanged
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	dl, ok := rw.(deadliner)
	if !ok {
		return rw, nil
	}
	if timeout <= 0 {
		return nil, errors.Errorf("timeout must be positive, got %v", timeout)
	}
	return &Timeout{rw: rw, dl: dl, timeout: timeout}, nil
}

func (t *Timeout) Read(p []byte) (int, error) {
	if err := t.dl.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	return t.rw.Read(p)
}

func (t *Timeout) Write(p []byte) (int, error) {
	if err := t.dl.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	return t.rw.Write(p)
}

// RateLimited blocks writes so that the remote sees no more than the
// limiter's rate of commands
type RateLimited struct {
	io.ReadWriteCloser
	lim *rate.Limiter
}

// NewRateLimited wraps rwc, allowing perSecond writes per second with no burst
func NewRateLimited(rwc io.ReadWriteCloser, perSecond float64) *RateLimited {
	return &RateLimited{ReadWriteCloser: rwc, lim: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (r *RateLimited) Write(p []byte) (int, error) {
	if err := r.lim.Wait(context.Background()); err != nil {
		return 0, err
	}
	return r.ReadWriteCloser.Write(p)
}

// Acquire forwards to the wrapped connection if it is Leased
func (r *RateLimited) Acquire() error {
	if l, ok := r.ReadWriteCloser.(Leased); ok {
		return l.Acquire()
	}
	return nil
}

// Release forwards to the wrapped connection if it is Leased
func (r *RateLimited) Release() {
	if l, ok := r.ReadWriteCloser.(Leased); ok {
		l.Release()
	}
}

// SetReadDeadline forwards to the wrapped connection when it supports deadlines
func (r *RateLimited) SetReadDeadline(t time.Time) error {
	if dl, ok := r.ReadWriteCloser.(deadliner); ok {
		return dl.SetReadDeadline(t)
	}
	return nil
}

// SetWriteDeadline forwards to the wrapped connection when it supports deadlines
func (r *RateLimited) SetWriteDeadline(t time.Time) error {
	if dl, ok := r.ReadWriteCloser.(deadliner); ok {
		return dl.SetWriteDeadline(t)
	}
	return nil
}

// RateLimitedMaker decorates a CreationFunc so every connection it makes is rate limited
func RateLimitedMaker(maker CreationFunc, perSecond float64) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		rwc, err := maker()
		if err != nil {
			return nil, err
		}
		return NewRateLimited(rwc, perSecond), nil
	}
}
