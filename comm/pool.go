package comm

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrPoolClosed is returned by Get after Close has been called
var ErrPoolClosed = errors.New("connection pool is closed")

// Leased is implemented by connections that share an underlying resource
// with other connections (several GPIB instruments behind one adapter).
// Acquire is called when the connection is handed out by Get, and must not
// hold anything if it fails.  Release is called when it comes back.
type Leased interface {
	Acquire() error
	Release()
}

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
//
// A pool of size 1 serializes all access to an instrument, which is what
// nearly every driver in this module wants.
type Pool struct {
	maxSize int                  // maximum number of connections
	onLease int                  // number of connections given out (or being made), <= maxSize
	timeout time.Duration        // time after all connections are returned to free them
	idle    []io.ReadWriteCloser // connections ready to be handed out
	timer   *time.Timer          // fires reclaim after the pool goes idle
	maker   CreationFunc
	closed  bool

	mu sync.Mutex
	// freed is signaled whenever a slot or idle connection becomes available,
	// and broadcast on Close
	freed *sync.Cond
}

// NewPool creates a new pool holding at most maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		maker:   maker,
	}
	p.freed = sync.NewCond(&p.mu)
	p.timer = time.AfterFunc(timeout, p.reclaim)
	p.timer.Stop() // nothing to close initially
	return p
}

// Get retrieves a connection, blocking until one is available if all are in use.
// It is guaranteed that there is no contention for the connection.
//
// When done with the connection, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).  ReturnWithError
// chooses between the two.
//
// If the error from Get is not nil, you must not return the connection
// to the pool.
func (p *Pool) Get() (io.ReadWriteCloser, error) {
	c, err := p.get()
	if err != nil {
		return nil, err
	}
	if l, ok := c.(Leased); ok {
		if err := l.Acquire(); err != nil {
			c.Close()
			p.release()
			return nil, err
		}
	}
	return c, nil
}

func (p *Pool) get() (io.ReadWriteCloser, error) {
	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		p.timer.Stop()
		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.onLease++
			p.mu.Unlock()
			return c, nil
		}
		if p.onLease < p.maxSize {
			// reserve the slot before dialing so concurrent Gets cannot overfill
			p.onLease++
			p.mu.Unlock()
			c, err := p.maker()
			if err != nil {
				p.release()
				return nil, err
			}
			return c, nil
		}
		// all are given out, wait for a connection or a slot to come back
		p.freed.Wait()
	}
}

// release gives up a slot without returning a connection to the pool
func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	p.freed.Signal()
}

// Put restores a connection to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(rwc io.ReadWriteCloser) {
	if l, ok := rwc.(Leased); ok {
		l.Release()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	if p.closed {
		rwc.Close()
		return
	}
	p.idle = append(p.idle, rwc)
	p.freed.Signal()
	if p.onLease == 0 {
		p.timer.Reset(p.timeout)
	}
}

// Destroy immediately frees a connection from the pool.  This should be used
// instead of Put if the connection has gone bad.  A Get waiting on the pool
// will dial a replacement.
func (p *Pool) Destroy(rwc io.ReadWriteCloser) {
	rwc.Close()
	if l, ok := rwc.(Leased); ok {
		l.Release()
	}
	p.release()
}

// ReturnWithError returns the connection to the pool if err is nil or an
// error reported by the instrument itself, and destroys it if the error came
// from the transport (timeouts, resets, EOF)
func (p *Pool) ReturnWithError(rwc io.ReadWriteCloser, err error) {
	if rwc == nil {
		return
	}
	if IsTransportError(err) {
		p.Destroy(rwc)
		return
	}
	p.Put(rwc)
}

// IsTransportError returns true if err indicates the connection itself is no good
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrShortBuffer) || errors.Is(err, ErrTerminatorNotFound) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close frees all idle connections and causes future Gets to fail, including
// those already waiting.  Connections on lease are closed as they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.timer.Stop()
	p.freed.Broadcast()
	var first error
	for _, c := range p.idle {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.idle = nil
	return first
}

// reclaim closes every idle connection, if the pool is still idle
func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLease != 0 {
		return
	}
	for _, c := range p.idle {
		c.Close()
	}
	p.idle = nil
}
