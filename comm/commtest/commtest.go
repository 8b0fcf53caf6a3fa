// Package commtest provides a scripted fake instrument for testing drivers
// without hardware.
package commtest

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/qnngroup/qnnlab/comm"
)

// Instrument is an in-memory instrument.  Every newline terminated command
// it receives is recorded, and Reply is consulted for the response.
type Instrument struct {
	mu       sync.Mutex
	commands []string
	raw      bytes.Buffer

	// Reply returns the response to a command, including its terminator.
	// An empty string sends nothing back
	Reply func(cmd string) string
}

// New creates an Instrument answering with reply
func New(reply func(cmd string) string) *Instrument {
	return &Instrument{Reply: reply}
}

// Replies returns a Reply func answering from a fixed table, appending a
// newline to each answer.  Commands not in the table get no reply
func Replies(table map[string]string) func(string) string {
	return func(cmd string) string {
		if resp, ok := table[cmd]; ok {
			return resp + "\n"
		}
		return ""
	}
}

// Dial makes a new connection to the instrument
func (i *Instrument) Dial() (io.ReadWriteCloser, error) {
	client, remote := net.Pipe()
	go i.serve(remote)
	return client, nil
}

// Pool returns a single connection pool to the instrument
func (i *Instrument) Pool() *comm.Pool {
	return comm.NewPool(1, time.Minute, i.Dial)
}

func (i *Instrument) serve(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadBytes('\n')
		if err != nil {
			return
		}
		i.mu.Lock()
		i.raw.Write(line)
		cmd := strings.TrimSpace(string(line))
		i.commands = append(i.commands, cmd)
		reply := i.Reply
		i.mu.Unlock()
		if reply == nil {
			continue
		}
		if resp := reply(cmd); resp != "" {
			if _, err := io.WriteString(conn, resp); err != nil {
				return
			}
		}
	}
}

// SetReply replaces the Reply func
func (i *Instrument) SetReply(reply func(cmd string) string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Reply = reply
}

// Commands returns every command received so far, terminators stripped
func (i *Instrument) Commands() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.commands))
	copy(out, i.commands)
	return out
}

// Raw returns every byte received so far
func (i *Instrument) Raw() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]byte(nil), i.raw.Bytes()...)
}

// Received reports whether cmd was received
func (i *Instrument) Received(cmd string) bool {
	for _, c := range i.Commands() {
		if c == cmd {
			return true
		}
	}
	return false
}

// Serve answers every connection accepted on l until l is closed
func (i *Instrument) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go i.serve(conn)
	}
}
