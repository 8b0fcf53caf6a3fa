package gpib_test

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/gpib"
)

// fakeController records everything written to it and answers ++read with
// the next queued reply
type fakeController struct {
	mu      sync.Mutex
	written bytes.Buffer
	out     bytes.Buffer
	replies []string
	closed  bool
}

func (f *fakeController) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written.Write(p)
	if string(p) == "++read eoi\n" && len(f.replies) > 0 {
		f.out.WriteString(f.replies[0])
		f.replies = f.replies[1:]
	}
	return len(p), nil
}

func (f *fakeController) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Read(p)
}

func (f *fakeController) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeController) log() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func newBus(fc *fakeController) *gpib.Bus {
	return gpib.NewBus(func() (io.ReadWriteCloser, error) { return fc, nil })
}

func query(t *testing.T, pool *comm.Pool, cmd string) string {
	t.Helper()
	conn, err := pool.Get()
	require.NoError(t, err)
	defer pool.Put(conn)
	resp, err := comm.NewTerminator(conn, '\n', '\n').Query([]byte(cmd))
	require.NoError(t, err)
	return string(resp)
}

func TestEscape(t *testing.T) {
	got := gpib.Escape([]byte("VOLT +1\r\n"))
	assert.Equal(t, []byte("VOLT \x1b+1\x1b\r\x1b\n"), got)
}

func TestMakerRejectsBadAddress(t *testing.T) {
	bus := newBus(&fakeController{})
	_, err := bus.Maker(31, 0)()
	assert.Error(t, err)
	_, err = bus.Maker(5, 12)()
	assert.Error(t, err)
	_, err = bus.Maker(5, 96)()
	assert.NoError(t, err)
}

func TestDeviceQuery(t *testing.T) {
	fc := &fakeController{replies: []string{"KEITHLEY INSTRUMENTS INC.,MODEL 2400,1234,C30\n"}}
	bus := newBus(fc)
	pool := comm.NewPool(1, time.Second, bus.Maker(24, 0))
	resp := query(t, pool, "*IDN?")
	assert.Equal(t, "KEITHLEY INSTRUMENTS INC.,MODEL 2400,1234,C30", resp)

	log := fc.log()
	for _, cmd := range []string{"++mode 1\n", "++auto 0\n", "++eoi 1\n", "++addr 24\n", "*IDN?\n", "++read eoi\n"} {
		assert.Contains(t, log, cmd)
	}
	assert.Less(t, strings.Index(log, "++addr 24"), strings.Index(log, "*IDN?"), "instrument addressed before the query")
}

func TestSharedBusReaddresses(t *testing.T) {
	fc := &fakeController{replies: []string{"1.0\n", "2.0\n", "3.0\n", "4.0\n"}}
	bus := newBus(fc)
	smu := comm.NewPool(1, time.Second, bus.Maker(24, 0))
	dmm := comm.NewPool(1, time.Second, bus.Maker(16, 0))

	assert.Equal(t, "1.0", query(t, smu, "READ?"))
	assert.Equal(t, "2.0", query(t, smu, "READ?"))
	assert.Equal(t, "3.0", query(t, dmm, "READ?"))
	assert.Equal(t, "4.0", query(t, smu, "READ?"))

	log := fc.log()
	assert.Equal(t, 2, strings.Count(log, "++addr 24\n"), "re-addressed only after the DMM took the bus")
	assert.Equal(t, 1, strings.Count(log, "++addr 16\n"))
}

func TestWriteEscapesPayload(t *testing.T) {
	fc := &fakeController{}
	bus := newBus(fc)
	pool := comm.NewPool(1, time.Second, bus.Maker(5, 0))
	conn, err := pool.Get()
	require.NoError(t, err)
	_, err = comm.NewTerminator(conn, '\n', '\n').Write([]byte(":SOUR:VOLT +1.5"))
	require.NoError(t, err)
	pool.Put(conn)
	assert.Contains(t, fc.log(), ":SOUR:VOLT \x1b+1.5\n")
}

func TestBusClose(t *testing.T) {
	fc := &fakeController{replies: []string{"0\n"}}
	bus := newBus(fc)
	pool := comm.NewPool(1, time.Second, bus.Maker(5, 0))
	query(t, pool, "*OPC?")
	require.NoError(t, bus.Close())
	assert.True(t, fc.closed)
	assert.Contains(t, fc.log(), "++loc\n")
}
