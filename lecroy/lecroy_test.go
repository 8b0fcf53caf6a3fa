package lecroy_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnngroup/qnnlab/comm/commtest"
	"github.com/qnngroup/qnnlab/lecroy"
	"github.com/qnngroup/qnnlab/scpi"
)

// waveDesc builds a little endian WAVEDESC block followed by 16 bit samples
func waveDesc(gain, offset, dt float32, t0 float64, samples []int16) []byte {
	const descLen = 346
	b := make([]byte, descLen+2*len(samples))
	copy(b, "WAVEDESC")
	le := binary.LittleEndian
	le.PutUint16(b[32:], 1) // COMM_TYPE word
	le.PutUint16(b[34:], 1) // COMM_ORDER little endian
	le.PutUint32(b[36:], descLen)
	le.PutUint32(b[60:], uint32(2*len(samples)))
	le.PutUint32(b[116:], uint32(len(samples)))
	le.PutUint32(b[156:], math.Float32bits(gain))
	le.PutUint32(b[160:], math.Float32bits(offset))
	le.PutUint32(b[176:], math.Float32bits(dt))
	le.PutUint64(b[180:], math.Float64bits(t0))
	for i, s := range samples {
		le.PutUint16(b[descLen+2*i:], uint16(s))
	}
	return b
}

func TestDecodeWaveform(t *testing.T) {
	raw := waveDesc(0.5, 0.25, 1e-9, -5e-9, []int16{-2, 0, 4})
	wav, err := lecroy.DecodeWaveform("C1", append([]byte("ALL,"), raw...))
	require.NoError(t, err)
	assert.InDelta(t, 1e-9, wav.DT, 1e-15)
	assert.Equal(t, -5e-9, wav.T0)
	assert.Equal(t, []float64{-1.25, -0.25, 1.75}, wav.Channels["C1"].Physical())
}

func TestDecodeWaveformBigEndianBytes(t *testing.T) {
	const descLen = 346
	b := make([]byte, descLen+3)
	copy(b, "WAVEDESC")
	be := binary.BigEndian
	be.PutUint16(b[32:], 0) // byte samples
	be.PutUint16(b[34:], 0) // big endian
	be.PutUint32(b[36:], descLen)
	be.PutUint32(b[60:], 3)
	be.PutUint32(b[156:], math.Float32bits(2))
	be.PutUint32(b[176:], math.Float32bits(1e-6))
	b[descLen], b[descLen+1], b[descLen+2] = 0xff, 0, 1
	wav, err := lecroy.DecodeWaveform("C2", b)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, 0, 2}, wav.Channels["C2"].Physical())
}

func TestDecodeWaveformErrors(t *testing.T) {
	_, err := lecroy.DecodeWaveform("C1", []byte("garbage"))
	assert.Equal(t, lecroy.ErrNoDescriptor, err)
	raw := waveDesc(1, 0, 1, 0, []int16{1, 2, 3})
	_, err = lecroy.DecodeWaveform("C1", raw[:len(raw)-2])
	assert.Error(t, err, "truncated data")
}

func TestWaveformOverSCPI(t *testing.T) {
	raw := waveDesc(1e-3, 0, 2e-10, 0, []int16{100, 200})
	block := string(scpi.EncodeBlock(raw))
	inst := commtest.New(func(cmd string) string {
		if cmd == "C3:WF? ALL" {
			return "ALL," + block + "\n"
		}
		return ""
	})
	scope := lecroy.NewScope(inst.Pool())
	wav, err := scope.Waveform("C3")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.1, 0.2}, wav.Channels["C3"].Physical(), 1e-9)
}

func TestWaitForTrigger(t *testing.T) {
	polls := 0
	inst := commtest.New(func(cmd string) string {
		if cmd == "VBS? 'return=app.Acquisition.TriggerMode'" {
			polls++
			if polls < 3 {
				return "Single\n"
			}
			return "Stopped\n"
		}
		return ""
	})
	scope := lecroy.NewScope(inst.Pool())
	scope.PollInterval = time.Millisecond
	require.NoError(t, scope.WaitForTrigger(context.Background()))
	assert.Equal(t, 3, polls)
}

func TestWaitForTriggerCancel(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{
		"VBS? 'return=app.Acquisition.TriggerMode'": "Single",
	}))
	scope := lecroy.NewScope(inst.Pool())
	scope.PollInterval = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, scope.WaitForTrigger(ctx))
}

func TestGetParameter(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{
		"VBS? 'return=app.Measure.P1.Out.Result.Value'": "VBS 3.5E-09",
	}))
	scope := lecroy.NewScope(inst.Pool())
	v, err := scope.GetParameter(1)
	require.NoError(t, err)
	assert.Equal(t, 3.5e-9, v)
}

func TestVICPFraming(t *testing.T) {
	client, remote := net.Pipe()
	v := lecroy.NewVICP(client)
	defer v.Close()
	go func() {
		hdr := make([]byte, 8)
		remote.Read(hdr)
		body := make([]byte, binary.BigEndian.Uint32(hdr[4:]))
		remote.Read(body)
		// reply split across two VICP blocks
		for _, part := range []string{"LECROY,", "WR8254\n"} {
			out := []byte{0x81, 1, 1, 0, 0, 0, 0, 0}
			binary.BigEndian.PutUint32(out[4:], uint32(len(part)))
			remote.Write(append(out, part...))
		}
	}()
	_, err := v.Write([]byte("*IDN?\n"))
	require.NoError(t, err)
	var got bytes.Buffer
	buf := make([]byte, 64)
	for !bytes.HasSuffix(got.Bytes(), []byte("\n")) {
		n, err := v.Read(buf)
		require.NoError(t, err)
		got.Write(buf[:n])
	}
	assert.Equal(t, "LECROY,WR8254\n", got.String())
}

func TestConfigure(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{
		"VBS? 'return=app.Acquisition.TriggerMode'": "Auto",
	}))
	scope := lecroy.NewScope(inst.Pool())
	require.NoError(t, scope.Configure())
	_, err := scope.GetTriggerMode()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"COMM_HEADER OFF",
		"COMM_FORMAT DEF9,WORD,BIN",
		"COMM_ORDER LO",
		"VBS? 'return=app.Acquisition.TriggerMode'",
	}, inst.Commands())
}

func TestAcquireWaveform(t *testing.T) {
	c1 := string(scpi.EncodeBlock(waveDesc(1e-3, 0, 1e-9, -2e-9, []int16{10, 20})))
	c2 := string(scpi.EncodeBlock(waveDesc(2e-3, 0, 1e-9, -2e-9, []int16{-5, 5})))
	inst := commtest.New(func(cmd string) string {
		switch cmd {
		case "VBS? 'return=app.Acquisition.TriggerMode'":
			return "Stopped\n"
		case "C1:WF? ALL":
			return "ALL," + c1 + "\n"
		case "C2:WF? ALL":
			return "ALL," + c2 + "\n"
		}
		return ""
	})
	scope := lecroy.NewScope(inst.Pool())
	scope.PollInterval = time.Millisecond
	wav, err := scope.AcquireWaveform(context.Background(), []string{"C1", "C2"})
	require.NoError(t, err)
	assert.True(t, inst.Received(`VBS 'app.Acquisition.TriggerMode = "Single"'`))
	assert.Equal(t, -2e-9, wav.T0)
	assert.InDeltaSlice(t, []float64{0.01, 0.02}, wav.Channels["C1"].Physical(), 1e-9)
	assert.InDeltaSlice(t, []float64{-0.01, 0.01}, wav.Channels["C2"].Physical(), 1e-9)
}

func TestScreenshot(t *testing.T) {
	img := "\x89PNG\r\n\x1a\n" + "pixels" + "IEND\xaeB`\x82"
	inst := commtest.New(func(cmd string) string {
		if cmd == "SCDP" {
			// some firmware emits a short preamble before the image
			return "#9" + img
		}
		return ""
	})
	scope := lecroy.NewScope(inst.Pool())
	var out bytes.Buffer
	require.NoError(t, scope.Screenshot(&out))
	assert.Equal(t, img, out.String())
	cmds := inst.Commands()
	require.Len(t, cmds, 2)
	assert.Contains(t, cmds[0], "HCSU DEV, PNG")
}
