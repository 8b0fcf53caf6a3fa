package datafile_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnngroup/qnnlab/datafile"
)

var le = binary.LittleEndian

// matVar is one decoded miMATRIX element
type matVar struct {
	class      uint32
	rows, cols int
	name       string
	data       []byte
}

// readMat decodes the elements written by WriteMat
func readMat(t *testing.T, b []byte) []matVar {
	t.Helper()
	require.GreaterOrEqual(t, len(b), 128)
	require.Equal(t, "IM", string(b[126:128]))
	require.Equal(t, uint16(0x0100), le.Uint16(b[124:]))
	b = b[128:]
	sub := func(b []byte) (typ uint32, data, rest []byte) {
		typ, n := le.Uint32(b), int(le.Uint32(b[4:]))
		padded := n + (8-n%8)%8
		return typ, b[8 : 8+n], b[8+padded:]
	}
	var out []matVar
	for len(b) > 0 {
		typ, body, rest := sub(b)
		require.Equal(t, uint32(14), typ)
		b = rest
		var v matVar
		_, flags, body := sub(body)
		v.class = le.Uint32(flags)
		_, dims, body := sub(body)
		v.rows, v.cols = int(le.Uint32(dims)), int(le.Uint32(dims[4:]))
		_, name, body := sub(body)
		v.name = string(name)
		_, v.data, _ = sub(body)
		out = append(out, v)
	}
	return out
}

func doubles(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(le.Uint64(b[8*i:]))
	}
	return out
}

func TestWriteMat(t *testing.T) {
	m, err := datafile.NewMatrix([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	var buf bytes.Buffer
	err = datafile.WriteMat(&buf, map[string]interface{}{
		"V":    []float64{0.5, 1.5},
		"grid": m,
		"R":    10e3,
		"user": "qnn",
	})
	require.NoError(t, err)
	assert.Zero(t, buf.Len()%8)
	assert.True(t, strings.HasPrefix(buf.String(), "MATLAB 5.0 MAT-file"))

	vars := readMat(t, buf.Bytes())
	require.Len(t, vars, 4)
	// sorted by name: R V grid user
	assert.Equal(t, "R", vars[0].name)
	assert.Equal(t, []float64{10e3}, doubles(vars[0].data))

	assert.Equal(t, "V", vars[1].name)
	assert.Equal(t, 1, vars[1].rows)
	assert.Equal(t, 2, vars[1].cols)
	assert.Equal(t, []float64{0.5, 1.5}, doubles(vars[1].data))

	assert.Equal(t, "grid", vars[2].name)
	assert.Equal(t, uint32(6), vars[2].class)
	assert.Equal(t, []int{2, 3}, []int{vars[2].rows, vars[2].cols})
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, doubles(vars[2].data), "column major")

	assert.Equal(t, uint32(4), vars[3].class)
	assert.Equal(t, []byte{'q', 0, 'n', 0, 'n', 0}, vars[3].data)
}

func TestWriteMatRejects(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, datafile.WriteMat(&buf, map[string]interface{}{"1bad": 1.}))
	assert.Error(t, datafile.WriteMat(&buf, map[string]interface{}{"x": []int{1}}))
	_, err := datafile.NewMatrix([][]float64{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestValidName(t *testing.T) {
	assert.True(t, datafile.ValidName("Isw_2"))
	assert.False(t, datafile.ValidName("_x"))
	assert.False(t, datafile.ValidName("bias current"))
	assert.False(t, datafile.ValidName(strings.Repeat("a", 64)))
}

func TestMatName(t *testing.T) {
	for in, exp := range map[string]string{
		"Sample name":  "Sample_name",
		"param_I-bias": "param_I_bias",
		"2nd device":   "x2nd_device",
		"":             "x",
	} {
		got := datafile.MatName(in)
		assert.Equal(t, exp, got, in)
		assert.True(t, datafile.ValidName(got), got)
	}
	assert.Len(t, datafile.MatName(strings.Repeat("a", 100)), 63)
}

func TestLogAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temps.csv")
	hdr := []string{"time", "T"}
	l, err := datafile.OpenLog(path, hdr, 10)
	require.NoError(t, err)
	require.NoError(t, l.Append("t0", 4.2))
	require.NoError(t, l.Close())

	l, err = datafile.OpenLog(path, hdr, 1)
	require.NoError(t, err)
	require.NoError(t, l.Append("t1", 4.25))
	assert.Error(t, l.Append("too", "many", "values"))
	require.NoError(t, l.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "time,T\nt0,4.2\nt1,4.25\n", string(b))
}

func TestLogFlushEvery(t *testing.T) {
	var buf bytes.Buffer
	l, err := datafile.NewLog(&buf, []string{"a"}, 2)
	require.NoError(t, err)
	require.NoError(t, l.Append(1.))
	assert.Equal(t, "a\n", buf.String(), "first row still buffered")
	require.NoError(t, l.Append(2.))
	assert.Equal(t, "a\n1\n2\n", buf.String())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := datafile.WriteCSV(&buf, []string{"V", "I"}, [][]float64{{1, 2}, {1e-6}})
	require.NoError(t, err)
	assert.Equal(t, "V,I\n1,1e-06\n2,\n", buf.String())
}

func TestWriteFITS(t *testing.T) {
	m, err := datafile.NewMatrix([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	var buf bytes.Buffer
	cards := []fitsio.Card{{Name: "RECIPE", Value: "traces"}}
	require.NoError(t, datafile.WriteFITS(&buf, cards, m))

	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	img := f.HDU(0).(fitsio.Image)
	assert.Equal(t, []int{3, 2}, img.Header().Axes())
	assert.Equal(t, "traces", img.Header().Get("RECIPE").Value)
	data := make([]float64, 6)
	require.NoError(t, img.Read(&data))
	assert.Equal(t, m.Data, data)

	assert.Error(t, datafile.WriteFITS(&buf, nil, datafile.Matrix{}))
}
