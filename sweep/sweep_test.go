package sweep_test

import (
	"bytes"
	"context"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/datafile"
	"github.com/qnngroup/qnnlab/instruments"
	"github.com/qnngroup/qnnlab/oscilloscope"
	"github.com/qnngroup/qnnlab/sweep"
)

// flakyMeter fails on its failAt'th read
type flakyMeter struct {
	instruments.VoltMeter
	failAt, n int
}

func (f *flakyMeter) ReadVoltage() (float64, error) {
	f.n++
	if f.n == f.failAt {
		return 0, errors.New("read timed out")
	}
	return f.VoltMeter.ReadVoltage()
}

// compliantSource hits compliance from 0.45 V
type compliantSource struct {
	instruments.MockSource
}

func (c compliantSource) InCompliance() (bool, error) {
	v, err := c.GetVoltage()
	return v >= 0.45, err
}

func ivParams() config.IVCurve {
	return config.IVCurve{Stop: 1, Steps: 11, Sweeps: 1, R: 100e3, Threshold: 1e-3}
}

func TestIVSweepFindsSwitchingCurrent(t *testing.T) {
	bench := instruments.NewMockBench()
	bench.Wire.Isw = 7.5e-6
	set := bench.Set()
	src, _ := set.Source()
	meter, _ := set.Meter()
	var calls int
	opt := sweep.Options{Progress: func(done, total int) { calls++ }}

	res, err := sweep.IVSweep(context.Background(), src, meter, ivParams(), opt)
	require.NoError(t, err)
	assert.Len(t, res.Columns["V_source"], 11)
	assert.Len(t, res.Columns["I_device"], 11)
	assert.Equal(t, 11, calls)
	assert.InDelta(t, 7e-6, res.Scalars["Isw"], 1e-12)
	assert.Zero(t, res.Columns["V_device"][0])
	assert.InDelta(t, 1/1.1, res.Columns["V_device"][10], 1e-9)

	v, _ := src.GetVoltage()
	assert.Zero(t, v, "source left at zero")
	assert.Equal(t, []string{"V_source", "V_device", "I_device"}, res.ColumnNames())
}

func TestIVSweepStopsOnError(t *testing.T) {
	bench := instruments.NewMockBench()
	set := bench.Set()
	src, _ := set.Source()
	meter, _ := set.Meter()

	res, err := sweep.IVSweep(context.Background(), src, &flakyMeter{VoltMeter: meter, failAt: 3}, ivParams(), sweep.Options{})
	var serr *sweep.StepError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, 2, serr.Step)
	assert.InDelta(t, 0.2, serr.Setpoint, 1e-12)
	require.Len(t, res.Columns["V_device"], 3, "partial data returned")
	assert.True(t, math.IsNaN(res.Columns["V_device"][2]))
}

func TestIVSweepContinueOnError(t *testing.T) {
	bench := instruments.NewMockBench()
	set := bench.Set()
	src, _ := set.Source()
	meter, _ := set.Meter()

	res, err := sweep.IVSweep(context.Background(), src, &flakyMeter{VoltMeter: meter, failAt: 3}, ivParams(), sweep.Options{ContinueOnError: true})
	require.Error(t, err, "failures are reported even when continuing")
	assert.Len(t, multierr.Errors(err), 1)
	require.Len(t, res.Columns["V_device"], 11)
	assert.True(t, math.IsNaN(res.Columns["I_device"][2]))
	assert.False(t, math.IsNaN(res.Columns["I_device"][3]))
}

func TestIVSweepCompliance(t *testing.T) {
	bench := instruments.NewMockBench()
	src := compliantSource{instruments.MockSource{Nanowire: bench.Wire}}
	meter := instruments.MockMeter{Nanowire: bench.Wire}

	res, err := sweep.IVSweep(context.Background(), src, meter, ivParams(), sweep.Options{ContinueOnError: true})
	assert.True(t, errors.Is(err, sweep.ErrCompliance))
	assert.Len(t, res.Columns["V_source"], 6)
}

func TestIVSweepCanceled(t *testing.T) {
	bench := instruments.NewMockBench()
	set := bench.Set()
	src, _ := set.Source()
	meter, _ := set.Meter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := sweep.IVSweep(ctx, src, meter, ivParams(), sweep.Options{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, res.Columns["V_source"])
}

func TestPhotonCountsDark(t *testing.T) {
	bench := instruments.NewMockBench()
	set := bench.Set()
	src, _ := set.Source()
	counter, _ := set.Counter()
	atten, _ := set.Attenuator()
	p := config.PhotonCounts{Start: 0.5, Stop: 0.75, Steps: 3, R: 100e3, Gate: 0.5, Dark: true}

	res, err := sweep.PhotonCounts(context.Background(), src, counter, atten, p, sweep.Options{})
	require.NoError(t, err)
	require.Len(t, res.Columns["counts"], 3)
	require.Len(t, res.Columns["dark_counts"], 3)
	assert.InDelta(t, 7.5e-6, res.Columns["I_bias"][2], 1e-15)
	for i := range res.Columns["counts"] {
		assert.Greater(t, res.Columns["counts"][i], res.Columns["dark_counts"][i])
		assert.Equal(t, res.Columns["counts"][i]/0.5, res.Columns["counts_rate"][i])
	}
	on, _ := atten.GetEnabled()
	assert.True(t, on, "light restored after dark counts")

	_, err = sweep.PhotonCounts(context.Background(), src, counter, nil, p, sweep.Options{})
	assert.True(t, errors.Is(err, instruments.ErrRoleMissing))
}

func TestTriggerSweepGrid(t *testing.T) {
	bench := instruments.NewMockBench()
	set := bench.Set()
	src, _ := set.Source()
	counter, _ := set.Counter()
	p := config.TriggerSweep{
		BiasStart: 0.6, BiasStop: 0.7, BiasSteps: 2,
		LevelStart: 0.1, LevelStop: 0.5, LevelSteps: 5,
		R: 100e3, Gate: 0.1,
	}
	res, err := sweep.TriggerSweep(context.Background(), src, counter, p, sweep.Options{})
	require.NoError(t, err)
	grid := res.Grids["counts"]
	require.Equal(t, 5, grid.Rows)
	require.Equal(t, 2, grid.Cols)
	assert.Greater(t, grid.At(0, 1), 0.)
	assert.Zero(t, grid.At(4, 1), "level above pulse height counts nothing")
	assert.Greater(t, grid.At(0, 1), grid.At(0, 0), "efficiency rises with bias")
}

func TestS21Sweep(t *testing.T) {
	vna := instruments.NewMockVNA()
	p := config.S21{Start: 5.99e9, Stop: 6.01e9, Points: 401, Powers: []float64{-60, -20}, Averages: 1}
	res, err := sweep.S21Sweep(context.Background(), vna, p, sweep.Options{})
	require.NoError(t, err)
	require.Len(t, res.Columns["f0"], 2)
	for _, f0 := range res.Columns["f0"] {
		assert.InDelta(t, 6e9, f0, 100e3)
	}
	db := res.Grids["S21_dB"]
	assert.Equal(t, 2, db.Rows)
	assert.Equal(t, 401, db.Cols)
	assert.InDelta(t, 20*math.Log10(0.5), db.At(0, 200), 0.01)
	assert.Len(t, res.Columns["frequency"], 401)
}

func TestPulseTraces(t *testing.T) {
	bench := instruments.NewMockBench()
	set := bench.Set()
	src, _ := set.Source()
	scope, _ := set.Scope()
	awg, _ := set.AWG()
	p := config.PulseTraces{
		Bias: 0.7, R: 100e3, Traces: 3, Channels: []string{"C1", "C2"},
		TriggerSource: "C1", TriggerLevel: 0.05,
		PulseFrequency: 1e3, PulseAmplitude: 0.5, PulseWidth: 1e-6,
	}
	res, err := sweep.PulseTraces(context.Background(), src, scope, awg, p, sweep.Options{})
	require.NoError(t, err)
	for _, ch := range p.Channels {
		g := res.Grids["traces_"+ch]
		assert.Equal(t, 3, g.Rows)
		assert.Equal(t, 2000, g.Cols)
	}
	assert.Len(t, res.Columns["time"], 2000)
	assert.Equal(t, "PULSE", bench.AWG.Shapes[1])
	assert.Equal(t, 1e-6, bench.AWG.Settings[1]["width"])
	assert.False(t, bench.AWG.Outputs[1], "pulse output switched off afterwards")
	assert.InDelta(t, 7e-6, res.Scalars["I_bias"], 1e-15)
}

func TestPulseTracesTriggerTooHigh(t *testing.T) {
	bench := instruments.NewMockBench()
	p := config.PulseTraces{Traces: 2, Channels: []string{"C1"}, TriggerSource: "C1", TriggerLevel: 1}
	res, err := sweep.PulseTraces(context.Background(), nil, bench.Scope, nil, p, sweep.Options{ContinueOnError: true})
	assert.Len(t, multierr.Errors(err), 2)
	assert.Empty(t, res.Grids)
	assert.Equal(t, []float64{0, 0}, res.Columns["trace_ok"])
}

// flakyScope fails to transfer a waveform on its failAt'th call
type flakyScope struct {
	instruments.Oscilloscope
	failAt, n int
}

func (f *flakyScope) Waveform(ch string) (oscilloscope.Waveform, error) {
	f.n++
	if f.n == f.failAt {
		return oscilloscope.Waveform{}, errors.New("transfer timed out")
	}
	return f.Oscilloscope.Waveform(ch)
}

func TestPulseTracesLeadingFailureKeepsRow(t *testing.T) {
	bench := instruments.NewMockBench()
	scope := &flakyScope{Oscilloscope: bench.Scope, failAt: 1}
	p := config.PulseTraces{Traces: 3, Channels: []string{"C1"}, TriggerSource: "C1", TriggerLevel: 0.05}
	res, err := sweep.PulseTraces(context.Background(), nil, scope, nil, p, sweep.Options{ContinueOnError: true})
	require.Len(t, multierr.Errors(err), 1)
	var serr *sweep.StepError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 0, serr.Step)

	g := res.Grids["traces_C1"]
	require.Equal(t, 3, g.Rows)
	assert.True(t, math.IsNaN(g.At(0, 0)), "failed leading trace is a NaN row")
	assert.False(t, math.IsNaN(g.At(1, 0)))
	assert.Equal(t, []float64{0, 1, 1}, res.Columns["trace_ok"])
}

func TestResultSave(t *testing.T) {
	res := sweep.NewResult("IV Curve")
	res.Append("V", 1)
	res.Append("V", 2)
	res.Append("I", 1e-6)
	res.Scalars["R"] = 10
	m, err := datafile.NewMatrix([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	res.Grids["counts"] = m
	dir := t.TempDir()

	path, err := res.Save(dir, "W1_D1_IV_20240101_000000")
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, []byte("MATLAB 5.0 MAT-file")))

	path, err = res.SaveCSV(dir, "iv")
	require.NoError(t, err)
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "V,I\n1,1e-06\n2,\n", string(b))

	paths, err := res.SaveFITS(dir, "iv")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.True(t, strings.HasSuffix(paths[0], "iv_counts.fits"))
}

func TestResultParameters(t *testing.T) {
	res := sweep.NewResult("S21")
	res.SetParameters(map[string]interface{}{
		"Points": 401, "IF Bandwidth": 1e3, "Powers": []float64{-60, -20},
		"Channels": []string{"A", "B"}, "Average": true,
	})
	res.Describe("Sample name", "W1")
	vars := res.Variables()
	assert.Equal(t, 401.0, vars["param_Points"])
	assert.Equal(t, 1e3, vars["param_IF_Bandwidth"])
	assert.Equal(t, 1.0, vars["param_Average"])
	assert.Equal(t, "A,B", vars["param_Channels"])
	assert.Equal(t, "[-60 -20]", vars["param_Powers"])
	assert.Equal(t, "W1", vars["Sample_name"])
}

func TestTemperatureLog(t *testing.T) {
	therm := instruments.MockThermometer{Kelvin: 4.2}
	p := config.TemperatureLog{Channels: []string{"A", "B"}, Interval: 0.01}
	var buf bytes.Buffer
	out, err := datafile.NewLog(&buf, sweep.TemperatureHeader(p), 1)
	require.NoError(t, err)
	latest := &sweep.Latest{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, sweep.TemperatureLog(ctx, therm, p, out, latest))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "time,A,B", lines[0])
	assert.GreaterOrEqual(t, len(lines), 3)
	assert.True(t, strings.HasSuffix(lines[1], ",4.2,4.2"))
	assert.Equal(t, 4.2, latest.Get().Kelvin["B"])
}

func TestReadTemperaturesRecordsNaN(t *testing.T) {
	r, err := sweep.ReadTemperatures(instruments.MockThermometer{Kelvin: 4.2}, []string{"A", ""})
	assert.Error(t, err)
	assert.Equal(t, 4.2, r.Kelvin["A"])
	assert.True(t, math.IsNaN(r.Kelvin[""]))
}
