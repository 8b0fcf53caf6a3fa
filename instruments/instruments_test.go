package instruments_test

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/qnngroup/qnnlab/comm/commtest"
	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/instruments"
	"github.com/qnngroup/qnnlab/mathx"
)

func TestLookupAliases(t *testing.T) {
	table := map[string]string{
		"Keithley2400":   "Keithley2400",
		"keithley-2400":  "Keithley2400",
		"KEITHLEY_2700":  "Keithley2700",
		"SIM928":         "SIM928",
		"LeCroy620Zi":    "LeCroy",
		"LeCroy":         "LeCroy",
		"KeysightN5224a": "KeysightN5224a",
		"Agilent53131a":  "Agilent53131a",
		"Agilent8157a":   "Agilent8157a",
		"BK4060":         "BK4060",
		"Lakeshore336":   "Lakeshore336",
		"Agilent33250a":  "Agilent33250a",
	}
	for name, exp := range table {
		typ, err := instruments.Lookup(name)
		if assert.NoError(t, err, name) {
			assert.Equal(t, exp, typ.Name, name)
		}
	}
	_, err := instruments.Lookup("Tektronix3000")
	assert.True(t, errors.Is(err, instruments.ErrUnknownInstrument))
	assert.Contains(t, instruments.Types(), "SIM928")
}

func TestOpenMock(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mock = true
	cfg.Source = &config.Instrument{Name: "SIM928"}
	cfg.Meter = &config.Instrument{Name: "Keithley2700"}
	set, err := instruments.Open(context.Background(), cfg, instruments.Options{})
	require.NoError(t, err)
	defer set.Close()

	assert.Equal(t, []string{config.RoleSource, config.RoleMeter}, set.Roles())
	src, err := set.Source()
	require.NoError(t, err)
	require.NoError(t, src.SetVoltage(0.5))
	_, err = set.Meter()
	assert.NoError(t, err)

	_, err = set.Counter()
	assert.True(t, errors.Is(err, instruments.ErrRoleMissing))
}

func TestOpenReportsEveryFailure(t *testing.T) {
	cfg := config.Defaults()
	cfg.Source = &config.Instrument{Name: "Keithley2700", Port: "127.0.0.1:1"}
	cfg.Counter = &config.Instrument{Name: "NoSuchCounter", Port: "127.0.0.1:1"}
	cfg.Scope = &config.Instrument{Name: "LeCroy", Port: "GPIB0::5"}
	set, err := instruments.Open(context.Background(), cfg, instruments.Options{})
	require.Error(t, err)
	require.NotNil(t, set)
	assert.Empty(t, set.Roles())

	errs := multierr.Errors(err)
	require.Len(t, errs, 3)
	var cerr *instruments.ConnectError
	require.True(t, errors.As(errs[0], &cerr))
	assert.Equal(t, config.RoleSource, cerr.Role)
	assert.True(t, errors.Is(errs[0], instruments.ErrWrongRole))
	assert.True(t, errors.Is(errs[1], instruments.ErrUnknownInstrument))
	assert.Contains(t, errs[2].Error(), "gpib_adapter")

	set, err = instruments.Open(context.Background(), cfg, instruments.Options{Strict: true})
	assert.Error(t, err)
	assert.Nil(t, set)
}

func TestOpenOverTCP(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{
		"*IDN?":         "KEITHLEY INSTRUMENTS INC.,MODEL 2700,1234567,B09",
		"MEAS:VOLT:DC?": "+1.500000E-03VDC",
	}))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go inst.Serve(l)

	cfg := config.Defaults()
	cfg.Meter = &config.Instrument{Name: "keithley2700", Port: l.Addr().String()}
	set, err := instruments.Open(context.Background(), cfg, instruments.Options{Strict: true})
	require.NoError(t, err)
	meter, err := set.Meter()
	require.NoError(t, err)
	v, err := meter.ReadVoltage()
	require.NoError(t, err)
	assert.Equal(t, 1.5e-3, v)

	require.NoError(t, set.Close())
	_, err = set.Meter()
	assert.Equal(t, instruments.ErrNotConnected, err)
}

func TestOpenConfiguresScope(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{
		"*IDN?": "LECROY,WR8254M,LCRY1234,9.2.0",
	}))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go inst.Serve(l)

	cfg := config.Defaults()
	cfg.Scope = &config.Instrument{Name: "LeCroy620Zi", Port: l.Addr().String()}
	set, err := instruments.Open(context.Background(), cfg, instruments.Options{Strict: true})
	require.NoError(t, err)
	defer set.Close()
	require.Eventually(t, func() bool { return inst.Received("COMM_ORDER LO") }, time.Second, 5*time.Millisecond)
	assert.True(t, inst.Received("COMM_HEADER OFF"))
	assert.True(t, inst.Received("COMM_FORMAT DEF9,WORD,BIN"))
}

func TestOpenCanceled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mock = true
	cfg.Source = &config.Instrument{Name: "SIM928"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := instruments.Open(ctx, cfg, instruments.Options{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMockNanowireSwitches(t *testing.T) {
	bench := instruments.NewMockBench()
	src := instruments.MockSource{Nanowire: bench.Wire}
	meter := instruments.MockMeter{Nanowire: bench.Wire}
	require.NoError(t, src.SetOutput(true))

	require.NoError(t, src.SetVoltage(0.5)) // 5 uA, below Isw
	v, _ := meter.ReadVoltage()
	assert.Zero(t, v)

	require.NoError(t, src.SetVoltage(1)) // 10 uA
	v, _ = meter.ReadVoltage()
	assert.InDelta(t, 1*1e6/1.1e6, v, 1e-9)
}

func TestMockCounterDark(t *testing.T) {
	bench := instruments.NewMockBench()
	set := bench.Set()
	src, _ := set.Source()
	counter, _ := set.Counter()
	atten, _ := set.Attenuator()
	ctx := context.Background()
	require.NoError(t, src.SetOutput(true))
	require.NoError(t, src.SetVoltage(0.75))
	light, err := counter.Counts(ctx)
	require.NoError(t, err)
	require.NoError(t, atten.SetEnabled(false))
	dark, err := counter.Counts(ctx)
	require.NoError(t, err)
	assert.Greater(t, light, 1000*dark)
	assert.Greater(t, dark, 0.)
}

func TestMockResonator(t *testing.T) {
	vna := instruments.NewMockVNA()
	require.NoError(t, vna.SetStartFrequency(5.99e9))
	require.NoError(t, vna.SetStopFrequency(6.01e9))
	require.NoError(t, vna.SetPoints(2001))
	require.NoError(t, vna.SetPower(-60))
	f, err := vna.Frequencies()
	require.NoError(t, err)
	re, im, err := vna.RealImag()
	require.NoError(t, err)
	mag := mathx.Magnitude(re, im)
	i := mathx.ArgMin(mag)
	assert.InDelta(t, 6e9, f[i], 20e3)
	assert.InDelta(t, 0.5, mag[i], 1e-3)
	assert.False(t, math.IsNaN(mag[0]))
}
