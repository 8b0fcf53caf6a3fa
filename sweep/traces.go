package sweep

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/datafile"
	"github.com/qnngroup/qnnlab/instruments"
)

// setupPulse drives channel 1 of awg with the pulse described by p
func setupPulse(awg instruments.WaveformGenerator, p config.PulseTraces) error {
	if err := awg.SetWaveform(1, "PULSE"); err != nil {
		return err
	}
	if err := awg.SetFrequency(1, p.PulseFrequency); err != nil {
		return err
	}
	if err := awg.SetAmplitude(1, p.PulseAmplitude); err != nil {
		return err
	}
	if ps, ok := awg.(instruments.PulseShaper); ok && p.PulseWidth > 0 {
		if err := ps.SetPulseWidth(1, p.PulseWidth); err != nil {
			return err
		}
	}
	return awg.SetOutput(1, true)
}

// PulseTraces captures p.Traces single shot acquisitions of each channel in
// p.Channels.  src and awg may be nil.  With src the device is biased at
// p.Bias first; with awg and a pulse frequency the generator drives the
// pulse input.  Each channel is stored as a grid traces_<channel> with one
// row per trace, and the sample times as the column time
func PulseTraces(ctx context.Context, src instruments.VoltageSource, scope instruments.Oscilloscope, awg instruments.WaveformGenerator, p config.PulseTraces, opt Options) (*Result, error) {
	res := NewResult("Pulse Traces")
	if p.Traces < 1 || len(p.Channels) == 0 {
		return res, errors.New("pulse traces needs at least one trace and one channel")
	}
	if src != nil {
		if err := src.SetVoltage(p.Bias); err != nil {
			return res, err
		}
		if err := src.SetOutput(true); err != nil {
			return res, err
		}
		res.Scalars["V_bias"] = p.Bias
		if p.R > 0 {
			res.Scalars["I_bias"] = p.Bias / p.R
		}
	}
	if awg != nil && p.PulseFrequency > 0 {
		if err := setupPulse(awg, p); err != nil {
			return res, errors.Wrap(err, "configuring pulse generator")
		}
	}
	if err := scope.SetTriggerSource(p.TriggerSource); err != nil {
		return res, err
	}
	if err := scope.SetTriggerLevel(p.TriggerSource, p.TriggerLevel); err != nil {
		return res, err
	}
	if err := sleep(ctx, settle(p.Settle)); err != nil {
		return res, err
	}

	// rows[ch][n] stays nil for a failed trace until the record length is known
	rows := map[string][][]float64{}
	for _, ch := range p.Channels {
		rows[ch] = make([][]float64, 0, p.Traces)
	}
	points := -1
	r := newRun(res.Recipe, p.Traces, opt)
	var err error
	for n := 0; n < p.Traces; n++ {
		got := map[string][]float64{}
		var ok bool
		ok, err = r.step(ctx, n, float64(n), func() error {
			if err := scope.SetTriggerMode("Single"); err != nil {
				return err
			}
			if err := scope.WaitForTrigger(ctx); err != nil {
				return err
			}
			for _, ch := range p.Channels {
				wav, err := scope.Waveform(ch)
				if err != nil {
					return err
				}
				c, have := wav.Channels[ch]
				if !have {
					return errors.Errorf("scope returned no data for %s", ch)
				}
				y := c.Physical()
				if points < 0 {
					points = len(y)
					res.SetColumn("time", wav.Times(points))
					res.Scalars["dt"] = wav.DT
				}
				if len(y) != points {
					return errors.Errorf("%s record length changed from %d to %d", ch, points, len(y))
				}
				got[ch] = y
			}
			return nil
		})
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			break
		}
		res.Append("trace_ok", boolFloat(ok))
		for _, ch := range p.Channels {
			var y []float64
			if ok {
				y = got[ch]
			}
			rows[ch] = append(rows[ch], y)
		}
		if err != nil {
			break
		}
	}
	for _, ch := range p.Channels {
		if points < 0 {
			// no trace succeeded, trace_ok records the failures
			break
		}
		for n := range rows[ch] {
			if rows[ch][n] == nil {
				rows[ch][n] = nanRow(points)
			}
		}
		m, merr := datafile.NewMatrix(rows[ch])
		if merr != nil {
			err = multierr.Append(err, merr)
			continue
		}
		res.Grids["traces_"+ch] = m
	}
	if src != nil {
		err = multierr.Append(err, src.SetVoltage(0))
	}
	if awg != nil && p.PulseFrequency > 0 {
		err = multierr.Append(err, awg.SetOutput(1, false))
	}
	res.Finished = time.Now()
	return res, r.finish(err)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func nanRow(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
