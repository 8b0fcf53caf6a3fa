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
	"github.com/qnngroup/qnnlab/mathx"
)

// setupCounter arms the counter for totalizing over gate seconds with the
// trigger at level
func setupCounter(counter instruments.PhotonCounter, gate, level float64) error {
	if gate <= 0 {
		return errors.Errorf("gate time must be positive, got %g", gate)
	}
	if err := counter.SetupTotalize(settle(gate)); err != nil {
		return err
	}
	return counter.SetTriggerLevel(level)
}

// PhotonCounts measures the count rate of a detector versus bias.  atten
// may be nil unless p.Dark is set, in which case the sweep is repeated with
// the light blocked to measure dark counts
func PhotonCounts(ctx context.Context, src instruments.VoltageSource, counter instruments.PhotonCounter, atten instruments.Attenuator, p config.PhotonCounts, opt Options) (*Result, error) {
	res := NewResult("Photon Counts")
	if p.R <= 0 {
		return res, errors.Errorf("series resistance must be positive, got %g", p.R)
	}
	if p.Dark && atten == nil {
		return res, errors.Wrap(instruments.ErrRoleMissing, "dark counts need an attenuator")
	}
	if err := setupCounter(counter, p.Gate, p.TriggerLevel); err != nil {
		return res, err
	}
	if atten != nil {
		if err := atten.SetAttenuation(p.Attenuation); err != nil {
			return res, err
		}
		if err := atten.SetEnabled(true); err != nil {
			return res, err
		}
		res.Scalars["attenuation"] = p.Attenuation
	}
	bias := mathx.Linspace(p.Start, p.Stop, p.Steps)
	passes := []string{"counts"}
	if p.Dark {
		passes = append(passes, "dark_counts")
	}
	res.Scalars["R"] = p.R
	res.Scalars["gate"] = p.Gate
	res.Scalars["trigger_level"] = p.TriggerLevel
	res.SetColumn("V_source", bias)
	res.SetColumn("I_bias", scale(bias, 1/p.R))

	r := newRun(res.Recipe, len(passes)*len(bias), opt)
	err := src.SetOutput(true)
	for _, pass := range passes {
		if err != nil {
			break
		}
		if pass == "dark_counts" {
			if err = atten.SetEnabled(false); err != nil {
				break
			}
		}
		err = biasLoop(ctx, r, src, bias, p.Settle, func() (float64, error) {
			return counter.Counts(ctx)
		}, func(counts float64, ok bool) {
			res.Append(pass, nanIf(ok, counts))
			res.Append(pass+"_rate", nanIf(ok, counts/p.Gate))
		})
	}
	if p.Dark {
		err = multierr.Append(err, atten.SetEnabled(true))
	}
	err = multierr.Append(err, src.SetVoltage(0))
	res.Finished = time.Now()
	return res, r.finish(err)
}

// biasLoop sets each bias in turn, waits, and calls measure.  record is
// called for every step, with ok false if the step failed
func biasLoop(ctx context.Context, r *run, src instruments.VoltageSource, bias []float64, settleSecs float64, measure func() (float64, error), record func(x float64, ok bool)) error {
	for i, v := range bias {
		if err := ctx.Err(); err != nil {
			return err
		}
		var x float64
		ok, err := r.step(ctx, i, v, func() error {
			if err := src.SetVoltage(v); err != nil {
				return err
			}
			if err := sleep(ctx, settle(settleSecs)); err != nil {
				return err
			}
			var err error
			x, err = measure()
			return err
		})
		record(x, ok)
		if err != nil {
			return err
		}
	}
	return nil
}

func scale(x []float64, k float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * k
	}
	return out
}

// TriggerSweep records counts over a grid of counter trigger levels and
// bias voltages.  The grid "counts" has one row per trigger level
func TriggerSweep(ctx context.Context, src instruments.VoltageSource, counter instruments.PhotonCounter, p config.TriggerSweep, opt Options) (*Result, error) {
	res := NewResult("Trigger Sweep")
	if p.R <= 0 {
		return res, errors.Errorf("series resistance must be positive, got %g", p.R)
	}
	levels := mathx.Linspace(p.LevelStart, p.LevelStop, p.LevelSteps)
	bias := mathx.Linspace(p.BiasStart, p.BiasStop, p.BiasSteps)
	if len(levels) == 0 || len(bias) == 0 {
		return res, errors.New("trigger sweep needs at least one level and one bias")
	}
	if err := setupCounter(counter, p.Gate, levels[0]); err != nil {
		return res, err
	}
	res.Scalars["R"] = p.R
	res.Scalars["gate"] = p.Gate
	res.SetColumn("trigger_level", levels)
	res.SetColumn("V_source", bias)
	res.SetColumn("I_bias", scale(bias, 1/p.R))
	grid := datafile.Matrix{Rows: len(levels), Cols: len(bias), Data: make([]float64, len(levels)*len(bias))}
	for i := range grid.Data {
		grid.Data[i] = math.NaN()
	}

	r := newRun(res.Recipe, len(levels)*len(bias), opt)
	err := src.SetOutput(true)
	for j, v := range bias {
		if err != nil {
			break
		}
		if err = src.SetVoltage(v); err != nil {
			err = errors.Wrapf(err, "setting bias %g", v)
			break
		}
		if err = sleep(ctx, settle(p.Settle)); err != nil {
			break
		}
		for i, level := range levels {
			var counts float64
			var ok bool
			ok, err = r.step(ctx, j*len(levels)+i, level, func() error {
				if err := counter.SetTriggerLevel(level); err != nil {
					return err
				}
				var err error
				counts, err = counter.Counts(ctx)
				return err
			})
			grid.Data[i*grid.Cols+j] = nanIf(ok, counts)
			if err != nil {
				break
			}
		}
	}
	res.Grids["counts"] = grid
	err = multierr.Append(err, src.SetVoltage(0))
	res.Finished = time.Now()
	return res, r.finish(err)
}
