package sweep

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/instruments"
	"github.com/qnngroup/qnnlab/mathx"
)

// complianceChecker is a source that reports hitting its compliance limit
type complianceChecker interface {
	InCompliance() (bool, error)
}

// IVSweep measures the current-voltage curve of a device biased by src
// through the series resistance p.R.  At each step the source is set, the
// meter reads the device voltage V and the current is (Vsource-V)/R.  The
// switching current, the first current at which V jumps by more than
// p.Threshold, is stored as Isw
func IVSweep(ctx context.Context, src instruments.VoltageSource, meter instruments.VoltMeter, p config.IVCurve, opt Options) (*Result, error) {
	res := NewResult("IV Curve")
	if p.R <= 0 {
		return res, errors.Errorf("series resistance must be positive, got %g", p.R)
	}
	volts := repeat(mathx.SweepList(p.Start, p.Stop, p.Steps, p.ReturnSweep, p.Bidirectional), p.Sweeps)
	res.Scalars["R"] = p.R
	cc, _ := src.(complianceChecker)

	r := newRun(res.Recipe, len(volts), opt)
	err := src.SetOutput(true)
	if err == nil {
		err = biasLoop(ctx, r, src, volts, p.Settle, func() (float64, error) {
			if cc != nil {
				in, err := cc.InCompliance()
				if err != nil {
					return 0, err
				}
				if in {
					return 0, ErrCompliance
				}
			}
			return meter.ReadVoltage()
		}, func(vdev float64, ok bool) {
			v := volts[len(res.Columns["V_source"])]
			res.Append("V_source", v)
			res.Append("V_device", nanIf(ok, vdev))
			res.Append("I_device", nanIf(ok, (v-vdev)/p.R))
		})
	}
	// leave the device unbiased
	err = multierr.Append(err, src.SetVoltage(0))
	res.Finished = time.Now()
	res.Scalars["Isw"] = mathx.CriticalCurrent(res.Columns["I_device"], res.Columns["V_device"], p.Threshold)
	return res, r.finish(err)
}
