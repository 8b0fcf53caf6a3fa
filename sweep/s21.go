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

// S21Sweep measures the transmission of a resonator at each power in
// p.Powers.  Grids hold one row per power; f0 holds the frequency of
// minimum |S21| at each power
func S21Sweep(ctx context.Context, vna instruments.NetworkAnalyzer, p config.S21, opt Options) (*Result, error) {
	res := NewResult("S21")
	if len(p.Powers) == 0 || p.Points < 1 {
		return res, errors.New("S21 sweep needs at least one power and one point")
	}
	setup := []func() error{
		vna.ConfigureS21,
		func() error { return vna.SetStartFrequency(p.Start) },
		func() error { return vna.SetStopFrequency(p.Stop) },
		func() error { return vna.SetPoints(p.Points) },
		func() error { return vna.SetIFBandwidth(p.IFBandwidth) },
		func() error { return vna.SetAverages(p.Averages) },
		func() error { return vna.SetOutput(true) },
	}
	for _, f := range setup {
		if err := f(); err != nil {
			return res, errors.Wrap(err, "configuring network analyzer")
		}
	}
	res.SetColumn("power", p.Powers)
	res.Scalars["IF_bandwidth"] = p.IFBandwidth
	rows := len(p.Powers)
	grids := map[string]*datafile.Matrix{}
	for _, name := range []string{"S21_real", "S21_imag", "S21_dB", "S21_phase"} {
		m := datafile.Matrix{Rows: rows, Cols: p.Points, Data: make([]float64, rows*p.Points)}
		for i := range m.Data {
			m.Data[i] = math.NaN()
		}
		grids[name] = &m
	}

	r := newRun(res.Recipe, rows, opt)
	var err error
	for i, power := range p.Powers {
		var re, im []float64
		var ok bool
		ok, err = r.step(ctx, i, power, func() error {
			if err := vna.SetPower(power); err != nil {
				return err
			}
			if err := vna.Sweep(ctx); err != nil {
				return err
			}
			if _, have := res.Columns["frequency"]; !have {
				f, err := vna.Frequencies()
				if err != nil {
					return err
				}
				res.SetColumn("frequency", f)
			}
			var err error
			re, im, err = vna.RealImag()
			if err == nil && len(re) != p.Points {
				err = errors.Errorf("analyzer returned %d points, expected %d", len(re), p.Points)
			}
			return err
		})
		f0 := math.NaN()
		if ok {
			mag := mathx.Magnitude(re, im)
			phase := mathx.PhaseDeg(re, im)
			for j := range re {
				k := i*p.Points + j
				grids["S21_real"].Data[k] = re[j]
				grids["S21_imag"].Data[k] = im[j]
				grids["S21_dB"].Data[k] = mathx.DB20(mag[j])
				grids["S21_phase"].Data[k] = phase[j]
			}
			if freqs := res.Columns["frequency"]; len(freqs) == len(mag) {
				f0 = freqs[mathx.ArgMin(mag)]
			}
		}
		res.Append("f0", f0)
		if err != nil {
			break
		}
	}
	for name, m := range grids {
		res.Grids[name] = *m
	}
	err = multierr.Append(err, vna.SetOutput(false))
	res.Finished = time.Now()
	return res, r.finish(err)
}
