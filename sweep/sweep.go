/*
Package sweep runs measurement recipes against the instruments of a Set.

Each recipe steps through a list of setpoints, waits for the setup to
settle, takes a reading and accumulates the results into a Result, which
can be saved as a .mat file.  Recipes check their context between steps.

A failed step stops the recipe, and the partial Result is returned together
with a *StepError.  With Options.ContinueOnError the step's readings are
recorded as NaN instead, and every failure is still returned once the
recipe finishes.
*/
package sweep

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/qnngroup/qnnlab/util"
)

// ErrCompliance is returned when the source hits its compliance limit.  It
// always stops a recipe
var ErrCompliance = errors.New("source in compliance")

// StepError is a failure at one step of a recipe
type StepError struct {
	Step     int
	Setpoint float64
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (setpoint %g): %v", e.Step, e.Setpoint, e.Err)
}

// Unwrap returns the underlying error
func (e *StepError) Unwrap() error {
	return e.Err
}

// Options alters how recipes handle errors and report progress
type Options struct {
	// ContinueOnError records NaN for a failed step and carries on
	ContinueOnError bool

	// Progress, if not nil, is called after every step
	Progress func(done, total int)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// settle converts a config delay in seconds
func settle(secs float64) time.Duration {
	return util.SecsToDuration(secs)
}

// run tracks the steps of one recipe
type run struct {
	recipe string
	opt    Options
	total  int
	done   int
	errs   error
}

func newRun(recipe string, total int, opt Options) *run {
	log.Info().Str("recipe", recipe).Int("steps", total).Msg("starting")
	return &run{recipe: recipe, opt: opt, total: total}
}

// step runs f for one setpoint.  ok is false if f failed.  err is non nil
// when the recipe must stop
func (r *run) step(ctx context.Context, i int, setpoint float64, f func() error) (ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ferr := f()
	r.done++
	if r.opt.Progress != nil {
		r.opt.Progress(r.done, r.total)
	}
	if ferr == nil {
		log.Debug().Str("recipe", r.recipe).Int("step", i).Float64("setpoint", setpoint).Msg("step")
		return true, nil
	}
	serr := &StepError{Step: i, Setpoint: setpoint, Err: ferr}
	if ctx.Err() != nil && errors.Is(ferr, ctx.Err()) {
		return false, ferr
	}
	log.Error().Err(ferr).Str("recipe", r.recipe).Int("step", i).Float64("setpoint", setpoint).Msg("step failed")
	if r.opt.ContinueOnError && !errors.Is(ferr, ErrCompliance) {
		r.errs = multierr.Append(r.errs, serr)
		return false, nil
	}
	return false, serr
}

// finish combines the errors collected along the way with the one that
// ended the recipe, if any
func (r *run) finish(err error) error {
	err = multierr.Append(r.errs, err)
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("recipe", r.recipe).Int("done", r.done).Int("steps", r.total).Msg("finished")
	return err
}

// nanIf returns NaN when a step failed
func nanIf(ok bool, v float64) float64 {
	if !ok {
		return math.NaN()
	}
	return v
}

// repeat concatenates n copies of x
func repeat(x []float64, n int) []float64 {
	if n < 1 {
		n = 1
	}
	out := make([]float64, 0, n*len(x))
	for i := 0; i < n; i++ {
		out = append(out, x...)
	}
	return out
}
