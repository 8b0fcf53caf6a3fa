package sweep

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/datafile"
	"github.com/qnngroup/qnnlab/instruments"
)

// Reading is one sample of every logged channel
type Reading struct {
	Time   time.Time          `json:"time"`
	Kelvin map[string]float64 `json:"kelvin"`
}

// TemperatureHeader is the CSV header of a temperature log
func TemperatureHeader(p config.TemperatureLog) []string {
	return append([]string{"time"}, p.Channels...)
}

// Publisher receives each Reading as it is taken
type Publisher interface {
	Set(Reading)
}

// Latest holds the most recent Reading for concurrent readers
type Latest struct {
	mu sync.RWMutex
	r  Reading
}

// Set replaces the reading
func (l *Latest) Set(r Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r = r
}

// Get returns the reading
func (l *Latest) Get() Reading {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.r
}

// ReadTemperatures reads every channel once.  Channels that fail are NaN and
// their errors are returned together
func ReadTemperatures(therm instruments.Thermometer, channels []string) (Reading, error) {
	r := Reading{Time: time.Now(), Kelvin: map[string]float64{}}
	var errs []error
	for _, ch := range channels {
		k, err := therm.ReadKelvin(ch)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "channel %s", ch))
			r.Kelvin[ch] = math.NaN()
			continue
		}
		r.Kelvin[ch] = float64(k)
	}
	return r, multierr.Combine(errs...)
}

// TemperatureLog reads every channel each p.Interval seconds, appending a
// row to out and publishing the reading to pub, which may be nil.  A
// failed read is logged and recorded as NaN; the loop runs until ctx is
// done.  A failure to write the log ends it
func TemperatureLog(ctx context.Context, therm instruments.Thermometer, p config.TemperatureLog, out *datafile.Log, pub Publisher) error {
	if p.Interval <= 0 {
		return errors.Errorf("log interval must be positive, got %g", p.Interval)
	}
	if len(p.Channels) == 0 {
		return errors.New("no channels to log")
	}
	tick := time.NewTicker(settle(p.Interval))
	defer tick.Stop()
	log.Info().Strs("channels", p.Channels).Float64("interval", p.Interval).Msg("logging temperatures")
	for {
		r, err := ReadTemperatures(therm, p.Channels)
		if err != nil {
			log.Error().Err(err).Msg("reading temperature")
		}
		if pub != nil {
			pub.Set(r)
		}
		row := []interface{}{r.Time}
		for _, ch := range p.Channels {
			row = append(row, r.Kelvin[ch])
		}
		if err := out.Append(row...); err != nil {
			return errors.Wrap(err, "writing temperature log")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}
