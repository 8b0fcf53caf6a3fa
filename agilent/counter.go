package agilent

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/scpi"
)

// Counter is a 53131A universal counter used to totalize detector pulses
type Counter struct {
	scpi.SCPI

	gate time.Duration
}

// NewCounter creates a new counter using pool for communication
func NewCounter(pool *comm.Pool) *Counter {
	return &Counter{SCPI: scpi.SCPI{Pool: pool, Timeout: 30 * time.Second}, gate: 100 * time.Millisecond}
}

// SetupTotalize resets the counter and configures channel 1 to count
// rising edges for gate, AC coupled into 50 ohms
func (c *Counter) SetupTotalize(gate time.Duration) error {
	if gate <= 0 {
		return errors.Errorf("gate time must be positive, got %v", gate)
	}
	for _, cmd := range []string{
		"*RST",
		"*CLS",
		":EVEN1:HYST:REL 100",
		":FUNC 'TOT 1'",
		":TOT:ARM:STAR:SOUR IMM",
		":TOT:ARM:STOP:SOUR TIM",
		fmt.Sprintf(":TOT:ARM:STOP:TIM %g", gate.Seconds()),
		":INP1:COUP AC",
		":INP1:IMP 50",
	} {
		if err := c.Write(cmd); err != nil {
			return errors.Wrap(err, "totalize setup")
		}
	}
	c.gate = gate
	return nil
}

// Gate returns the totalize gate time
func (c *Counter) Gate() time.Duration {
	return c.gate
}

// SetTriggerLevel sets the absolute trigger level of channel 1 in volts
func (c *Counter) SetTriggerLevel(volts float64) error {
	return c.Write(fmt.Sprintf(":EVEN1:LEV:ABS %0.3f", volts))
}

// GetTriggerLevel returns the trigger level of channel 1 in volts
func (c *Counter) GetTriggerLevel() (float64, error) {
	return c.ReadFloat(":EVEN1:LEV:ABS?")
}

// SetImpedance sets the input impedance, 50 or 1e6 ohms
func (c *Counter) SetImpedance(ohms float64) error {
	switch ohms {
	case 50, 1e6:
		return c.Write(fmt.Sprintf(":INP1:IMP %g", ohms))
	}
	return errors.Errorf("impedance must be 50 or 1e6 ohms, got %g", ohms)
}

// Counts totalizes for one gate period and returns the number of counts
func (c *Counter) Counts(ctx context.Context) (float64, error) {
	if err := c.Write(":INIT:IMM"); err != nil {
		return 0, err
	}
	if err := c.WaitComplete(ctx); err != nil {
		return 0, err
	}
	return c.ReadFloat(":FETC?")
}

// CountsPerSecond totalizes for one gate period and returns the count rate
func (c *Counter) CountsPerSecond(ctx context.Context) (float64, error) {
	n, err := c.Counts(ctx)
	if err != nil {
		return 0, err
	}
	return n / c.gate.Seconds(), nil
}
