// Package cryocon provides utilities for working with Cryo-con temperature
// monitors.  Supports model 12, 14, 18i and maybe more
package cryocon

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/scpi"
	"github.com/qnngroup/qnnlab/temperature"
)

// ParseTemperature converts a response looking like "250.123124;K" into
// kelvin.  Unpopulated channels ("--", "..", blank) return NaN
func ParseTemperature(resp string) (temperature.Kelvin, error) {
	resp = strings.TrimSpace(resp)
	if resp == "" || strings.Contains(resp, "--") || strings.Contains(resp, "..") {
		return temperature.Unknown, nil
	}
	pieces := strings.Split(resp, ";")
	if len(pieces) != 2 {
		return 0, errors.Errorf("cryocon: malformed reading %q", resp)
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(pieces[0]), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "cryocon: parsing %q", resp)
	}
	k, err := temperature.ToKelvin(t, pieces[1])
	return k, errors.Wrap(err, "cryocon")
}

// TemperatureMonitor models a Model 12, 14 or 18i temperature monitor
type TemperatureMonitor struct {
	scpi.SCPI
}

// NewTemperatureMonitor creates a new temperature monitor using pool
func NewTemperatureMonitor(pool *comm.Pool) *TemperatureMonitor {
	return &TemperatureMonitor{scpi.SCPI{Pool: pool}}
}

// Channels is the number of inputs of the monitor, from the model number
// in its identification.  It looks something like
//
//	Cryocon Model 12/14 Rev <firmware rev code><hardware rev code>
func (tm *TemperatureMonitor) Channels() (int, error) {
	id, err := tm.ReadString("*IDN?")
	if err != nil {
		return 0, err
	}
	switch {
	case strings.Contains(id, "Model 12"):
		return 2, nil
	case strings.Contains(id, "Model 14"):
		return 4, nil
	}
	return 8, nil
}

// ReadKelvin reads the temperature on a channel, A through H or 0 through 7
func (tm *TemperatureMonitor) ReadKelvin(ch string) (temperature.Kelvin, error) {
	s, err := tm.ReadString(fmt.Sprintf("INP %s:TEMP?;UNIT?", ch))
	if err != nil {
		return 0, err
	}
	return ParseTemperature(s)
}

// ReadAllChannels reads every channel of the monitor.  Unpopulated
// channels are NaN
func (tm *TemperatureMonitor) ReadAllChannels() ([]temperature.Kelvin, error) {
	n, err := tm.Channels()
	if err != nil {
		return nil, err
	}
	out := make([]temperature.Kelvin, 0, n)
	for ch := 0; ch < n; ch++ {
		resp, err := tm.ReadString(fmt.Sprintf("INP %d:TEMP?;UNIT?", ch))
		if err != nil {
			return out, err
		}
		if resp == "NAK" {
			break // past the last channel
		}
		t, err := ParseTemperature(resp)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}
