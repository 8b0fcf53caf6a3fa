package lakeshore_test

import (
	"testing"

	"github.com/qnngroup/qnnlab/comm/commtest"
	"github.com/qnngroup/qnnlab/lakeshore"
)

func TestReadKelvin(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{"KRDG? A": "+004.215\r"}))
	c := lakeshore.NewController(inst.Pool())
	k, err := c.ReadKelvin("A")
	if err != nil {
		t.Fatal(err)
	}
	if k != 4.215 {
		t.Errorf("expected 4.215 K, got %v", k)
	}
}

func TestPID(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{"PID? 1": "+0050.0,+0020.0,+000.0"}))
	c := lakeshore.NewController(inst.Pool())
	pid, err := c.PID(1)
	if err != nil {
		t.Fatal(err)
	}
	if pid != (lakeshore.PID{P: 50, I: 20, D: 0}) {
		t.Errorf("unexpected PID %+v", pid)
	}
}

func TestHeaterStatus(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{"HTRST? 1": "1", "HTRST? 2": "7"}))
	c := lakeshore.NewController(inst.Pool())
	s, err := c.HeaterStatus(1)
	if err != nil || s != "OPEN" {
		t.Errorf("expected OPEN, got %q (%v)", s, err)
	}
	if _, err = c.HeaterStatus(2); err == nil {
		t.Error("expected error for unknown status code")
	}
}

func TestSetSetpoint(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{"SETP? 1": "+1.5000"}))
	c := lakeshore.NewController(inst.Pool())
	if err := c.SetSetpoint(1, 1.5); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Setpoint(1); err != nil {
		t.Fatal(err)
	}
	if !inst.Received("SETP 1,1.5") {
		t.Errorf("setpoint not sent, got %v", inst.Commands())
	}
}

func TestParseReadingStatus(t *testing.T) {
	table := []struct {
		code int
		exp  lakeshore.ReadingStatus
	}{
		{0, lakeshore.ReadingStatus{}},
		{1, lakeshore.ReadingStatus{InvalidReading: true}},
		{16, lakeshore.ReadingStatus{TempUnderRange: true}},
		{160, lakeshore.ReadingStatus{TempOverRange: true, SensorOverRange: true}},
	}
	for _, tt := range table {
		got := lakeshore.ParseReadingStatus(tt.code)
		if got != tt.exp {
			t.Errorf("code %d: expected %+v, got %+v", tt.code, tt.exp, got)
		}
	}
	if !lakeshore.ParseReadingStatus(0).OK() {
		t.Error("zero status should be OK")
	}
}

func TestHeaterOutput(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{"HTR? 1": "+042.50"}))
	c := lakeshore.NewController(inst.Pool())
	out, err := c.HeaterOutput(1)
	if err != nil {
		t.Fatal(err)
	}
	if out != 42.5 {
		t.Errorf("expected 42.5 %%, got %g", out)
	}
}
