package srs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnngroup/qnnlab/comm/commtest"
	"github.com/qnngroup/qnnlab/srs"
)

func TestSIM928SetVoltage(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{"VOLT?": "0.125"}))
	sim := srs.NewSIM900(inst.Pool()).Module(3)
	require.NoError(t, sim.SetVoltage(0.125))
	v, err := sim.GetVoltage()
	require.NoError(t, err)
	assert.Equal(t, 0.125, v)
	assert.Equal(t, []string{
		`CONN 3,"xyz"`, "VOLT 0.125", "xyz",
		`CONN 3,"xyz"`, "VOLT?",
	}, inst.Commands()[:5])
}

func TestSIM928Output(t *testing.T) {
	inst := commtest.New(commtest.Replies(map[string]string{"EXON?": "1"}))
	sim := srs.NewSIM900(inst.Pool()).Module(1)
	require.NoError(t, sim.SetOutput(true))
	on, err := sim.GetOutput()
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, inst.Received("OPON"))
}

func TestSIM928Limits(t *testing.T) {
	inst := commtest.New(nil)
	mf := srs.NewSIM900(inst.Pool())
	assert.Error(t, mf.Module(1).SetVoltage(25))
	_, err := mf.Do(9, "VOLT?", true)
	assert.Error(t, err)
}
