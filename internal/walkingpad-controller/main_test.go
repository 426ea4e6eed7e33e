package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcArgs(t *testing.T) {
	args, err := procArgs([]string{"service", "--simulate", "--http-address", ":8080"})
	require.NoError(t, err)
	require.NotNil(t, args.Service)
	assert.True(t, args.Service.Simulate)
	assert.Equal(t, ":8080", args.Service.HTTPAddress)
	assert.Nil(t, args.Ctl)

	args, err = procArgs([]string{"ctl", "speed", "--kmh", "3.5"})
	require.NoError(t, err)
	require.NotNil(t, args.Ctl)
	require.NotNil(t, args.Ctl.Speed)
	assert.Equal(t, 3.5, args.Ctl.Speed.Kmh)

	args, err = procArgs([]string{"find"})
	require.NoError(t, err)
	assert.NotNil(t, args.Find)

	_, err = procArgs([]string{"ctl", "speed"})
	assert.Error(t, err)
}

func TestRunCtlNeedsCommand(t *testing.T) {
	assert.Error(t, runCtl(&Ctl{}))
}
