package controller

import (
	"testing"
	"time"

	"github.com/TheCacophonyProject/walkingpad-controller/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPadConfig(t *testing.T) {
	c := DefaultPadConfig()
	require.NoError(t, c.Session().Validate())
	assert.Equal(t, session.DefaultConfig(), c.Session())

	w := c.Web()
	assert.Equal(t, ":5000", w.Address)
	assert.Equal(t, 0.6, w.StepKmh)
	assert.Equal(t, 4.5, w.SlowWalkKmh)
	assert.Equal(t, 6.0, w.MaxKmh)
}

func TestPadConfigOverrides(t *testing.T) {
	c := DefaultPadConfig()
	c.DeviceName = "KS-ST-A1P"
	c.MaxSpeedKmh = 8
	c.PollInterval = 2 * time.Second
	c.HTTPAddress = "127.0.0.1:8080"

	s := c.Session()
	assert.Equal(t, "KS-ST-A1P", s.DeviceName)
	assert.Equal(t, 8.0, s.MaxSpeedKmh)
	assert.Equal(t, 2*time.Second, s.PollInterval)
	// Not configurable, so still the default.
	assert.Equal(t, 5*time.Second, s.AddressTimeout)

	w := c.Web()
	assert.Equal(t, "127.0.0.1:8080", w.Address)
	assert.Equal(t, 8.0, w.MaxKmh)
}

func TestPadConfigValidation(t *testing.T) {
	c := DefaultPadConfig()
	c.MinSpeedKmh = 7
	assert.Error(t, c.Session().Validate())

	c = DefaultPadConfig()
	c.ResumeKmh = 0.5
	assert.Error(t, c.Session().Validate())
}
