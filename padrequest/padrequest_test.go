package padrequest

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusVariants(t *testing.T) {
	s := Status{
		Connection: "connected",
		Session:    "running",
		SessionID:  "a3c1",
		SpeedKmh:   3.5,
		DistanceKm: 1.25,
		Steps:      1800,
	}
	got, err := FromVariants(s.ToVariants())
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestStatusMissingAndBadValues(t *testing.T) {
	got, err := FromVariants(map[string]dbus.Variant{"connection": dbus.MakeVariant("failed")})
	require.NoError(t, err)
	assert.Equal(t, Status{Connection: "failed"}, got)

	_, err = FromVariants(map[string]dbus.Variant{"steps": dbus.MakeVariant("many")})
	assert.Error(t, err)
}
