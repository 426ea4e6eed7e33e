package bluez

import (
	"testing"

	"github.com/TheCacophonyProject/walkingpad-controller/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandFrames(t *testing.T) {
	assert.Equal(t, []byte{0xf7, 0xa2, 0x00, 0x00, 0xa2, 0xfd}, askStatsFrame())
	assert.Equal(t, []byte{0xf7, 0xa2, 0x04, 0x01, 0xa7, 0xfd}, startBeltFrame())
	assert.Equal(t, []byte{0xf7, 0xa2, 0x02, 0x01, 0xa5, 0xfd}, setModeFrame(device.ModeManual))

	f, err := setSpeedFrame(25)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xf7, 0xa2, 0x01, 0x19, 0xbc, 0xfd}, f)

	// Checksum wraps.
	f, err = setSpeedFrame(0x60)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), f[4])

	_, err = setSpeedFrame(300)
	assert.Error(t, err)
}

func statusFrame(speed byte, distance, steps uint32) []byte {
	f := []byte{
		0xf8, 0xa2,
		0x01, speed, 0x01,
		0x00, 0x01, 0x2c,
		byte(distance >> 16), byte(distance >> 8), byte(distance),
		byte(steps >> 16), byte(steps >> 8), byte(steps),
		0x00, 0x00, 0x00,
		0x00, 0xfd,
	}
	f[len(f)-2] = checksum(f[1 : len(f)-2])
	return f
}

func TestParseStatus(t *testing.T) {
	st, err := parseStatus(statusFrame(35, 0x010203, 70000))
	require.NoError(t, err)
	assert.Equal(t, device.Status{Speed: 35, Distance: 0x010203, Steps: 70000}, st)
}

func TestParseStatusRejects(t *testing.T) {
	_, err := parseStatus([]byte{0xf8, 0xa7, 0x00})
	assert.ErrorIs(t, err, ErrNotStatusFrame)

	f := statusFrame(10, 1, 1)
	f[0] = 0xf7
	_, err = parseStatus(f)
	assert.ErrorIs(t, err, ErrNotStatusFrame)

	f = statusFrame(10, 1, 1)
	f[len(f)-2]++
	_, err = parseStatus(f)
	assert.ErrorIs(t, err, ErrBadChecksum)

	f = statusFrame(10, 1, 1)
	f[len(f)-1] = 0x00
	_, err = parseStatus(f)
	assert.ErrorIs(t, err, ErrNotStatusFrame)
}
