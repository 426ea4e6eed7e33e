package bluez

import (
	"errors"
	"fmt"

	"github.com/TheCacophonyProject/walkingpad-controller/device"
)

// GATT characteristics of the pad, all in service fe00.
const (
	ServiceUUID = "0000fe00-0000-1000-8000-00805f9b34fb"
	NotifyUUID  = "0000fe01-0000-1000-8000-00805f9b34fb"
	WriteUUID   = "0000fe02-0000-1000-8000-00805f9b34fb"
)

const (
	commandStart = 0xf7
	statusStart  = 0xf8
	frameEnd     = 0xfd
	framePrefix  = 0xa2

	cmdAskStats  = 0x00
	cmdSetSpeed  = 0x01
	cmdSetMode   = 0x02
	cmdStartBelt = 0x04

	statusFrameMinLen = 16
)

var (
	ErrNotStatusFrame = errors.New("not a status frame")
	ErrBadChecksum    = errors.New("bad frame checksum")
)

// checksum is the low byte of the sum of b.
func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// commandFrame builds F7 A2 <cmd> <value> <checksum> FD. The checksum covers
// everything between the start and the checksum byte.
func commandFrame(cmd, value byte) []byte {
	f := []byte{commandStart, framePrefix, cmd, value, 0, frameEnd}
	f[4] = checksum(f[1:4])
	return f
}

func askStatsFrame() []byte {
	return commandFrame(cmdAskStats, 0)
}

func setSpeedFrame(tenths int) ([]byte, error) {
	if tenths < 0 || tenths > 0xff {
		return nil, fmt.Errorf("speed %d out of range", tenths)
	}
	return commandFrame(cmdSetSpeed, byte(tenths)), nil
}

func setModeFrame(mode device.Mode) []byte {
	return commandFrame(cmdSetMode, byte(mode))
}

func startBeltFrame() []byte {
	return commandFrame(cmdStartBelt, 1)
}

// Pad status frame layout:
//
//	0-1    F8 A2
//	2      belt state
//	3      speed, tenths of km/h
//	4      mode
//	5-7    time, seconds, big endian
//	8-10   distance, units of 10 m, big endian
//	11-13  steps, big endian
//	14     app speed
//	..
//	n-2    checksum
//	n-1    FD
func parseStatus(frame []byte) (device.Status, error) {
	if len(frame) < statusFrameMinLen || frame[0] != statusStart || frame[1] != framePrefix {
		return device.Status{}, ErrNotStatusFrame
	}
	if frame[len(frame)-1] != frameEnd {
		return device.Status{}, fmt.Errorf("%w: no end marker", ErrNotStatusFrame)
	}
	if checksum(frame[1:len(frame)-2]) != frame[len(frame)-2] {
		return device.Status{}, ErrBadChecksum
	}
	return device.Status{
		Speed:    uint32(frame[3]),
		Distance: be24(frame[8:11]),
		Steps:    be24(frame[11:14]),
	}, nil
}

func be24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
