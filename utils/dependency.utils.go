package utils

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoDevices = errors.New("device session reported no devices")

// InitSession connects the device session, refreshes cloud data and returns
// the first reported device.
func InitSession(ctx context.Context, session DeviceSession, logger Logger) (Device, error) {
	if err := session.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect device session: %w", err)
	}
	if err := session.RefreshCloudData(ctx); err != nil {
		return nil, fmt.Errorf("refresh cloud data: %w", err)
	}
	devices, err := session.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	doorbell := devices[0]
	logDeviceStatus(doorbell, logger)
	return doorbell, nil
}

// Device type codes reported by the gateway.
var (
	doorbellTypes = map[int]bool{5: true, 7: true, 16: true, 91: true, 93: true, 94: true}
	cameraTypes   = map[int]bool{1: true, 4: true, 8: true, 9: true, 14: true, 15: true, 30: true, 31: true, 32: true}
)

// deviceKind reports whether the device type is a camera and a doorbell.
// Every doorbell is also a camera.
func deviceKind(device Device) (isCamera, isDoorbell bool, err error) {
	v, ok := device.Property("type")
	if !ok {
		return false, false, errors.New("device reports no type")
	}
	code, err := v.Int()
	if err != nil {
		return false, false, err
	}
	isDoorbell = doorbellTypes[code]
	return isDoorbell || cameraTypes[code], isDoorbell, nil
}

func logDeviceStatus(device Device, logger Logger) {
	logger.Infof("Doorbell: %s (%s)", device.Name(), device.SerialNumber())
	if isCamera, isDoorbell, err := deviceKind(device); err != nil {
		logger.Warnf("Unknown device kind: %v", err)
	} else {
		logger.Infof("camera: %t, doorbell: %t", isCamera, isDoorbell)
	}
	for _, status := range []struct {
		label    string
		property string
	}{
		{"model", "model"},
		{"isRinging", "ringing"},
		{"motion detected", "motionDetected"},
		{"image url", "pictureUrl"},
		{"mac address", "macAddress"},
	} {
		if v, ok := device.Property(status.property); ok {
			logger.Infof("%s: %s", status.label, v.String())
		}
	}
}
