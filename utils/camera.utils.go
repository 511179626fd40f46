package utils

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

type EventKind string

// Device events, named as the gateway names them.
const (
	EventMotionDetected  EventKind = "motion detected"
	EventRings           EventKind = "rings"
	EventPropertyChanged EventKind = "property changed"
)

// PropertyPicture is the property carrying the last camera snapshot.
const PropertyPicture = "picture"

// DeviceEvent is one event emitted by a device.
type DeviceEvent struct {
	Kind         EventKind
	SerialNumber string
	// State is set for motion and ring events.
	State bool
	// Property and Value are set for property changed events.
	Property string
	Value    PropertyValue
}

type EventHandler func(DeviceEvent)

// Device is a doorbell camera owned by a DeviceSession.
type Device interface {
	SerialNumber() string
	Name() string
	Property(name string) (PropertyValue, bool)
	Subscribe(kind EventKind, handler EventHandler)
}

// DeviceSession is an authenticated connection to the camera cloud.
type DeviceSession interface {
	Connect(ctx context.Context) error
	RefreshCloudData(ctx context.Context) error
	Devices(ctx context.Context) ([]Device, error)
	Close() error
}

// PropertyValue is a raw property value, decoded on access.
type PropertyValue json.RawMessage

func (v PropertyValue) String() string {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return string(v)
	}
	return s
}

func (v PropertyValue) Int() (int, error) {
	var n int
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, fmt.Errorf("decode integer property: %w", err)
	}
	return n, nil
}

// Picture decodes the value of the picture property.
func (v PropertyValue) Picture() (Picture, error) {
	var pic Picture
	if len(v) == 0 {
		return pic, errors.New("empty picture value")
	}
	var raw struct {
		Data Buffer `json:"data"`
		Type struct {
			Ext  string `json:"ext"`
			Mime string `json:"mime"`
		} `json:"type"`
	}
	if err := json.Unmarshal(v, &raw); err != nil {
		return pic, fmt.Errorf("decode picture: %w", err)
	}
	if len(raw.Data) == 0 {
		return pic, errors.New("picture has no image data")
	}
	pic.Data = raw.Data
	pic.Ext = raw.Type.Ext
	pic.Mime = raw.Type.Mime
	return pic, nil
}

// Picture is a camera snapshot.
type Picture struct {
	Data []byte
	Ext  string
	Mime string
}

// Buffer accepts the JSON form of a Node.js Buffer ({"type":"Buffer","data":[...]})
// as well as a plain base64 string.
type Buffer []byte

func (b *Buffer) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("decode base64 buffer: %w", err)
		}
		*b = decoded
		return nil
	}

	var node struct {
		Type string `json:"type"`
		Data []int  `json:"data"`
	}
	if err := json.Unmarshal(data, &node); err != nil {
		return err
	}
	if node.Type != "Buffer" {
		return fmt.Errorf("unexpected buffer type %q", node.Type)
	}
	out := make([]byte, len(node.Data))
	for i, n := range node.Data {
		if n < 0 || n > 255 {
			return fmt.Errorf("buffer byte %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}
