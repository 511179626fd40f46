package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Snapshots travel inside property events, so frames can be large.
const gatewayReadLimit = 16 << 20

var ErrSessionClosed = errors.New("device session closed")

// CommandError is a command the gateway answered with success=false.
type CommandError struct {
	Command string
	Code    string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("gateway command %s failed: %s", e.Command, e.Code)
}

// GatewayConfig holds the gateway address and the cloud credentials forwarded to it.
type GatewayConfig struct {
	URL      string
	Country  string
	Username string
	Password string
}

type gatewayMessage struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result"`
	ErrorCode string          `json:"errorCode"`
	Event     *gatewayEvent   `json:"event"`
}

type gatewayEvent struct {
	Source       string          `json:"source"`
	Event        string          `json:"event"`
	SerialNumber string          `json:"serialNumber"`
	State        bool            `json:"state"`
	Name         string          `json:"name"`
	Value        json.RawMessage `json:"value"`
}

type commandResult struct {
	result json.RawMessage
	err    error
}

// GatewaySession is a DeviceSession backed by an eufy-security-ws style
// websocket gateway.
type GatewaySession struct {
	config GatewayConfig
	logger Logger

	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	pending map[string]chan commandResult
	devices []*GatewayDevice
	closed  bool
}

func NewGatewaySession(config GatewayConfig, logger Logger) *GatewaySession {
	return &GatewaySession{
		config:  config,
		logger:  logger,
		pending: make(map[string]chan commandResult),
	}
}

// Connect dials the gateway, starts the read loop and logs in with the
// configured credentials.
func (s *GatewaySession) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	conn.SetReadLimit(gatewayReadLimit)

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.readLoop(loopCtx)
	s.logger.Debugf("Connected to device gateway %s", s.config.URL)

	_, err = s.command(ctx, "driver.connect", map[string]interface{}{
		"country":  s.config.Country,
		"username": s.config.Username,
		"password": s.config.Password,
	})
	return err
}

// RefreshCloudData asks the gateway to poll the cloud and reloads the device list.
func (s *GatewaySession) RefreshCloudData(ctx context.Context) error {
	if _, err := s.command(ctx, "driver.poll_refresh", nil); err != nil {
		return err
	}

	raw, err := s.command(ctx, "start_listening", nil)
	if err != nil {
		return err
	}
	var result struct {
		State struct {
			Devices []map[string]json.RawMessage `json:"devices"`
		} `json:"state"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode device state: %w", err)
	}

	devices := make([]*GatewayDevice, 0, len(result.State.Devices))
	for _, props := range result.State.Devices {
		device := newGatewayDevice(props)
		if device.SerialNumber() == "" {
			s.logger.Warnf("Skipping device without serial number")
			continue
		}
		devices = append(devices, device)
	}

	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()
	s.logger.Debugf("Cloud data refreshed, %d device(s)", len(devices))
	return nil
}

func (s *GatewaySession) Devices(ctx context.Context) ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	devices := make([]Device, len(s.devices))
	for i, d := range s.devices {
		devices[i] = d
	}
	return devices, nil
}

func (s *GatewaySession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn, cancel, done := s.conn, s.cancel, s.done
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "")
	cancel()
	<-done
	return err
}

func (s *GatewaySession) command(ctx context.Context, name string, params map[string]interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	msg := map[string]interface{}{
		"messageId": id,
		"command":   name,
	}
	for k, v := range params {
		msg[k] = v
	}

	reply := make(chan commandResult, 1)
	s.mu.Lock()
	if s.closed || s.conn == nil {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	conn := s.conn
	s.pending[id] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	s.logger.Tracef("Gateway command %s (%s)", name, id)
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return nil, fmt.Errorf("send %s: %w", name, err)
	}

	select {
	case res := <-reply:
		if res.err != nil {
			var cmdErr *CommandError
			if errors.As(res.err, &cmdErr) {
				cmdErr.Command = name
			}
			return nil, res.err
		}
		return res.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *GatewaySession) readLoop(ctx context.Context) {
	defer close(s.done)
	defer s.failPending()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.Errorf("Device gateway read failed: %v", err)
			}
			return
		}

		// A frame we cannot decode is dropped; the connection stays up.
		var msg gatewayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warnf("Dropping undecodable gateway frame: %v", err)
			continue
		}

		switch msg.Type {
		case "result":
			s.resolve(msg)
		case "event":
			if msg.Event != nil {
				s.dispatch(*msg.Event)
			}
		case "version":
			s.logger.Debugf("Device gateway says hello")
		default:
			s.logger.Tracef("Ignoring gateway message of type %q", msg.Type)
		}
	}
}

func (s *GatewaySession) resolve(msg gatewayMessage) {
	s.mu.Lock()
	reply, ok := s.pending[msg.MessageID]
	s.mu.Unlock()
	if !ok {
		s.logger.Tracef("Unmatched gateway result %s", msg.MessageID)
		return
	}
	if !msg.Success {
		reply <- commandResult{err: &CommandError{Code: msg.ErrorCode}}
		return
	}
	reply <- commandResult{result: msg.Result}
}

func (s *GatewaySession) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, reply := range s.pending {
		select {
		case reply <- commandResult{err: ErrSessionClosed}:
		default:
		}
		delete(s.pending, id)
	}
}

func (s *GatewaySession) dispatch(ev gatewayEvent) {
	if ev.Source != "device" {
		s.logger.Tracef("Ignoring %s event %q", ev.Source, ev.Event)
		return
	}

	s.mu.Lock()
	var device *GatewayDevice
	for _, d := range s.devices {
		if d.SerialNumber() == ev.SerialNumber {
			device = d
			break
		}
	}
	s.mu.Unlock()
	if device == nil {
		s.logger.Tracef("Event %q for unknown device %s", ev.Event, ev.SerialNumber)
		return
	}

	event := DeviceEvent{
		Kind:         EventKind(ev.Event),
		SerialNumber: ev.SerialNumber,
		State:        ev.State,
		Property:     ev.Name,
		Value:        PropertyValue(ev.Value),
	}
	if event.Kind == EventPropertyChanged {
		device.setProperty(ev.Name, ev.Value)
	}
	device.emit(event)
}

// GatewayDevice is a device reported by the gateway. Its properties are a
// cache kept current by property changed events.
type GatewayDevice struct {
	mu       sync.RWMutex
	props    map[string]json.RawMessage
	handlers map[EventKind][]EventHandler
}

func newGatewayDevice(props map[string]json.RawMessage) *GatewayDevice {
	if props == nil {
		props = make(map[string]json.RawMessage)
	}
	return &GatewayDevice{
		props:    props,
		handlers: make(map[EventKind][]EventHandler),
	}
}

func (d *GatewayDevice) SerialNumber() string {
	v, _ := d.Property("serialNumber")
	return v.String()
}

func (d *GatewayDevice) Name() string {
	v, _ := d.Property("name")
	return v.String()
}

func (d *GatewayDevice) Property(name string) (PropertyValue, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.props[name]
	return PropertyValue(v), ok
}

func (d *GatewayDevice) Subscribe(kind EventKind, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], handler)
}

func (d *GatewayDevice) setProperty(name string, value json.RawMessage) {
	if name == "" {
		return
	}
	d.mu.Lock()
	d.props[name] = value
	d.mu.Unlock()
}

func (d *GatewayDevice) emit(event DeviceEvent) {
	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.handlers[event.Kind]...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}
