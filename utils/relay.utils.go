package utils

import "fmt"

// Text sent to the chat when someone rings the doorbell.
const RingNotification = "🔔 Someone is ringing the doorbell"

// Relay forwards doorbell events to a chat and echoes chat messages back.
type Relay struct {
	chat   ChatSession
	chatID int64
	logger Logger
	mirror EventPublisher
}

// NewRelay builds a Relay. mirror may be nil.
func NewRelay(chat ChatSession, chatID int64, logger Logger, mirror EventPublisher) *Relay {
	return &Relay{
		chat:   chat,
		chatID: chatID,
		logger: logger,
		mirror: mirror,
	}
}

// AttachHandlers subscribes the relay to the device's motion, ring and
// property events.
func (r *Relay) AttachHandlers(device Device) {
	device.Subscribe(EventMotionDetected, r.handleMotion)
	device.Subscribe(EventRings, r.handleRing)
	device.Subscribe(EventPropertyChanged, r.handlePropertyChanged)
}

// AttachChatHandlers subscribes the relay to incoming chat messages.
func (r *Relay) AttachChatHandlers(chat ChatSession) {
	chat.OnMessage(r.handleMessage)
}

func (r *Relay) handleMotion(event DeviceEvent) {
	r.logger.Infof("Motion detected: %t on %s", event.State, event.SerialNumber)
	r.mirrorEvent(event)
}

func (r *Relay) handleRing(event DeviceEvent) {
	r.logger.Infof("Ringing detected: %t on %s", event.State, event.SerialNumber)
	r.mirrorEvent(event)
	if !event.State {
		return
	}
	r.sendMessage(RingNotification)
}

func (r *Relay) handlePropertyChanged(event DeviceEvent) {
	r.logger.Debugf("Property changed: %s", event.Property)
	r.mirrorEvent(event)
	if event.Property != PropertyPicture {
		return
	}

	picture, err := event.Value.Picture()
	if err != nil {
		r.logger.Errorf("Failed to read picture from %s: %v", event.SerialNumber, err)
		return
	}
	r.sendPhoto(picture.Data)
}

func (r *Relay) handleMessage(msg ChatMessage) {
	r.logger.Infof("Received message: %s from %d", msg.Text, msg.ChatID)
	sender := msg.SenderName
	if sender == "" {
		sender = "unknown"
	}
	r.sendMessage(fmt.Sprintf("%s said: %s", sender, msg.Text))
}

func (r *Relay) sendMessage(text string) {
	if err := r.chat.SendMessage(r.chatID, text); err != nil {
		r.logger.Errorf("Error sending message: %v", err)
		return
	}
	r.logger.Infof("Message sent successfully: %s", text)
}

func (r *Relay) sendPhoto(data []byte) {
	if err := r.chat.SendPhoto(r.chatID, data); err != nil {
		r.logger.Errorf("Error sending picture: %v", err)
		return
	}
	r.logger.Infof("Picture sent (%d bytes)", len(data))
}

func (r *Relay) mirrorEvent(event DeviceEvent) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Publish(event); err != nil {
		r.logger.Warnf("Failed to mirror %s event: %v", event.Kind, err)
	}
}
