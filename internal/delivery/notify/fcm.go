// Package notify pushes delivery status changes to the customer's devices
// through Firebase Cloud Messaging.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"

	"mzigo/internal/delivery/fsm"
)

// Logger provides minimal logging for the notifier.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Sender is the part of *messaging.Client the notifier uses.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// NewMessagingClient initialises Firebase from a service account file.
func NewMessagingClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return client, nil
}

// Device is a push token registered for a delivery.
type Device struct {
	Token string `json:"token"`
	Lang  string `json:"lang,omitempty"`
}

// Devices keeps the push tokens of each delivery in memory.
type Devices struct {
	mu      sync.RWMutex
	devices map[string][]Device
}

// NewDevices returns an empty registry.
func NewDevices() *Devices {
	return &Devices{devices: make(map[string][]Device)}
}

// Register adds or updates a device of the delivery.
func (d *Devices) Register(deliveryID string, dev Device) {
	dev.Token = strings.TrimSpace(dev.Token)
	if dev.Token == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.devices[deliveryID]
	for i := range list {
		if list[i].Token == dev.Token {
			list[i] = dev
			return
		}
	}
	d.devices[deliveryID] = append(list, dev)
}

// List returns the devices of the delivery.
func (d *Devices) List(deliveryID string) []Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Device, len(d.devices[deliveryID]))
	copy(out, d.devices[deliveryID])
	return out
}

// Forget drops every device of the delivery.
func (d *Devices) Forget(deliveryID string) {
	d.mu.Lock()
	delete(d.devices, deliveryID)
	d.mu.Unlock()
}

// FCM sends status pushes to every device registered for a delivery.
type FCM struct {
	sender  Sender
	devices *Devices
	logger  Logger
}

// NewFCM builds the notifier.
func NewFCM(sender Sender, devices *Devices, logger Logger) *FCM {
	return &FCM{sender: sender, devices: devices, logger: logger}
}

// Devices exposes the token registry.
func (n *FCM) Devices() *Devices { return n.devices }

// StatusChanged notifies the delivery's devices. Statuses without a text
// are skipped.
func (n *FCM) StatusChanged(ctx context.Context, deliveryID string, status fsm.Status) error {
	if _, ok := statusText("", status); !ok {
		return nil
	}
	var errs []error
	for _, dev := range n.devices.List(deliveryID) {
		text, _ := statusText(dev.Lang, status)
		msg := buildMessage(dev.Token, deliveryID, status, text)
		id, err := n.sender.Send(ctx, msg)
		if err != nil {
			if n.logger != nil {
				n.logger.Errorf("notify: delivery %s push failed: %v", deliveryID, err)
			}
			errs = append(errs, err)
			continue
		}
		if n.logger != nil {
			n.logger.Infof("notify: delivery %s %s pushed (%s)", deliveryID, status, id)
		}
	}
	return errors.Join(errs...)
}

// Forget drops the delivery's devices.
func (n *FCM) Forget(deliveryID string) { n.devices.Forget(deliveryID) }

func buildMessage(token, deliveryID string, status fsm.Status, text Text) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: text.Title,
			Body:  text.Body,
		},
		Data: map[string]string{
			"delivery_id": deliveryID,
			"status":      string(status),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "delivery_status",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: text.Title,
						Body:  text.Body,
					},
					Sound: "default",
				},
			},
		},
	}
}
