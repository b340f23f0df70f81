package event

import (
	"log/slog"
	"time"
)

const (
	EventDeviceConnected    = "device.connected"
	EventDeviceDisconnected = "device.disconnected"
	EventDeviceError        = "device.error"
	EventClientJoined       = "client.joined"
	EventClientLeft         = "client.left"
)

type DeviceEvent struct {
	Driver string
	Name   string
	Err    error
	At     time.Time
}

type ClientEvent struct {
	SessionID  string
	ClientName string
	RemoteAddr string
	Reason     string
	At         time.Time
}

// LogHandler logs any lifecycle event published on the bus.
func LogHandler(eventName string) HandlerFunc {
	return func(raw any) {
		switch evt := raw.(type) {
		case *DeviceEvent:
			if evt.Err != nil {
				slog.Warn("Device event", "event", eventName, "driver", evt.Driver, "name", evt.Name, "error", evt.Err)
				return
			}
			slog.Info("Device event", "event", eventName, "driver", evt.Driver, "name", evt.Name)
		case *ClientEvent:
			slog.Info("Client event", "event", eventName, "session", evt.SessionID, "client", evt.ClientName, "remote", evt.RemoteAddr, "reason", evt.Reason)
		default:
			slog.Error("Invalid event type for LogHandler", "event", eventName)
		}
	}
}

// SubscribeLogging attaches LogHandler to every lifecycle event.
func SubscribeLogging(b *Bus) {
	for _, name := range []string{
		EventDeviceConnected,
		EventDeviceDisconnected,
		EventDeviceError,
		EventClientJoined,
		EventClientLeft,
	} {
		b.Subscribe(name, LogHandler(name))
	}
}
