// Package device creates virtual HID devices on the host.
//
// A Driver turns a Spec into a live Handle. Writing an input report to the
// Handle makes the host see new axis positions; closing it removes the device.
package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnsupported   = errors.New("device driver is not supported on this platform")
	ErrUnknownDriver = errors.New("unknown device driver")
	ErrClosed        = errors.New("device handle is closed")
)

// Bus types understood by the host HID stack.
const (
	BusUSB     uint16 = 0x03
	BusVirtual uint16 = 0x06
)

// Spec describes the device to create.
type Spec struct {
	Name       string
	Phys       string
	Uniq       string
	Bus        uint16
	Vendor     uint32
	Product    uint32
	Version    uint32
	Country    uint32
	Descriptor []byte
}

// Driver creates virtual devices.
type Driver interface {
	Name() string
	Open(ctx context.Context, spec Spec) (Handle, error)
}

// Handle is one live virtual device.
type Handle interface {
	WriteReport(report []byte) error
	Close() error
}

// Options configure the built-in drivers.
type Options struct {
	// UHIDPath overrides the uhid character device, "/dev/uhid" by default.
	UHIDPath string
}

type factory func(Options) Driver

var (
	registryMu sync.RWMutex
	registry   = map[string]factory{
		"uhid":     func(o Options) Driver { return NewUHID(o.UHIDPath) },
		"loopback": func(Options) Driver { return NewLoopback() },
	}
)

// Register adds a driver factory under name, replacing any previous one.
func Register(name string, f func(Options) Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New looks up a driver by name.
func New(name string, opts Options) (Driver, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownDriver, name, Names())
	}
	return f(opts), nil
}

// Names lists registered drivers in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
