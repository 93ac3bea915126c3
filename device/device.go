// Package device models the "selected device" a session can bind to. The
// session engine never arbitrates between devices itself — it treats the
// device manager as an opaque collaborator and takes a snapshot of whatever
// it returns the first time a handler asks.
package device

import (
	"fmt"
	"sync"
)

// Device is one ADB-visible device.
type Device struct {
	Serial     string
	State      string
	Properties map[string]string
}

// Manager tracks the set of known devices and, per session, which one (if
// any) that session has selected. The default Manager always exposes exactly
// one always-online device, matching the spec's "one preselected device"
// scope; embedders needing real multi-device arbitration supply their own
// Manager.
type Manager struct {
	mu       sync.Mutex
	devices  []Device
	selected map[string]string // session id -> serial
}

// NewSingle creates a Manager exposing exactly one device.
func NewSingle(d Device) *Manager {
	return &Manager{
		devices:  []Device{d},
		selected: make(map[string]string),
	}
}

// List returns a snapshot of all known devices.
func (m *Manager) List() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// Get looks up a device by serial.
func (m *Manager) Get(serial string) (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.Serial == serial {
			return d, true
		}
	}
	return Device{}, false
}

// Select binds sessionID to a device. If serial is empty, it selects "any"
// device, which only succeeds when exactly one device is known.
func (m *Manager) Select(sessionID string, serial string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if serial == "" {
		if len(m.devices) != 1 {
			return fmt.Errorf("no unambiguous device to select")
		}
		serial = m.devices[0].Serial
	} else {
		found := false
		for _, d := range m.devices {
			if d.Serial == serial {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("device %q not found", serial)
		}
	}
	m.selected[sessionID] = serial
	return nil
}

// Selected returns the device sessionID previously selected, if any.
func (m *Manager) Selected(sessionID string) (Device, bool) {
	m.mu.Lock()
	serial, ok := m.selected[sessionID]
	m.mu.Unlock()
	if !ok {
		return Device{}, false
	}
	return m.Get(serial)
}

// Forget removes any selection sessionID made, called when the session ends.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.selected, sessionID)
	m.mu.Unlock()
}
