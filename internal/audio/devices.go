package audio

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/bbrew/core/internal/errors"
)

// Role classifies an input endpoint by what it captures.
type Role string

const (
	RoleMicrophone Role = "microphone"
	RoleSystem     Role = "system"
	RoleHybrid     Role = "hybrid"
)

// Device describes one usable input endpoint.
type Device struct {
	Index    int
	Name     string
	Channels int
	Role     Role

	info *portaudio.DeviceInfo
}

// Registry enumerates and classifies audio input endpoints. Refresh may run
// while a capture is active; it never touches an opened stream.
type Registry struct {
	mu      sync.Mutex
	mic     *Device
	system  *Device
	hybrid  *Device
	devices []Device
}

// NewRegistry initializes the audio host and performs a first scan.
func NewRegistry() (*Registry, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDeviceIO, "audio host init failed")
	}
	r := &Registry{}
	r.Refresh()
	return r, nil
}

// Close releases the audio host.
func (r *Registry) Close() {
	_ = portaudio.Terminate()
}

// Reinit tears the audio host down, brings it back up, and rescans. The
// host caches its device list at initialization, so this is the only way
// to observe devices plugged or unplugged since then. Must not run while
// a capture holds a stream.
func (r *Registry) Reinit() {
	r.mu.Lock()
	_ = portaudio.Terminate()
	err := portaudio.Initialize()
	r.mu.Unlock()
	if err != nil {
		slog.Error("audio host reinit failed", "error", err)
		return
	}
	r.Refresh()
}

// Refresh reclassifies the host's current device list. Enumeration errors
// are logged and leave the registry empty rather than failing. The list
// itself is cached by the host; Reinit is needed to pick up hardware
// changes.
func (r *Registry) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mic, r.system, r.hybrid = nil, nil, nil
	r.devices = r.devices[:0]

	devices, err := portaudio.Devices()
	if err != nil {
		slog.Error("device enumeration failed", "error", err)
		return
	}

	defaultInput, _ := portaudio.DefaultInputDevice()

	for idx, info := range devices {
		if info.MaxInputChannels < 1 {
			continue
		}

		dev := Device{Index: idx, Name: info.Name, Channels: info.MaxInputChannels, info: info}
		dev.Role = classifyName(info.Name)

		if dev.Role == RoleHybrid && r.hybrid == nil {
			r.hybrid = &dev
		}
		if dev.Role == RoleSystem && r.system == nil {
			r.system = &dev
		}

		// The OS default input wins the microphone role even when its
		// name also matches a system keyword.
		if defaultInput != nil && info == defaultInput {
			mic := dev
			mic.Role = RoleMicrophone
			r.mic = &mic
		} else if dev.Role == RoleMicrophone && r.mic == nil {
			r.mic = &dev
		}

		r.devices = append(r.devices, dev)
	}

	// Any input is better than none for the microphone role.
	if r.mic == nil && len(r.devices) > 0 {
		mic := r.devices[0]
		mic.Role = RoleMicrophone
		r.mic = &mic
	}

	slog.Info("devices detected",
		"mic", name(r.mic), "system", name(r.system), "hybrid", name(r.hybrid))
}

// Describe returns the device currently filling a role.
func (r *Registry) Describe(role Role) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var d *Device
	switch role {
	case RoleMicrophone:
		d = r.mic
	case RoleSystem:
		d = r.system
	case RoleHybrid:
		d = r.hybrid
	}
	if d == nil {
		return Device{}, apperrors.Newf(apperrors.CodeDeviceNotFound, "no device for role %q", role)
	}
	return *d, nil
}

// List returns a copy of all known input devices.
func (r *Registry) List() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

var systemKeywords = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
var hybridKeywords = []string{"hybrid", "aggregate"}
var micKeywords = []string{"microphone", "mic", "built-in", "input"}

// classifyName maps a device name onto a capture role by keyword heuristic.
func classifyName(deviceName string) Role {
	lower := strings.ToLower(deviceName)

	for _, kw := range hybridKeywords {
		if strings.Contains(lower, kw) {
			return RoleHybrid
		}
	}
	for _, kw := range systemKeywords {
		if strings.Contains(lower, kw) {
			return RoleSystem
		}
	}
	for _, kw := range micKeywords {
		if strings.Contains(lower, kw) {
			return RoleMicrophone
		}
	}
	return RoleMicrophone
}

func name(d *Device) string {
	if d == nil {
		return "<none>"
	}
	return d.Name
}
