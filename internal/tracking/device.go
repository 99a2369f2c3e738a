package tracking

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/relabs-tech/space_calibrator/internal/orientation"
)

// DeviceID is the slot index the tracking runtime assigns to a device.
type DeviceID int32

// NoDevice marks an unset reference or target selection.
const NoDevice DeviceID = -1

// MaxDevices is the number of device slots the runtime exposes.
const MaxDevices = 64

// Valid reports whether id addresses a device slot.
func (id DeviceID) Valid() bool {
	return id >= 0 && id < MaxDevices
}

// DeviceClass is the closed set of device kinds the calibrator cares about.
type DeviceClass int

const (
	ClassInvalid DeviceClass = iota
	ClassHMD
	ClassController
	ClassGenericTracker
	ClassTrackingReference
)

var classNames = map[DeviceClass]string{
	ClassInvalid:           "invalid",
	ClassHMD:               "hmd",
	ClassController:        "controller",
	ClassGenericTracker:    "tracker",
	ClassTrackingReference: "tracking_reference",
}

func (c DeviceClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "invalid"
}

// MarshalText encodes the class by name.
func (c DeviceClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a class name. Unknown names are an error.
func (c *DeviceClass) UnmarshalText(text []byte) error {
	for class, name := range classNames {
		if name == string(text) {
			*c = class
			return nil
		}
	}
	return errors.Errorf("unknown device class %q", string(text))
}

// Device is the per-slot state published by the tracking runtime.
type Device struct {
	ID             DeviceID    `json:"id"`
	Class          DeviceClass `json:"class"`
	TrackingSystem string      `json:"tracking_system"`
	Serial         string      `json:"serial,omitempty"`
	PoseValid      bool        `json:"pose_valid"`
	// DeviceToAbsolute is the 3x4 device-to-tracking-universe transform,
	// translation in meters.
	DeviceToAbsolute [3][4]float64 `json:"device_to_absolute"`
}

// Pose converts the raw transform.
func (d Device) Pose() orientation.Pose {
	return orientation.PoseFromDeviceTransform(d.DeviceToAbsolute)
}

// Snapshot is every known device at one instant.
type Snapshot struct {
	Time    time.Time `json:"time"`
	Devices []Device  `json:"devices"`
}

// Device looks up a slot. Missing slots return a zero Device (ClassInvalid,
// not tracking) and false.
func (s Snapshot) Device(id DeviceID) (Device, bool) {
	for _, d := range s.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{ID: id}, false
}

// Tracking reports whether id is present and has a valid pose.
func (s Snapshot) Tracking(id DeviceID) bool {
	d, ok := s.Device(id)
	return ok && d.PoseValid
}

// Normalized returns a copy with out-of-range slots dropped, duplicate slots
// collapsed to the last occurrence and devices sorted by ID.
func (s Snapshot) Normalized() Snapshot {
	byID := make(map[DeviceID]Device, len(s.Devices))
	for _, d := range s.Devices {
		if !d.ID.Valid() {
			continue
		}
		byID[d.ID] = d
	}
	out := Snapshot{Time: s.Time, Devices: make([]Device, 0, len(byID))}
	for _, d := range byID {
		out.Devices = append(out.Devices, d)
	}
	sort.Slice(out.Devices, func(i, j int) bool { return out.Devices[i].ID < out.Devices[j].ID })
	return out
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Time: s.Time}
	if s.Devices != nil {
		out.Devices = append([]Device(nil), s.Devices...)
	}
	return out
}

// Source is anything that can provide device snapshots: the MQTT-fed cache,
// the mock rig, or a replay.
type Source interface {
	Snapshot() Snapshot
}

// SourceFunc adapts a function to Source.
type SourceFunc func() Snapshot

// Snapshot calls f.
func (f SourceFunc) Snapshot() Snapshot { return f() }
