// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracking

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/space_calibrator/internal/orientation"
)

// Slots used by the mock rig.
const (
	MockHMD           DeviceID = 0
	MockReference     DeviceID = 1
	MockTarget        DeviceID = 2
	MockTargetHMD     DeviceID = 3
	MockTargetTracker DeviceID = 4
)

// MockRigConfig describes the ground truth the mock rig hides in its poses.
type MockRigConfig struct {
	ReferenceSystem string
	TargetSystem    string
	// Universe offset: world = Rz·Ry·Rx(UniverseRotation)·raw + UniverseTranslationCM.
	// A correct calibration recovers exactly these values.
	UniverseRotation      orientation.EulerAngles
	UniverseTranslationCM r3.Vector
	// Mount of the target on the reference: rotation and lever arm in the
	// reference's local frame.
	MountRotation orientation.EulerAngles
	MountLeverCM  r3.Vector
}

// DefaultMockRigConfig returns a rig with a 30° yaw universe offset.
func DefaultMockRigConfig() MockRigConfig {
	return MockRigConfig{
		ReferenceSystem:       "lighthouse",
		TargetSystem:          "oculus",
		UniverseRotation:      orientation.EulerAngles{Yaw: 30},
		UniverseTranslationCM: r3.Vector{X: 40, Y: -5, Z: 120},
		MountRotation:         orientation.EulerAngles{Roll: 10, Yaw: -15, Pitch: 5},
		MountLeverCM:          r3.Vector{X: 3, Y: -4, Z: 8},
	}
}

type driverOffset struct {
	rotation    orientation.Matrix3
	translation r3.Vector
	enabled     bool
}

// MockRig simulates two tracking systems watching a reference controller with
// a target controller strapped to it, plus a few bystander devices. It also
// plays the offset-applying driver: offsets set on it are applied to the
// poses it reports, which is what the translation phase relies on.
type MockRig struct {
	cfg   MockRigConfig
	clock clock.Clock
	start time.Time

	universeRot   orientation.Matrix3
	universeTrans r3.Vector
	mountRot      orientation.Matrix3
	mountLever    r3.Vector

	mu       sync.Mutex
	offsets  map[DeviceID]*driverOffset
	notTrack map[DeviceID]bool
}

// NewMockRig creates a rig whose motion is a function of clk's time.
func NewMockRig(cfg MockRigConfig, clk clock.Clock) *MockRig {
	if clk == nil {
		clk = clock.New()
	}
	return &MockRig{
		cfg:           cfg,
		clock:         clk,
		start:         clk.Now(),
		universeRot:   orientation.MatrixFromEulerZYX(cfg.UniverseRotation),
		universeTrans: orientation.CentimetersToMeters(cfg.UniverseTranslationCM),
		mountRot:      orientation.MatrixFromEulerZYX(cfg.MountRotation),
		mountLever:    orientation.CentimetersToMeters(cfg.MountLeverCM),
		offsets:       make(map[DeviceID]*driverOffset),
		notTrack:      make(map[DeviceID]bool),
	}
}

// Config returns the ground truth.
func (m *MockRig) Config() MockRigConfig { return m.cfg }

// SetTracking toggles whether a slot reports a valid pose.
func (m *MockRig) SetTracking(id DeviceID, tracking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notTrack[id] = !tracking
}

func (m *MockRig) offset(id DeviceID) *driverOffset {
	o, ok := m.offsets[id]
	if !ok {
		o = &driverOffset{rotation: orientation.Identity()}
		m.offsets[id] = o
	}
	return o
}

// SetRotationOffset stores the world-from-driver rotation for id.
func (m *MockRig) SetRotationOffset(id DeviceID, q quat.Number) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset(id).rotation = orientation.MatrixFromQuaternion(q)
	return nil
}

// SetTranslationOffset stores the world-from-driver translation (meters) for id.
func (m *MockRig) SetTranslationOffset(id DeviceID, meters r3.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset(id).translation = meters
	return nil
}

// EnableOffsets switches offset application for id.
func (m *MockRig) EnableOffsets(id DeviceID, enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset(id).enabled = enable
	return nil
}

// referenceMotion is the world pose of the reference controller at elapsed
// seconds. The three angles oscillate at incommensurate rates so pairs of
// samples cover many rotation axes.
func referenceMotion(elapsed float64) orientation.Pose {
	rot := orientation.MatrixFromEulerZYX(orientation.EulerAngles{
		Roll:  70 * math.Sin(1.3*elapsed),
		Yaw:   math.Mod(elapsed*45, 360),
		Pitch: 60 * math.Cos(0.9*elapsed),
	})
	trans := r3.Vector{
		X: 0.3 * math.Sin(0.4*elapsed),
		Y: 1.2 + 0.1*math.Cos(0.6*elapsed),
		Z: -0.2 + 0.15*math.Sin(0.3*elapsed),
	}
	return orientation.Pose{Rotation: rot, Translation: trans}
}

// toTargetUniverse maps a world pose into the raw target tracking universe.
func (m *MockRig) toTargetUniverse(world orientation.Pose) orientation.Pose {
	inv := m.universeRot.Transpose()
	return orientation.Pose{
		Rotation:    inv.Mul(world.Rotation),
		Translation: inv.MulVec(world.Translation.Sub(m.universeTrans)),
	}
}

// applyDriver applies the offset set for id, if enabled. Caller holds mu.
func (m *MockRig) applyDriver(id DeviceID, raw orientation.Pose) orientation.Pose {
	o, ok := m.offsets[id]
	if !ok || !o.enabled {
		return raw
	}
	return orientation.Pose{
		Rotation:    o.rotation.Mul(raw.Rotation),
		Translation: o.rotation.MulVec(raw.Translation).Add(o.translation),
	}
}

// Snapshot returns the devices at the clock's current time.
func (m *MockRig) Snapshot() Snapshot {
	now := m.clock.Now()
	elapsed := now.Sub(m.start).Seconds()

	ref := referenceMotion(elapsed)
	targetWorld := orientation.Pose{
		Rotation:    ref.Rotation.Mul(m.mountRot),
		Translation: ref.Translation.Add(ref.Rotation.MulVec(m.mountLever)),
	}
	hmd := orientation.Pose{
		Rotation:    orientation.AxisAngle(r3.Vector{Y: 1}, 0.2*math.Sin(0.5*elapsed)),
		Translation: r3.Vector{Y: 1.7},
	}
	bystander := referenceMotion(elapsed + 17)

	m.mu.Lock()
	defer m.mu.Unlock()

	devices := []Device{
		m.device(MockHMD, ClassHMD, m.cfg.ReferenceSystem, "LHR-HMD", hmd),
		m.device(MockReference, ClassController, m.cfg.ReferenceSystem, "LHR-REF", ref),
		m.device(MockTarget, ClassController, m.cfg.TargetSystem, "OVR-TGT",
			m.applyDriver(MockTarget, m.toTargetUniverse(targetWorld))),
		m.device(MockTargetHMD, ClassHMD, m.cfg.TargetSystem, "OVR-HMD",
			m.applyDriver(MockTargetHMD, m.toTargetUniverse(hmd))),
		m.device(MockTargetTracker, ClassGenericTracker, m.cfg.TargetSystem, "OVR-TRK",
			m.applyDriver(MockTargetTracker, m.toTargetUniverse(bystander))),
	}
	return Snapshot{Time: now, Devices: devices}
}

func (m *MockRig) device(id DeviceID, class DeviceClass, system, serial string, pose orientation.Pose) Device {
	return Device{
		ID:               id,
		Class:            class,
		TrackingSystem:   system,
		Serial:           serial,
		PoseValid:        !m.notTrack[id],
		DeviceToAbsolute: pose.DeviceTransform(),
	}
}
