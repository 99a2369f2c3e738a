// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"time"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/space_calibrator/internal/orientation"
	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

// Context is the state the calibrator owns for the lifetime of the process.
type Context struct {
	State       State             `json:"state"`
	ReferenceID tracking.DeviceID `json:"reference_id"`
	TargetID    tracking.DeviceID `json:"target_id"`

	// Poses is the snapshot read at the start of the last tick.
	Poses tracking.Snapshot `json:"-"`

	// CalibratedRotation (degrees) and CalibratedTranslation (centimeters)
	// are the offsets the profile scanner applies.
	CalibratedRotation    orientation.EulerAngles `json:"calibrated_rotation"`
	CalibratedTranslation r3.Vector               `json:"calibrated_translation_cm"`
	ValidProfile          bool                    `json:"valid_profile"`

	ReferenceTrackingSystem string `json:"reference_tracking_system"`
	TargetTrackingSystem    string `json:"target_tracking_system"`

	LastTick time.Time `json:"last_tick"`
	LastScan time.Time `json:"last_scan"`
	// WantedUpdateInterval is how soon the driving loop should tick again.
	WantedUpdateInterval time.Duration `json:"wanted_update_interval"`
}

// Clone returns a deep copy.
func (c Context) Clone() Context {
	c.Poses = c.Poses.Clone()
	return c
}
