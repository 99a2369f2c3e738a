// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"github.com/relabs-tech/space_calibrator/internal/offset"
	"github.com/relabs-tech/space_calibrator/internal/orientation"
	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

// ScanAndApplyProfile pushes the calibrated offsets to every device of the
// target tracking system in the last snapshot.
func (c *Calibrator) ScanAndApplyProfile() error {
	return ScanAndApply(c.opts.Applier, c.ctx.Poses, c.ctx.TargetTrackingSystem,
		c.ctx.CalibratedRotation, c.ctx.CalibratedTranslation)
}

// ScanAndApply applies rotation and translationCM to the controllers and
// trackers of system in snap, in ascending device order. Headsets and
// tracking references are left alone.
func ScanAndApply(a offset.Applier, snap tracking.Snapshot, system string, rotation orientation.EulerAngles, translationCM r3.Vector) error {
	var err error
	for _, d := range snap.Normalized().Devices {
		if d.TrackingSystem != system {
			continue
		}
		switch d.Class {
		case tracking.ClassInvalid:
		case tracking.ClassHMD, tracking.ClassTrackingReference:
			// reserved for detecting a shifted reference
		case tracking.ClassController, tracking.ClassGenericTracker:
			err = multierr.Append(err, offset.Apply(a, d.ID, rotation, translationCM))
		}
	}
	return err
}
