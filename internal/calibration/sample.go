// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"github.com/golang/geo/r3"

	"github.com/relabs-tech/space_calibrator/internal/orientation"
)

// Sample is one simultaneous observation of the reference and the target.
// The zero value is invalid.
type Sample struct {
	Ref    orientation.Pose
	Target orientation.Pose
	Valid  bool
}

// DeltaSample holds the unit rotation axes of the relative rotation between
// two samples, as seen by each tracking system.
type DeltaSample struct {
	Ref    r3.Vector
	Target r3.Vector
	Valid  bool
}

// DeltaRotationSamples derives the relative rotation axes between s1 and s2.
// The result is invalid when either relative rotation is too small for its
// axis to be trusted.
func DeltaRotationSamples(s1, s2 Sample, tol Tolerances) DeltaSample {
	dref := s1.Ref.Rotation.Mul(s2.Ref.Rotation.Transpose())
	dtarget := s1.Target.Rotation.Mul(s2.Target.Rotation.Transpose())

	refAxis := orientation.RotationAxis(dref)
	targetAxis := orientation.RotationAxis(dtarget)
	refAngle := orientation.RotationAngle(dref)
	targetAngle := orientation.RotationAngle(dtarget)

	if refAngle <= tol.MinDeltaAngle || targetAngle <= tol.MinDeltaAngle {
		return DeltaSample{}
	}
	if refAxis.Norm() <= tol.MinAxisNorm || targetAxis.Norm() <= tol.MinAxisNorm {
		return DeltaSample{}
	}

	return DeltaSample{
		Ref:    refAxis.Normalize(),
		Target: targetAxis.Normalize(),
		Valid:  true,
	}
}
