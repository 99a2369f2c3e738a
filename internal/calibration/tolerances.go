// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration estimates the rigid offset between a reference and a
// target tracking system and drives the sampling state machine around it.
package calibration

import "time"

// Defaults for the calibration run.
const (
	DefaultSampleCount        = 100
	DefaultMinTickInterval    = 50 * time.Millisecond
	DefaultRescanInterval     = 2500 * time.Millisecond
	DefaultIdleUpdateInterval = time.Second
)

// Tolerances are the numeric thresholds of the solvers.
type Tolerances struct {
	// A pair of samples contributes a rotation delta only if both relative
	// rotations exceed MinDeltaAngle (radians) and both raw axes are longer
	// than MinAxisNorm.
	MinDeltaAngle float64
	MinAxisNorm   float64
	// RankTolerance is the relative singular value cutoff of the translation
	// least squares solve.
	RankTolerance float64
}

// DefaultTolerances returns the thresholds existing profiles were computed with.
func DefaultTolerances() Tolerances {
	return Tolerances{
		MinDeltaAngle: 0.4,
		MinAxisNorm:   0.01,
		RankTolerance: 1e-10,
	}
}

func (t Tolerances) withDefaults() Tolerances {
	def := DefaultTolerances()
	if t.MinDeltaAngle <= 0 {
		t.MinDeltaAngle = def.MinDeltaAngle
	}
	if t.MinAxisNorm <= 0 {
		t.MinAxisNorm = def.MinAxisNorm
	}
	if t.RankTolerance <= 0 {
		t.RankTolerance = def.RankTolerance
	}
	return t
}
