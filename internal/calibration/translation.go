// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/space_calibrator/internal/orientation"
)

// TranslationResult is the outcome of a translation fit.
type TranslationResult struct {
	// Centimeters is the offset to apply to the target.
	Centimeters r3.Vector
	// Condition is the condition number of the stacked system, +Inf when it
	// is singular. Only informational: a poorly conditioned system still
	// produces its minimum-norm solution.
	Condition float64
	Rank      int
	Equations int
}

// CalibrateTranslation solves for the translation offset of the target
// tracking system. Samples must already carry the rotation offset, i.e. the
// target poses are expressed with the reference system's orientation.
//
// For every pair of samples and for each of the two devices, the fixed lever
// arm between the devices cancels out and leaves three equations
//
//	(Qj - Qi)·t = Qj·(ref_j - target_j) - Qi·(ref_i - target_i)
//
// with Q the transposed device rotation. All of them are stacked and solved
// by least squares.
func CalibrateTranslation(samples []Sample, tol Tolerances) TranslationResult {
	n := len(samples)
	rows := n * (n - 1) / 2 * 2 * 3
	res := TranslationResult{Equations: rows, Condition: math.Inf(1)}
	if rows == 0 {
		return res
	}

	m := mat.NewDense(rows, 3, nil)
	c := mat.NewVecDense(rows, nil)
	row := 0
	for i := range samples {
		for j := 0; j < i; j++ {
			si, sj := samples[i], samples[j]
			diffI := si.Ref.Translation.Sub(si.Target.Translation)
			diffJ := sj.Ref.Translation.Sub(sj.Target.Translation)

			row = addEquations(m, c, row,
				si.Ref.Rotation.Transpose(), sj.Ref.Rotation.Transpose(), diffI, diffJ)
			row = addEquations(m, c, row,
				si.Target.Rotation.Transpose(), sj.Target.Rotation.Transpose(), diffI, diffJ)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return res
	}
	res.Rank = svd.Rank(tol.RankTolerance)
	if res.Rank == 0 {
		return res
	}
	res.Condition = svd.Cond()

	var t mat.VecDense
	svd.SolveVecTo(&t, c, res.Rank)
	res.Centimeters = orientation.MetersToCentimeters(r3.Vector{X: t.AtVec(0), Y: t.AtVec(1), Z: t.AtVec(2)})
	return res
}

func addEquations(m *mat.Dense, c *mat.VecDense, row int, qi, qj orientation.Matrix3, diffI, diffJ r3.Vector) int {
	dq := qj.Sub(qi)
	rhs := qj.MulVec(diffJ).Sub(qi.MulVec(diffI))
	for k := 0; k < 3; k++ {
		m.SetRow(row+k, dq[k][:])
	}
	c.SetVec(row, rhs.X)
	c.SetVec(row+1, rhs.Y)
	c.SetVec(row+2, rhs.Z)
	return row + 3
}
