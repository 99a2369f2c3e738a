// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/space_calibrator/internal/orientation"
)

// ErrInsufficientDeltas is returned when no pair of samples rotated far
// enough apart to contribute to the rotation fit.
var ErrInsufficientDeltas = errors.New("no valid rotation delta samples")

// RotationResult is the outcome of a rotation fit.
type RotationResult struct {
	// Euler is the offset to apply to the target, in degrees.
	Euler orientation.EulerAngles
	// Matrix is the same offset as a rotation matrix.
	Matrix      orientation.Matrix3
	ValidDeltas int
	TotalPairs  int
}

// CalibrateRotation fits the rotation that maps the target tracking system
// onto the reference one, by aligning the relative rotation axes of every
// pair of samples (Kabsch).
func CalibrateRotation(samples []Sample, tol Tolerances) (RotationResult, error) {
	var res RotationResult
	deltas := make([]DeltaSample, 0, len(samples)*(len(samples)-1)/2)
	for i := range samples {
		for j := 0; j < i; j++ {
			res.TotalPairs++
			if d := DeltaRotationSamples(samples[i], samples[j], tol); d.Valid {
				deltas = append(deltas, d)
			}
		}
	}
	res.ValidDeltas = len(deltas)
	if len(deltas) == 0 {
		return res, ErrInsufficientDeltas
	}

	n := len(deltas)
	refAxes := mat.NewDense(n, 3, nil)
	targetAxes := mat.NewDense(n, 3, nil)
	for i, d := range deltas {
		refAxes.SetRow(i, []float64{d.Ref.X, d.Ref.Y, d.Ref.Z})
		targetAxes.SetRow(i, []float64{d.Target.X, d.Target.Y, d.Target.Z})
	}
	subtractCentroid(refAxes)
	subtractCentroid(targetAxes)

	var h mat.Dense
	h.Mul(refAxes.T(), targetAxes)

	var svd mat.SVD
	if ok := svd.Factorize(&h, mat.SVDFull); !ok {
		return res, errors.New("failed to factorize axis covariance")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	d := 1.0
	if mat.Det(&uvt) < 0 {
		d = -1.0
	}

	// fit maps reference axes onto target axes; the offset is its inverse
	var fit mat.Dense
	fit.Product(&v, mat.NewDiagDense(3, []float64{1, 1, d}), u.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			res.Matrix[i][j] = fit.At(j, i)
		}
	}
	res.Euler = orientation.EulerZYXFromMatrix(res.Matrix)
	return res, nil
}

// subtractCentroid mean-centers the rows of m in place.
func subtractCentroid(m *mat.Dense) {
	rows, cols := m.Dims()
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, m)
		var sum float64
		for _, v := range col {
			sum += v
		}
		mean := sum / float64(rows)
		for i := 0; i < rows; i++ {
			m.Set(i, j, col[i]-mean)
		}
	}
}
