// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/golang/geo/r3"
)

// Matrix3 is a row-major 3x3 matrix. Rotations are stored in it as well as
// the differences of rotations used by the translation solver.
type Matrix3 [3][3]float64

// Identity returns the 3x3 identity matrix.
func Identity() Matrix3 {
	return Matrix3{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
}

// At returns the element at row i, column j.
func (m Matrix3) At(i, j int) float64 {
	return m[i][j]
}

// Mul returns m·o.
func (m Matrix3) Mul(o Matrix3) Matrix3 {
	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j] + m[i][2]*o[2][j]
		}
	}
	return out
}

// Sub returns m-o.
func (m Matrix3) Sub(o Matrix3) Matrix3 {
	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][j] - o[i][j]
		}
	}
	return out
}

// Transpose returns mᵀ. For a rotation this is its inverse.
func (m Matrix3) Transpose() Matrix3 {
	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Trace returns the sum of the diagonal.
func (m Matrix3) Trace() float64 {
	return m[0][0] + m[1][1] + m[2][2]
}

// Det returns the determinant.
func (m Matrix3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// MulVec returns m·v.
func (m Matrix3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Row returns row i as a vector.
func (m Matrix3) Row(i int) r3.Vector {
	return r3.Vector{X: m[i][0], Y: m[i][1], Z: m[i][2]}
}

// AlmostEqual reports whether every element differs by at most tol.
func (m Matrix3) AlmostEqual(o Matrix3, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(m[i][j]-o[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

// Pose is the placement of a tracked object: a rotation and a translation,
// both expressed in the tracking universe of the device that reported it.
// Translations are in meters.
type Pose struct {
	Rotation    Matrix3
	Translation r3.Vector
}

// PoseFromDeviceTransform builds a Pose from a device-to-absolute 3x4
// transform as reported by the tracking runtime. The rotation block is copied
// as is; the runtime is trusted to deliver an orthonormal matrix.
func PoseFromDeviceTransform(m [3][4]float64) Pose {
	var p Pose
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			p.Rotation[i][j] = m[i][j]
		}
	}
	p.Translation = r3.Vector{X: m[0][3], Y: m[1][3], Z: m[2][3]}
	return p
}

// NewPose returns a pose at (x, y, z) with identity rotation.
func NewPose(x, y, z float64) Pose {
	return Pose{Rotation: Identity(), Translation: r3.Vector{X: x, Y: y, Z: z}}
}

// DeviceTransform is the inverse of PoseFromDeviceTransform.
func (p Pose) DeviceTransform() [3][4]float64 {
	var m [3][4]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = p.Rotation[i][j]
		}
	}
	m[0][3] = p.Translation.X
	m[1][3] = p.Translation.Y
	m[2][3] = p.Translation.Z
	return m
}

// EulerAngles is the canonical representation of a calibrated rotation
// offset, in degrees. The rotation it describes is Rz(Roll)·Ry(Yaw)·Rx(Pitch):
// intrinsic Z, then Y, then X. The tracking universe is Y-up, so the rotation
// about Y is the yaw.
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

func degToRad(d float64) float64 { return d * math.Pi / 180.0 }
func radToDeg(r float64) float64 { return r * 180.0 / math.Pi }
