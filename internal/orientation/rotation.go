// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// gimbalLockEpsilon is how close |sin(yaw)| may get to 1 before roll is
// pinned to zero during Euler extraction.
const gimbalLockEpsilon = 1e-9

// RotationAxis returns the skew-symmetric part of r as a vector:
//
//	(r21-r12, r02-r20, r10-r01)
//
// For a proper rotation this is the rotation axis scaled by 2·sin(θ).
func RotationAxis(r Matrix3) r3.Vector {
	return r3.Vector{
		X: r[2][1] - r[1][2],
		Y: r[0][2] - r[2][0],
		Z: r[1][0] - r[0][1],
	}
}

// RotationAngle returns acos((trace(r)-1)/2), the rotation angle of r in
// radians, in [0, π]. The acos argument is clamped so round-off on a near
// identity matrix does not produce NaN.
func RotationAngle(r Matrix3) float64 {
	c := (r.Trace() - 1.0) / 2.0
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// AxisAngle returns the rotation of angle radians about axis (Rodrigues).
// The axis does not need to be normalized.
func AxisAngle(axis r3.Vector, angle float64) Matrix3 {
	a := axis.Normalize()
	s, c := math.Sincos(angle)
	t := 1 - c
	return Matrix3{
		{c + a.X*a.X*t, a.X*a.Y*t - a.Z*s, a.X*a.Z*t + a.Y*s},
		{a.Y*a.X*t + a.Z*s, c + a.Y*a.Y*t, a.Y*a.Z*t - a.X*s},
		{a.Z*a.X*t - a.Y*s, a.Z*a.Y*t + a.X*s, c + a.Z*a.Z*t},
	}
}

func rotX(rad float64) Matrix3 {
	s, c := math.Sincos(rad)
	return Matrix3{{1, 0, 0}, {0, c, -s}, {0, s, c}}
}

func rotY(rad float64) Matrix3 {
	s, c := math.Sincos(rad)
	return Matrix3{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
}

func rotZ(rad float64) Matrix3 {
	s, c := math.Sincos(rad)
	return Matrix3{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

// MatrixFromEulerZYX composes Rz(Roll)·Ry(Yaw)·Rx(Pitch).
func MatrixFromEulerZYX(e EulerAngles) Matrix3 {
	return rotZ(degToRad(e.Roll)).Mul(rotY(degToRad(e.Yaw))).Mul(rotX(degToRad(e.Pitch)))
}

// EulerZYXFromMatrix extracts the Z-Y-X angles of a rotation matrix.
// Yaw is kept in [-90°, 90°]; at gimbal lock roll is reported as zero and the
// whole residual rotation is attributed to pitch.
func EulerZYXFromMatrix(r Matrix3) EulerAngles {
	sy := -r[2][0]
	if sy > 1 {
		sy = 1
	} else if sy < -1 {
		sy = -1
	}
	yaw := math.Asin(sy)

	var roll, pitch float64
	if math.Abs(sy) < 1-gimbalLockEpsilon {
		roll = math.Atan2(r[1][0], r[0][0])
		pitch = math.Atan2(r[2][1], r[2][2])
	} else {
		roll = 0
		if sy > 0 {
			pitch = math.Atan2(r[0][1], r[1][1])
		} else {
			pitch = math.Atan2(-r[0][1], r[1][1])
		}
	}

	return EulerAngles{
		Roll:  radToDeg(roll),
		Yaw:   radToDeg(yaw),
		Pitch: radToDeg(pitch),
	}
}

// QuaternionFromEulerZYX composes the rotations about Z, then Y, then X into
// a unit quaternion. The offset-applying driver expects exactly this order.
func QuaternionFromEulerZYX(e EulerAngles) quat.Number {
	half := func(deg float64) (float64, float64) {
		return math.Sincos(degToRad(deg) / 2)
	}
	sz, cz := half(e.Roll)
	sy, cy := half(e.Yaw)
	sx, cx := half(e.Pitch)

	qz := quat.Number{Real: cz, Kmag: sz}
	qy := quat.Number{Real: cy, Jmag: sy}
	qx := quat.Number{Real: cx, Imag: sx}
	return quat.Mul(quat.Mul(qz, qy), qx)
}

// MatrixFromQuaternion converts q to a rotation matrix. q is normalized
// first; a zero quaternion yields the identity.
func MatrixFromQuaternion(q quat.Number) Matrix3 {
	n := quat.Abs(q)
	if n == 0 {
		return Identity()
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Matrix3{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// IdentityQuaternion is the rotation offset that leaves a device untouched.
func IdentityQuaternion() quat.Number {
	return quat.Number{Real: 1}
}
