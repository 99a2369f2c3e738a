package calibration

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/space_calibrator/internal/orientation"
)

// wobble is a deterministic sequence of well spread orientations and
// positions, in meters.
func wobble(k float64) orientation.Pose {
	return orientation.Pose{
		Rotation: orientation.MatrixFromEulerZYX(orientation.EulerAngles{
			Roll:  40 * math.Sin(0.7*k),
			Yaw:   170 * math.Sin(0.31*k),
			Pitch: 50 * math.Cos(0.53*k),
		}),
		Translation: r3.Vector{X: 0.4 * math.Sin(0.2*k), Y: 1.1 + 0.2*math.Cos(0.45*k), Z: 0.3 * math.Sin(0.8*k)},
	}
}

// rotatedSamples builds samples where the target system sees the reference
// orientations through the universe rotation, with the target mounted at
// a fixed rotation on the reference.
func rotatedSamples(n int, universe, mount orientation.EulerAngles) []Sample {
	u := orientation.MatrixFromEulerZYX(universe).Transpose()
	m := orientation.MatrixFromEulerZYX(mount)
	samples := make([]Sample, n)
	for k := range samples {
		ref := wobble(float64(k))
		samples[k] = Sample{
			Ref:    ref,
			Target: orientation.Pose{Rotation: u.Mul(ref.Rotation).Mul(m), Translation: u.MulVec(ref.Translation)},
			Valid:  true,
		}
	}
	return samples
}

// leverSamples builds rotation-corrected samples of a target mounted at a
// lever arm on the reference, seen through a universe translation.
func leverSamples(n int, universeCM, leverCM r3.Vector, mount orientation.EulerAngles) []Sample {
	t := orientation.CentimetersToMeters(universeCM)
	lever := orientation.CentimetersToMeters(leverCM)
	m := orientation.MatrixFromEulerZYX(mount)
	samples := make([]Sample, n)
	for k := range samples {
		ref := wobble(float64(k))
		samples[k] = Sample{
			Ref: ref,
			Target: orientation.Pose{
				Rotation:    ref.Rotation.Mul(m),
				Translation: ref.Translation.Add(ref.Rotation.MulVec(lever)).Sub(t),
			},
			Valid: true,
		}
	}
	return samples
}

func assertVectorNear(t *testing.T, want, got r3.Vector, delta float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, delta, "x")
	assert.InDelta(t, want.Y, got.Y, delta, "y")
	assert.InDelta(t, want.Z, got.Z, delta, "z")
}

func TestDeltaRotationSamplesIdentical(t *testing.T) {
	s := rotatedSamples(1, orientation.EulerAngles{Yaw: 30}, orientation.EulerAngles{})[0]
	d := DeltaRotationSamples(s, s, DefaultTolerances())
	assert.False(t, d.Valid)
	assert.Equal(t, DeltaSample{}, d)
}

func TestDeltaRotationSamplesAxes(t *testing.T) {
	universe := orientation.EulerAngles{Roll: 5, Yaw: 30, Pitch: -10}
	u := orientation.MatrixFromEulerZYX(universe).Transpose()
	s1 := Sample{Ref: orientation.NewPose(0, 0, 0), Target: orientation.Pose{Rotation: u}, Valid: true}
	rot := orientation.AxisAngle(r3.Vector{Z: 1}, 0.8)
	s2 := Sample{
		Ref:    orientation.Pose{Rotation: rot},
		Target: orientation.Pose{Rotation: u.Mul(rot)},
		Valid:  true,
	}

	d := DeltaRotationSamples(s1, s2, DefaultTolerances())
	require.True(t, d.Valid)
	// s1·s2ᵀ is a rotation by -0.8 about z
	assertVectorNear(t, r3.Vector{Z: -1}, d.Ref, 1e-9)
	assertVectorNear(t, u.MulVec(r3.Vector{Z: -1}), d.Target, 1e-9)
	assert.InDelta(t, 1, d.Ref.Norm(), 1e-12)
	assert.InDelta(t, 1, d.Target.Norm(), 1e-12)
}

func TestDeltaRotationSamplesThreshold(t *testing.T) {
	s1 := Sample{Ref: orientation.NewPose(0, 0, 0), Target: orientation.NewPose(0, 0, 0), Valid: true}
	rot := orientation.AxisAngle(r3.Vector{X: 1}, 0.3)
	s2 := Sample{Ref: orientation.Pose{Rotation: rot}, Target: orientation.Pose{Rotation: rot}, Valid: true}

	assert.False(t, DeltaRotationSamples(s1, s2, DefaultTolerances()).Valid)

	loose := DefaultTolerances()
	loose.MinDeltaAngle = 0.2
	assert.True(t, DeltaRotationSamples(s1, s2, loose).Valid)

	// Only one side rotated far enough.
	s3 := Sample{Ref: orientation.Pose{Rotation: orientation.AxisAngle(r3.Vector{X: 1}, 1)}, Target: orientation.Pose{Rotation: rot}, Valid: true}
	assert.False(t, DeltaRotationSamples(s1, s3, DefaultTolerances()).Valid)
}

func TestCalibrateRotationRecoversOffset(t *testing.T) {
	cases := []struct {
		name     string
		universe orientation.EulerAngles
		mount    orientation.EulerAngles
	}{
		{"yaw", orientation.EulerAngles{Yaw: 30}, orientation.EulerAngles{}},
		{"compound", orientation.EulerAngles{Roll: 12, Yaw: -47, Pitch: 20}, orientation.EulerAngles{Roll: 5, Yaw: 80, Pitch: -30}},
		{"upside down", orientation.EulerAngles{Roll: 175, Yaw: 10, Pitch: -3}, orientation.EulerAngles{Pitch: 90}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			samples := rotatedSamples(40, tc.universe, tc.mount)
			res, err := CalibrateRotation(samples, DefaultTolerances())
			require.NoError(t, err)
			assert.Equal(t, 40*39/2, res.TotalPairs)
			assert.Greater(t, res.ValidDeltas, 100)
			assert.True(t, orientation.MatrixFromEulerZYX(tc.universe).AlmostEqual(res.Matrix, 1e-6))
			assert.InDelta(t, tc.universe.Roll, res.Euler.Roll, 1e-4)
			assert.InDelta(t, tc.universe.Yaw, res.Euler.Yaw, 1e-4)
			assert.InDelta(t, tc.universe.Pitch, res.Euler.Pitch, 1e-4)
		})
	}
}

func TestCalibrateRotationThreeSamples(t *testing.T) {
	universe := orientation.EulerAngles{Yaw: 30}
	u := orientation.MatrixFromEulerZYX(universe).Transpose()
	var samples []Sample
	for _, axis := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
		ref := orientation.AxisAngle(axis, 1.2)
		samples = append(samples, Sample{
			Ref:    orientation.Pose{Rotation: ref},
			Target: orientation.Pose{Rotation: u.Mul(ref)},
			Valid:  true,
		})
	}
	res, err := CalibrateRotation(samples, DefaultTolerances())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ValidDeltas)
	assert.InDelta(t, 30, res.Euler.Yaw, 1e-6)
}

func TestCalibrateRotationInsufficientDeltas(t *testing.T) {
	s := rotatedSamples(1, orientation.EulerAngles{Yaw: 30}, orientation.EulerAngles{})[0]
	samples := []Sample{s, s, s, s}
	res, err := CalibrateRotation(samples, DefaultTolerances())
	assert.ErrorIs(t, err, ErrInsufficientDeltas)
	assert.Equal(t, 6, res.TotalPairs)
	assert.Zero(t, res.ValidDeltas)
	assert.Equal(t, orientation.EulerAngles{}, res.Euler)

	_, err = CalibrateRotation(nil, DefaultTolerances())
	assert.ErrorIs(t, err, ErrInsufficientDeltas)
}

func TestCalibrateTranslationRecoversOffset(t *testing.T) {
	want := r3.Vector{X: 40, Y: -5, Z: 120}
	samples := leverSamples(30, want, r3.Vector{X: 3, Y: -4, Z: 8}, orientation.EulerAngles{Roll: 10, Yaw: -15, Pitch: 5})

	res := CalibrateTranslation(samples, DefaultTolerances())
	assert.Equal(t, 30*29/2*6, res.Equations)
	assert.Equal(t, 3, res.Rank)
	assert.False(t, math.IsInf(res.Condition, 0))
	assert.GreaterOrEqual(t, res.Condition, 1.0)
	assertVectorNear(t, want, res.Centimeters, 1e-6)
}

func TestCalibrateTranslationDegenerate(t *testing.T) {
	for _, n := range []int{0, 1} {
		res := CalibrateTranslation(leverSamples(n, r3.Vector{X: 1}, r3.Vector{}, orientation.EulerAngles{}), DefaultTolerances())
		assert.Zero(t, res.Rank)
		assert.Equal(t, r3.Vector{}, res.Centimeters)
		assert.True(t, math.IsInf(res.Condition, 1))
	}

	// No relative motion at all: every equation is 0 = 0.
	s := leverSamples(1, r3.Vector{X: 10}, r3.Vector{Y: 5}, orientation.EulerAngles{})[0]
	res := CalibrateTranslation([]Sample{s, s, s}, DefaultTolerances())
	assert.Equal(t, 18, res.Equations)
	assert.Zero(t, res.Rank)
	assert.Equal(t, r3.Vector{}, res.Centimeters)
	assert.True(t, math.IsInf(res.Condition, 1))
}

func TestCalibrateTranslationSingleAxisMotion(t *testing.T) {
	// Rotating only about Y leaves the Y component unobservable; the
	// minimum-norm solution still recovers X and Z.
	want := r3.Vector{X: 25, Y: 0, Z: -60}
	tm := orientation.CentimetersToMeters(want)
	var samples []Sample
	for k := 0; k < 12; k++ {
		rot := orientation.AxisAngle(r3.Vector{Y: 1}, 0.5*float64(k))
		samples = append(samples, Sample{
			Ref:    orientation.Pose{Rotation: rot, Translation: r3.Vector{X: 0.1 * float64(k)}},
			Target: orientation.Pose{Rotation: rot, Translation: r3.Vector{X: 0.1 * float64(k)}.Sub(tm)},
			Valid:  true,
		})
	}
	res := CalibrateTranslation(samples, DefaultTolerances())
	assert.Equal(t, 2, res.Rank)
	assertVectorNear(t, want, res.Centimeters, 1e-6)
}
