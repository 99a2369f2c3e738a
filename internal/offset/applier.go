package offset

import (
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/space_calibrator/internal/orientation"
	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

// Applier is the driver-side collaborator that corrects a device's reported
// pose: world = rotation·raw + translation. Calls are idempotent; the profile
// scanner re-issues the same offsets every few seconds.
type Applier interface {
	SetRotationOffset(id tracking.DeviceID, rotation quat.Number) error
	SetTranslationOffset(id tracking.DeviceID, meters r3.Vector) error
	EnableOffsets(id tracking.DeviceID, enable bool) error
}

// ResetAndDisable zeroes both offsets of id and turns offset application off,
// so a fresh calibration sees the device's raw pose.
func ResetAndDisable(a Applier, id tracking.DeviceID) error {
	return multierr.Combine(
		a.SetRotationOffset(id, orientation.IdentityQuaternion()),
		a.SetTranslationOffset(id, r3.Vector{}),
		a.EnableOffsets(id, false),
	)
}

// Apply pushes a full rotation + translation offset to id and enables it.
func Apply(a Applier, id tracking.DeviceID, rotation orientation.EulerAngles, translationCM r3.Vector) error {
	return multierr.Combine(
		a.SetRotationOffset(id, orientation.QuaternionFromEulerZYX(rotation)),
		a.SetTranslationOffset(id, orientation.CentimetersToMeters(translationCM)),
		a.EnableOffsets(id, true),
	)
}
