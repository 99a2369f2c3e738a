package profile

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/relabs-tech/space_calibrator/internal/orientation"
)

// SchemaVersion is written into every stored profile.
const SchemaVersion = 1

// ErrNoProfile is returned by Store.Load when nothing has been saved yet.
var ErrNoProfile = errors.New("no calibration profile stored")

// Vec3 is a JSON-friendly 3-vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector converts to r3.
func (v Vec3) Vector() r3.Vector { return r3.Vector{X: v.X, Y: v.Y, Z: v.Z} }

// FromVector converts from r3.
func FromVector(v r3.Vector) Vec3 { return Vec3{X: v.X, Y: v.Y, Z: v.Z} }

// Profile is a persisted calibration result plus enough metadata to know
// which devices it belongs to.
type Profile struct {
	ID            string    `json:"id"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`

	ReferenceTrackingSystem string `json:"reference_tracking_system"`
	TargetTrackingSystem    string `json:"target_tracking_system"`
	ReferenceSerial         string `json:"reference_serial,omitempty"`
	TargetSerial            string `json:"target_serial,omitempty"`

	Rotation      orientation.EulerAngles `json:"rotation_deg"`
	TranslationCM Vec3                    `json:"translation_cm"`

	// Diagnostics of the solve that produced the profile. Zero for profiles
	// that were edited by hand.
	RotationDeltas       int     `json:"rotation_deltas,omitempty"`
	TranslationRank      int     `json:"translation_rank,omitempty"`
	TranslationCondition float64 `json:"translation_condition,omitempty"`
}

// New returns a profile stamped with a fresh ID and creation time. A
// non-finite condition number (rank-deficient solve) is stored as zero since
// JSON cannot carry it; the rank tells the story.
func New(rotation orientation.EulerAngles, translationCM r3.Vector, condition float64) *Profile {
	if math.IsInf(condition, 0) || math.IsNaN(condition) {
		condition = 0
	}
	return &Profile{
		ID:                   uuid.New().String(),
		SchemaVersion:        SchemaVersion,
		CreatedAt:            time.Now().UTC(),
		Rotation:             rotation,
		TranslationCM:        FromVector(translationCM),
		TranslationCondition: condition,
	}
}

// Validate checks the fields a loaded profile must have.
func (p *Profile) Validate() error {
	if p.TargetTrackingSystem == "" {
		return errors.New("profile has no target tracking system")
	}
	for _, v := range []float64{
		p.Rotation.Roll, p.Rotation.Yaw, p.Rotation.Pitch,
		p.TranslationCM.X, p.TranslationCM.Y, p.TranslationCM.Z,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("profile contains non-finite values")
		}
	}
	return nil
}

// Store persists profiles.
type Store interface {
	// Load returns the most recent profile or ErrNoProfile.
	Load() (*Profile, error)
	Save(p *Profile) error
}
