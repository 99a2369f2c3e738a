package orientation

import "github.com/golang/geo/r3"

// The tracking runtime works in meters; calibration results are reported and
// stored in centimeters.
const (
	metersPerCentimeter = 0.01
	centimetersPerMeter = 100.0
)

// CentimetersToMeters converts a translation in cm to the runtime's unit.
func CentimetersToMeters(cm r3.Vector) r3.Vector {
	return cm.Mul(metersPerCentimeter)
}

// MetersToCentimeters converts a runtime translation to cm.
func MetersToCentimeters(m r3.Vector) r3.Vector {
	return m.Mul(centimetersPerMeter)
}
