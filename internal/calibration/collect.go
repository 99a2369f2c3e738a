// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"go.uber.org/multierr"
)

// deviceProblem is a readiness failure, worded for the message log.
type deviceProblem string

func (p deviceProblem) Error() string { return string(p) }

const (
	errMissingReference     deviceProblem = "Missing reference device"
	errReferenceNotTracking deviceProblem = "Reference device is not tracking"
	errMissingTarget        deviceProblem = "Missing target device"
	errTargetNotTracking    deviceProblem = "Target device is not tracking"
)

// checkDevices reports every reason the configured devices cannot be sampled
// from the current snapshot.
func (c *Calibrator) checkDevices() error {
	var err error
	switch {
	case !c.ctx.ReferenceID.Valid():
		err = multierr.Append(err, errMissingReference)
	case !c.ctx.Poses.Tracking(c.ctx.ReferenceID):
		err = multierr.Append(err, errReferenceNotTracking)
	}
	switch {
	case !c.ctx.TargetID.Valid():
		err = multierr.Append(err, errMissingTarget)
	case !c.ctx.Poses.Tracking(c.ctx.TargetID):
		err = multierr.Append(err, errTargetNotTracking)
	}
	return err
}

func deviceProblems(err error) []string {
	errs := multierr.Errors(err)
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}

// collectSample pairs the current poses of the reference and the target.
// If either is not tracking the run is aborted and the sample is invalid.
func (c *Calibrator) collectSample() Sample {
	if err := c.checkDevices(); err != nil {
		for _, msg := range deviceProblems(err) {
			c.message("%s", msg)
		}
		c.abort()
		return Sample{}
	}
	ref, _ := c.ctx.Poses.Device(c.ctx.ReferenceID)
	target, _ := c.ctx.Poses.Device(c.ctx.TargetID)
	return Sample{
		Ref:    ref.Pose(),
		Target: target.Pose(),
		Valid:  true,
	}
}
