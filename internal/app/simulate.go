// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/space_calibrator/internal/calibration"
	"github.com/relabs-tech/space_calibrator/internal/orientation"
	"github.com/relabs-tech/space_calibrator/internal/profile"
	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

// SimulationOptions configures an in-process calibration against the mock
// rig.
type SimulationOptions struct {
	Rig tracking.MockRigConfig
	// Store receives the finished profile. Nil skips persistence.
	Store           profile.Store
	Tolerances      calibration.Tolerances
	SampleCount     int
	MinTickInterval time.Duration
	Logger          *zap.SugaredLogger
	// OnMessage, when set, sees every calibration message as it happens.
	OnMessage func(string)
}

// SimulationResult compares the calibration against the rig's ground truth.
type SimulationResult struct {
	Truth         tracking.MockRigConfig
	Rotation      orientation.EulerAngles
	TranslationCM r3.Vector
	Messages      []string
	Ticks         int
	// Elapsed is simulated time, not wall time.
	Elapsed time.Duration
}

// RotationError is the angle in degrees between the calibrated and true
// universe rotations.
func (r SimulationResult) RotationError() float64 {
	want := orientation.MatrixFromEulerZYX(r.Truth.UniverseRotation)
	got := orientation.MatrixFromEulerZYX(r.Rotation)
	return orientation.RotationAngle(want.Transpose().Mul(got)) * 180 / math.Pi
}

// TranslationError is the distance in centimeters between the calibrated and
// true universe translations.
func (r SimulationResult) TranslationError() float64 {
	return r.TranslationCM.Sub(r.Truth.UniverseTranslationCM).Norm()
}

// RunSimulation calibrates the mock rig on a simulated clock. The rig also
// plays the driver, so the translation phase sees its own rotation offset
// applied just like on real hardware.
func RunSimulation(opts SimulationOptions) (*SimulationResult, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.MinTickInterval <= 0 {
		opts.MinTickInterval = calibration.DefaultMinTickInterval
	}

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rig := tracking.NewMockRig(opts.Rig, clk)

	msgs := calibration.NewMessageLog(opts.Logger)
	if opts.OnMessage != nil {
		defer msgs.Subscribe(opts.OnMessage)()
	}

	cal, err := calibration.New(calibration.Options{
		Source:          rig,
		Applier:         rig,
		Store:           opts.Store,
		Messages:        msgs,
		Logger:          opts.Logger,
		Tolerances:      opts.Tolerances,
		SampleCount:     opts.SampleCount,
		MinTickInterval: opts.MinTickInterval,
	})
	if err != nil {
		return nil, err
	}

	start := clk.Now()
	cal.StartCalibration(tracking.MockReference, tracking.MockTarget)
	_, target := cal.Progress()
	// Begin plus both sampling phases, with slack for the gate.
	maxTicks := 2*target + 10

	res := &SimulationResult{Truth: rig.Config()}
	for res.Ticks < maxTicks && cal.State().Calibrating() {
		clk.Add(opts.MinTickInterval)
		cal.Tick(clk.Now())
		res.Ticks++
	}
	res.Elapsed = clk.Now().Sub(start)
	res.Messages = msgs.Messages()

	ctx := cal.Context()
	if cal.State().Calibrating() {
		return res, errors.Errorf("calibration still in state %s after %d ticks", cal.State(), res.Ticks)
	}
	if !ctx.ValidProfile {
		return res, errors.Errorf("calibration failed: %s", failureReason(res.Messages))
	}
	res.Rotation = ctx.CalibratedRotation
	res.TranslationCM = ctx.CalibratedTranslation
	return res, nil
}

// failureReason picks the message that explains an aborted run.
func failureReason(messages []string) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != "Aborting calibration!" {
			return messages[i]
		}
	}
	return "no messages"
}
