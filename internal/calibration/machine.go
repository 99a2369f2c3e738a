// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/space_calibrator/internal/offset"
	"github.com/relabs-tech/space_calibrator/internal/orientation"
	"github.com/relabs-tech/space_calibrator/internal/profile"
	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

// Options configures a Calibrator. Source and Applier are required; zero
// values elsewhere select the defaults.
type Options struct {
	Source  tracking.Source
	Applier offset.Applier
	// Store persists finished calibrations. Nil disables persistence.
	Store    profile.Store
	Messages MessageSink
	Logger   *zap.SugaredLogger

	Tolerances         Tolerances
	SampleCount        int
	MinTickInterval    time.Duration
	RescanInterval     time.Duration
	IdleUpdateInterval time.Duration

	// TargetTrackingSystem preselects which devices a loaded or edited
	// profile applies to. A finished calibration overrides it.
	TargetTrackingSystem string
}

// Calibrator is the calibration state machine. It is not safe for
// concurrent use: a single driving loop calls Tick and every other method.
type Calibrator struct {
	opts     Options
	logger   *zap.SugaredLogger
	messages MessageSink

	ctx     Context
	samples []Sample

	referenceSerial string
	targetSerial    string
	// devices of the run in progress, adopted only when it finishes
	pending  runDevices
	rotation RotationResult
	// previous committed rotation, restored when a run aborts after the
	// rotation phase
	committedRotation orientation.EulerAngles
}

// runDevices identifies the tracking systems and serials of a calibration run.
type runDevices struct {
	referenceSystem string
	targetSystem    string
	referenceSerial string
	targetSerial    string
}

// New creates a calibrator in the None state.
func New(opts Options) (*Calibrator, error) {
	if opts.Source == nil {
		return nil, errors.New("calibration: tracking source is required")
	}
	if opts.Applier == nil {
		return nil, errors.New("calibration: offset applier is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Messages == nil {
		opts.Messages = discardSink{}
	}
	opts.Tolerances = opts.Tolerances.withDefaults()
	if opts.SampleCount < 2 {
		opts.SampleCount = DefaultSampleCount
	}
	if opts.MinTickInterval <= 0 {
		opts.MinTickInterval = DefaultMinTickInterval
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = DefaultRescanInterval
	}
	if opts.IdleUpdateInterval <= 0 {
		opts.IdleUpdateInterval = DefaultIdleUpdateInterval
	}

	c := &Calibrator{
		opts:     opts,
		logger:   opts.Logger,
		messages: opts.Messages,
		ctx: Context{
			ReferenceID:          tracking.NoDevice,
			TargetID:             tracking.NoDevice,
			TargetTrackingSystem: opts.TargetTrackingSystem,
		},
	}
	c.setState(StateNone)
	return c, nil
}

// Context returns a copy of the calibrator's state.
func (c *Calibrator) Context() Context {
	return c.ctx.Clone()
}

// State returns the current phase.
func (c *Calibrator) State() State {
	return c.ctx.State
}

// Progress returns how many samples the current phase has collected and
// how many it needs.
func (c *Calibrator) Progress() (collected, target int) {
	return len(c.samples), c.opts.SampleCount
}

func (c *Calibrator) message(format string, args ...interface{}) {
	c.messages.Message(fmt.Sprintf(format, args...))
}

func (c *Calibrator) setState(s State) {
	if s != c.ctx.State {
		c.logger.Debugw("calibration state change", "from", c.ctx.State, "to", s)
	}
	c.ctx.State = s
	if s == StateNone {
		c.ctx.WantedUpdateInterval = c.opts.IdleUpdateInterval
	} else {
		c.ctx.WantedUpdateInterval = 0
	}
}

// StartCalibration begins a new run between the two devices. Any run in
// progress is discarded.
func (c *Calibrator) StartCalibration(referenceID, targetID tracking.DeviceID) {
	if cl, ok := c.messages.(interface{ Clear() }); ok {
		cl.Clear()
	}
	c.rollback()
	c.ctx.ReferenceID = referenceID
	c.ctx.TargetID = targetID
	c.setState(StateBegin)
	c.logger.Infow("calibration requested", "reference", referenceID, "target", targetID)
}

// Cancel aborts a running calibration. The last committed profile stays in
// effect.
func (c *Calibrator) Cancel() {
	if !c.ctx.State.Calibrating() {
		return
	}
	c.message("Calibration cancelled")
	c.rollback()
	c.setState(StateNone)
}

// abort ends the run after a failure.
func (c *Calibrator) abort() {
	c.message("Aborting calibration!")
	c.rollback()
	c.setState(StateNone)
}

// rollback drops the sample batch and the run's devices and, if the
// rotation phase already finished, restores the previously committed
// rotation.
func (c *Calibrator) rollback() {
	c.samples = nil
	c.pending = runDevices{}
	if c.ctx.State == StateTranslation {
		c.ctx.CalibratedRotation = c.committedRotation
	}
	c.rotation = RotationResult{}
}

// Tick advances the state machine. Calls closer together than the minimum
// tick interval are ignored. The returned duration is how soon the caller
// should tick again.
func (c *Calibrator) Tick(now time.Time) time.Duration {
	if !c.ctx.LastTick.IsZero() && now.Sub(c.ctx.LastTick) < c.opts.MinTickInterval {
		return c.ctx.WantedUpdateInterval
	}
	c.ctx.LastTick = now
	c.ctx.Poses = c.opts.Source.Snapshot().Normalized()

	switch c.ctx.State {
	case StateNone:
		if c.ctx.ValidProfile && now.Sub(c.ctx.LastScan) >= c.opts.RescanInterval {
			c.scan(now)
		}
	case StateEditing:
		if c.ctx.ValidProfile {
			c.scan(now)
		}
	case StateBegin:
		c.begin()
	case StateRotation, StateTranslation:
		sample := c.collectSample()
		if !sample.Valid {
			break
		}
		c.samples = append(c.samples, sample)
		if len(c.samples) < c.opts.SampleCount {
			break
		}
		if c.ctx.State == StateRotation {
			c.finishRotation()
		} else {
			c.finishTranslation(now)
		}
	}
	return c.ctx.WantedUpdateInterval
}

func (c *Calibrator) scan(now time.Time) {
	c.ctx.LastScan = now
	if err := c.ScanAndApplyProfile(); err != nil {
		c.logger.Warnw("applying profile offsets", "error", err)
	}
}

func (c *Calibrator) begin() {
	if err := c.checkDevices(); err != nil {
		for _, msg := range deviceProblems(err) {
			c.message("%s", msg)
		}
		c.abort()
		return
	}

	ref, _ := c.ctx.Poses.Device(c.ctx.ReferenceID)
	target, _ := c.ctx.Poses.Device(c.ctx.TargetID)
	c.pending = runDevices{
		referenceSystem: ref.TrackingSystem,
		targetSystem:    target.TrackingSystem,
		referenceSerial: ref.Serial,
		targetSerial:    target.Serial,
	}

	if err := offset.ResetAndDisable(c.opts.Applier, c.ctx.TargetID); err != nil {
		c.logger.Warnw("resetting target offsets", "target", c.ctx.TargetID, "error", err)
	}
	c.samples = make([]Sample, 0, c.opts.SampleCount)
	c.setState(StateRotation)
	c.message("Starting calibration, referenceID=%d targetID=%d", c.ctx.ReferenceID, c.ctx.TargetID)
}

func (c *Calibrator) finishRotation() {
	res, err := CalibrateRotation(c.samples, c.opts.Tolerances)
	c.message("Got %d samples with %d delta samples", len(c.samples), res.ValidDeltas)
	if err != nil {
		if errors.Is(err, ErrInsufficientDeltas) {
			c.message("Not enough rotation between samples, turn the devices through more orientations")
		} else {
			c.message("Rotation calibration failed: %v", err)
		}
		c.abort()
		return
	}

	c.rotation = res
	c.committedRotation = c.ctx.CalibratedRotation
	c.ctx.CalibratedRotation = res.Euler
	c.message("Calibrated rotation: yaw=%.2f pitch=%.2f roll=%.2f", res.Euler.Yaw, res.Euler.Pitch, res.Euler.Roll)

	target := c.ctx.TargetID
	if err := c.opts.Applier.SetRotationOffset(target, orientation.QuaternionFromEulerZYX(res.Euler)); err != nil {
		c.logger.Warnw("applying rotation offset", "target", target, "error", err)
	}
	if err := c.opts.Applier.EnableOffsets(target, true); err != nil {
		c.logger.Warnw("enabling offsets", "target", target, "error", err)
	}

	c.samples = c.samples[:0]
	c.setState(StateTranslation)
}

func (c *Calibrator) finishTranslation(now time.Time) {
	res := CalibrateTranslation(c.samples, c.opts.Tolerances)
	t := res.Centimeters
	c.message("Calibrated translation x=%.2f y=%.2f z=%.2f", t.X, t.Y, t.Z)
	c.message("Translation fit: %d equations, rank %d, condition number %.3g", res.Equations, res.Rank, res.Condition)

	if err := offset.Apply(c.opts.Applier, c.ctx.TargetID, c.ctx.CalibratedRotation, t); err != nil {
		c.logger.Warnw("applying offsets", "target", c.ctx.TargetID, "error", err)
	}

	c.ctx.CalibratedTranslation = t
	c.ctx.ReferenceTrackingSystem = c.pending.referenceSystem
	c.ctx.TargetTrackingSystem = c.pending.targetSystem
	c.referenceSerial = c.pending.referenceSerial
	c.targetSerial = c.pending.targetSerial
	c.pending = runDevices{}
	c.ctx.ValidProfile = true
	c.ctx.LastScan = now
	c.samples = nil

	p := c.newProfile(now, res.Condition)
	p.RotationDeltas = c.rotation.ValidDeltas
	p.TranslationRank = res.Rank
	c.rotation = RotationResult{}
	c.setState(StateNone)

	switch err := c.save(p); {
	case err != nil:
		c.logger.Errorw("saving profile", "error", err)
		c.message("Finished calibration, saving profile failed: %v", err)
	case c.opts.Store == nil:
		c.message("Finished calibration")
	default:
		c.message("Finished calibration, profile saved")
	}
}

func (c *Calibrator) newProfile(now time.Time, condition float64) *profile.Profile {
	p := profile.New(c.ctx.CalibratedRotation, c.ctx.CalibratedTranslation, condition)
	p.CreatedAt = now.UTC()
	p.ReferenceTrackingSystem = c.ctx.ReferenceTrackingSystem
	p.TargetTrackingSystem = c.ctx.TargetTrackingSystem
	p.ReferenceSerial = c.referenceSerial
	p.TargetSerial = c.targetSerial
	return p
}

func (c *Calibrator) save(p *profile.Profile) error {
	if c.opts.Store == nil {
		return nil
	}
	return errors.Wrap(c.opts.Store.Save(p), "save profile")
}

// LoadProfile adopts the most recent stored profile, so the scanner starts
// applying it on the next idle tick. It returns profile.ErrNoProfile when
// nothing is stored.
func (c *Calibrator) LoadProfile() error {
	if c.opts.Store == nil {
		return profile.ErrNoProfile
	}
	p, err := c.opts.Store.Load()
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return errors.Wrap(err, "stored profile")
	}
	c.ctx.CalibratedRotation = p.Rotation
	c.ctx.CalibratedTranslation = p.TranslationCM.Vector()
	c.ctx.ReferenceTrackingSystem = p.ReferenceTrackingSystem
	c.ctx.TargetTrackingSystem = p.TargetTrackingSystem
	c.referenceSerial = p.ReferenceSerial
	c.targetSerial = p.TargetSerial
	c.ctx.ValidProfile = true
	c.ctx.LastScan = time.Time{}
	c.logger.Infow("loaded calibration profile", "id", p.ID, "target_system", p.TargetTrackingSystem,
		"rotation", p.Rotation, "translation_cm", p.TranslationCM)
	return nil
}

// BeginEditing switches to manual offset editing. Offsets are re-applied on
// every tick while editing.
func (c *Calibrator) BeginEditing() error {
	if c.ctx.State != StateNone {
		return errors.Errorf("cannot edit offsets while in state %s", c.ctx.State)
	}
	c.setState(StateEditing)
	return nil
}

// SetOffsets replaces the calibrated offsets while editing.
func (c *Calibrator) SetOffsets(rotation orientation.EulerAngles, translationCM r3.Vector) error {
	if c.ctx.State != StateEditing {
		return errors.Errorf("offsets can only be set while editing, state is %s", c.ctx.State)
	}
	if c.ctx.TargetTrackingSystem == "" {
		return errors.New("no target tracking system known, calibrate first")
	}
	c.ctx.CalibratedRotation = rotation
	c.ctx.CalibratedTranslation = translationCM
	c.ctx.ValidProfile = true
	return nil
}

// EndEditing leaves the editing state and persists the edited offsets.
func (c *Calibrator) EndEditing(now time.Time) error {
	if c.ctx.State != StateEditing {
		return errors.Errorf("not editing, state is %s", c.ctx.State)
	}
	c.setState(StateNone)
	if !c.ctx.ValidProfile {
		return nil
	}
	if err := c.save(c.newProfile(now, 0)); err != nil {
		return err
	}
	if c.opts.Store != nil {
		c.message("Edited offsets saved")
	}
	return nil
}
