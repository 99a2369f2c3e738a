package calibration

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/space_calibrator/internal/logging"
	"github.com/relabs-tech/space_calibrator/internal/offset"
	"github.com/relabs-tech/space_calibrator/internal/orientation"
	"github.com/relabs-tech/space_calibrator/internal/profile"
	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

const (
	refID    tracking.DeviceID = 1
	targetID tracking.DeviceID = 2
)

// pairSource serves one new pose pair per snapshot: the reference wobbles,
// the target sees it through a fixed universe rotation.
type pairSource struct {
	universe orientation.Matrix3
	calls    int

	refTracking    bool
	targetTracking bool
}

func newPairSource(universe orientation.EulerAngles) *pairSource {
	return &pairSource{
		universe:       orientation.MatrixFromEulerZYX(universe),
		refTracking:    true,
		targetTracking: true,
	}
}

func (s *pairSource) Snapshot() tracking.Snapshot {
	ref := wobble(float64(s.calls))
	s.calls++
	target := orientation.Pose{
		Rotation:    s.universe.Transpose().Mul(ref.Rotation),
		Translation: s.universe.Transpose().MulVec(ref.Translation),
	}
	return tracking.Snapshot{Devices: []tracking.Device{
		{ID: targetID, Class: tracking.ClassController, TrackingSystem: "oculus", Serial: "OVR-1",
			PoseValid: s.targetTracking, DeviceToAbsolute: target.DeviceTransform()},
		{ID: refID, Class: tracking.ClassController, TrackingSystem: "lighthouse", Serial: "LHR-1",
			PoseValid: s.refTracking, DeviceToAbsolute: ref.DeviceTransform()},
	}}
}

type ticker struct {
	t   *testing.T
	cal *Calibrator
	now time.Time
}

func (tk *ticker) tick(n int) {
	for i := 0; i < n; i++ {
		tk.now = tk.now.Add(DefaultMinTickInterval)
		tk.cal.Tick(tk.now)
	}
}

func newTestCalibrator(t *testing.T, src tracking.Source, store profile.Store) (*Calibrator, *offset.Recorder, *MessageLog, *ticker) {
	t.Helper()
	logger, _ := logging.NewObservedTestLogger(t)
	rec := &offset.Recorder{}
	if a, ok := src.(offset.Applier); ok {
		rec.Next = a
	}
	msgs := NewMessageLog(logger)
	cal, err := New(Options{
		Source:   src,
		Applier:  rec,
		Store:    store,
		Messages: msgs,
		Logger:   logger,
	})
	require.NoError(t, err)
	return cal, rec, msgs, &ticker{t: t, cal: cal, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Applier: &offset.Recorder{}})
	assert.Error(t, err)
	_, err = New(Options{Source: newPairSource(orientation.EulerAngles{})})
	assert.Error(t, err)
}

func TestIdleState(t *testing.T) {
	cal, rec, _, tk := newTestCalibrator(t, newPairSource(orientation.EulerAngles{}), nil)
	assert.Equal(t, StateNone, cal.State())
	assert.Equal(t, time.Second, cal.Context().WantedUpdateInterval)
	assert.Equal(t, tracking.NoDevice, cal.Context().TargetID)

	tk.tick(10)
	assert.Equal(t, StateNone, cal.State())
	assert.Empty(t, rec.Calls(), "no profile, nothing to apply")
}

func TestTickIsRateLimited(t *testing.T) {
	src := newPairSource(orientation.EulerAngles{})
	cal, _, _, _ := newTestCalibrator(t, src, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cal.Tick(now)
	cal.Tick(now.Add(10 * time.Millisecond))
	cal.Tick(now.Add(49 * time.Millisecond))
	assert.Equal(t, 1, src.calls)

	cal.Tick(now.Add(50 * time.Millisecond))
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, now.Add(50*time.Millisecond), cal.Context().LastTick)
}

func TestBeginMissingTargetAborts(t *testing.T) {
	cal, rec, msgs, tk := newTestCalibrator(t, newPairSource(orientation.EulerAngles{}), nil)

	cal.StartCalibration(refID, tracking.NoDevice)
	assert.Equal(t, StateBegin, cal.State())
	assert.Zero(t, cal.Context().WantedUpdateInterval)

	for i := 0; i < 20; i++ {
		tk.tick(1)
		assert.NotEqual(t, StateRotation, cal.State())
	}
	assert.Equal(t, StateNone, cal.State())
	assert.Equal(t, []string{"Missing target device", "Aborting calibration!"}, msgs.Messages())
	assert.Empty(t, rec.Calls())
	assert.Equal(t, time.Second, cal.Context().WantedUpdateInterval)
}

func TestBeginReferenceNotTracking(t *testing.T) {
	src := newPairSource(orientation.EulerAngles{})
	src.refTracking = false
	cal, _, msgs, tk := newTestCalibrator(t, src, nil)

	cal.StartCalibration(refID, targetID)
	tk.tick(1)
	assert.Equal(t, StateNone, cal.State())
	assert.Equal(t, []string{"Reference device is not tracking", "Aborting calibration!"}, msgs.Messages())
}

func TestBeginReportsEveryProblem(t *testing.T) {
	src := newPairSource(orientation.EulerAngles{})
	src.targetTracking = false
	cal, _, msgs, tk := newTestCalibrator(t, src, nil)

	cal.StartCalibration(tracking.NoDevice, targetID)
	tk.tick(1)
	assert.Equal(t, []string{"Missing reference device", "Target device is not tracking", "Aborting calibration!"}, msgs.Messages())

	// A new run clears the previous run's messages.
	cal.StartCalibration(refID, 40)
	assert.Empty(t, msgs.Messages())
	tk.tick(1)
	assert.Equal(t, []string{"Target device is not tracking", "Aborting calibration!"}, msgs.Messages())
}

func TestRotationPhaseRecoversYaw(t *testing.T) {
	cal, rec, msgs, tk := newTestCalibrator(t, newPairSource(orientation.EulerAngles{Yaw: 30}), nil)

	cal.StartCalibration(refID, targetID)
	tk.tick(1)
	require.Equal(t, StateRotation, cal.State())
	assert.Equal(t, []offset.Call{
		{Kind: offset.KindRotation, ID: targetID, Rotation: orientation.IdentityQuaternion()},
		{Kind: offset.KindTranslation, ID: targetID},
		{Kind: offset.KindEnabled, ID: targetID, Enabled: false},
	}, rec.Calls())
	rec.Reset()

	tk.tick(99)
	collected, want := cal.Progress()
	assert.Equal(t, 99, collected)
	assert.Equal(t, 100, want)
	assert.Equal(t, StateRotation, cal.State())

	tk.tick(1)
	require.Equal(t, StateTranslation, cal.State())
	collected, _ = cal.Progress()
	assert.Zero(t, collected)

	ctx := cal.Context()
	assert.InDelta(t, 30, ctx.CalibratedRotation.Yaw, 1)
	assert.InDelta(t, 0, ctx.CalibratedRotation.Pitch, 1)
	assert.InDelta(t, 0, ctx.CalibratedRotation.Roll, 1)
	assert.False(t, ctx.ValidProfile)
	assert.Empty(t, ctx.TargetTrackingSystem, "tracking systems change only when the run finishes")
	assert.Empty(t, ctx.ReferenceTrackingSystem)

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, offset.KindRotation, calls[0].Kind)
	assert.Equal(t, offset.Call{Kind: offset.KindEnabled, ID: targetID, Enabled: true}, calls[1])

	log := msgs.Messages()
	assert.Contains(t, log, "Starting calibration, referenceID=1 targetID=2")
	var got string
	for _, m := range log {
		if strings.HasPrefix(m, "Got 100 samples with ") {
			got = m
		}
	}
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "Got 100 samples with 0 delta samples", got)
	assert.Contains(t, log[len(log)-1], "Calibrated rotation: yaw=30.00")
}

func TestRotationPhaseWithoutMotionAborts(t *testing.T) {
	src := tracking.SourceFunc(func() tracking.Snapshot {
		pose := orientation.NewPose(0, 1, 0).DeviceTransform()
		return tracking.Snapshot{Devices: []tracking.Device{
			{ID: refID, Class: tracking.ClassController, TrackingSystem: "lighthouse", PoseValid: true, DeviceToAbsolute: pose},
			{ID: targetID, Class: tracking.ClassController, TrackingSystem: "oculus", PoseValid: true, DeviceToAbsolute: pose},
		}}
	})
	cal, _, msgs, tk := newTestCalibrator(t, src, nil)

	cal.StartCalibration(refID, targetID)
	tk.tick(101)
	assert.Equal(t, StateNone, cal.State())
	assert.Equal(t, orientation.EulerAngles{}, cal.Context().CalibratedRotation)
	assert.Contains(t, msgs.Messages(), "Got 100 samples with 0 delta samples")
	assert.Equal(t, "Aborting calibration!", msgs.Messages()[len(msgs.Messages())-1])
}

func TestTrackingLossDuringTranslationRestoresRotation(t *testing.T) {
	src := newPairSource(orientation.EulerAngles{Yaw: 30})
	cal, _, msgs, tk := newTestCalibrator(t, src, nil)

	cal.StartCalibration(refID, targetID)
	tk.tick(101)
	require.Equal(t, StateTranslation, cal.State())
	tk.tick(10)

	src.targetTracking = false
	tk.tick(1)
	assert.Equal(t, StateNone, cal.State())
	ctx := cal.Context()
	assert.Equal(t, orientation.EulerAngles{}, ctx.CalibratedRotation)
	assert.False(t, ctx.ValidProfile)
	collected, _ := cal.Progress()
	assert.Zero(t, collected)
	log := msgs.Messages()
	assert.Equal(t, []string{"Target device is not tracking", "Aborting calibration!"}, log[len(log)-2:])
}

func TestAbortKeepsProfileTrackingSystem(t *testing.T) {
	store := profile.NewJSONStore(filepath.Join(t.TempDir(), "profile.json"))
	src := newPairSource(orientation.EulerAngles{})
	cal, rec, msgs, tk := newTestCalibrator(t, src, store)

	p := profile.New(orientation.EulerAngles{Yaw: 12}, r3.Vector{X: 1}, 4)
	p.ReferenceTrackingSystem = "lighthouse"
	p.TargetTrackingSystem = "oculus"
	p.TargetSerial = "OVR-1"
	require.NoError(t, store.Save(p))
	require.NoError(t, cal.LoadProfile())

	// Roles swapped: the lighthouse controller is this run's target.
	cal.StartCalibration(targetID, refID)
	tk.tick(1)
	require.Equal(t, StateRotation, cal.State())
	assert.Equal(t, "oculus", cal.Context().TargetTrackingSystem)
	tk.tick(5)

	src.refTracking = false
	tk.tick(1)
	require.Equal(t, StateNone, cal.State())
	assert.Equal(t, "Aborting calibration!", msgs.Messages()[len(msgs.Messages())-1])

	ctx := cal.Context()
	assert.True(t, ctx.ValidProfile)
	assert.Equal(t, "oculus", ctx.TargetTrackingSystem)
	assert.Equal(t, "lighthouse", ctx.ReferenceTrackingSystem)
	assert.Equal(t, 12.0, ctx.CalibratedRotation.Yaw)
	assert.Equal(t, "OVR-1", cal.newProfile(tk.now, 0).TargetSerial)

	// The rescan keeps applying the stored profile to the oculus devices only.
	src.refTracking = true
	rec.Reset()
	tk.tick(60)
	require.NotEmpty(t, rec.Calls())
	for _, c := range rec.Calls() {
		assert.Equal(t, targetID, c.ID, "call %+v", c)
	}

	// Same after a cancel.
	cal.StartCalibration(targetID, refID)
	tk.tick(3)
	cal.Cancel()
	assert.Equal(t, "oculus", cal.Context().TargetTrackingSystem)
	assert.Equal(t, "lighthouse", cal.Context().ReferenceTrackingSystem)
}

func TestCancel(t *testing.T) {
	cal, _, msgs, tk := newTestCalibrator(t, newPairSource(orientation.EulerAngles{Yaw: 30}), nil)

	cal.Cancel()
	assert.Empty(t, msgs.Messages(), "cancel while idle is a no-op")

	cal.StartCalibration(refID, targetID)
	tk.tick(20)
	cal.Cancel()
	assert.Equal(t, StateNone, cal.State())
	assert.Equal(t, "Calibration cancelled", msgs.Messages()[len(msgs.Messages())-1])
	collected, _ := cal.Progress()
	assert.Zero(t, collected)
}

func TestFullCalibrationAgainstMockRig(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rigCfg := tracking.DefaultMockRigConfig()
	rig := tracking.NewMockRig(rigCfg, clk)
	store := profile.NewJSONStore(filepath.Join(t.TempDir(), "profile.json"))

	cal, rec, msgs, _ := newTestCalibrator(t, rig, store)
	cal.StartCalibration(tracking.MockReference, tracking.MockTarget)

	for i := 0; i < 500; i++ {
		clk.Add(DefaultMinTickInterval)
		cal.Tick(clk.Now())
		if i > 0 && cal.State() == StateNone {
			break
		}
	}
	require.Equal(t, StateNone, cal.State(), "messages: %v", msgs.Messages())

	ctx := cal.Context()
	assert.True(t, ctx.ValidProfile)
	assert.InDelta(t, rigCfg.UniverseRotation.Yaw, ctx.CalibratedRotation.Yaw, 1e-3)
	assert.InDelta(t, 0, ctx.CalibratedRotation.Roll, 1e-3)
	assert.InDelta(t, 0, ctx.CalibratedRotation.Pitch, 1e-3)
	assertVectorNear(t, rigCfg.UniverseTranslationCM, ctx.CalibratedTranslation, 1e-3)
	assert.Equal(t, "oculus", ctx.TargetTrackingSystem)
	assert.Equal(t, "lighthouse", ctx.ReferenceTrackingSystem)
	assert.Equal(t, "Finished calibration, profile saved", msgs.Messages()[len(msgs.Messages())-1])

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "oculus", saved.TargetTrackingSystem)
	assert.Equal(t, "lighthouse", saved.ReferenceTrackingSystem)
	assert.Equal(t, "OVR-TGT", saved.TargetSerial)
	assert.Equal(t, 3, saved.TranslationRank)
	assert.Positive(t, saved.RotationDeltas)
	assert.InDelta(t, 30, saved.Rotation.Yaw, 1e-3)
	assertVectorNear(t, rigCfg.UniverseTranslationCM, saved.TranslationCM.Vector(), 1e-3)
	assert.True(t, saved.CreatedAt.Equal(clk.Now()))

	// The corrected target now reports the same world pose as the reference
	// plus its mount.
	snap := rig.Snapshot()
	ref, _ := snap.Device(tracking.MockReference)
	target, _ := snap.Device(tracking.MockTarget)
	refPose := ref.Pose()
	wantRot := refPose.Rotation.Mul(orientation.MatrixFromEulerZYX(rigCfg.MountRotation))
	assert.True(t, wantRot.AlmostEqual(target.Pose().Rotation, 1e-6))
	wantTrans := refPose.Translation.Add(refPose.Rotation.MulVec(orientation.CentimetersToMeters(rigCfg.MountLeverCM)))
	assertVectorNear(t, wantTrans, target.Pose().Translation, 1e-5)

	// The idle rescan pushes the profile to the target system's controllers
	// and trackers, not to its headset.
	rec.Reset()
	clk.Add(DefaultRescanInterval)
	cal.Tick(clk.Now())
	var ids []tracking.DeviceID
	for _, c := range rec.Calls() {
		if c.Kind == offset.KindEnabled {
			ids = append(ids, c.ID)
		}
	}
	assert.Equal(t, []tracking.DeviceID{tracking.MockTarget, tracking.MockTargetTracker}, ids)
}

func TestLoadProfileAndRescan(t *testing.T) {
	store := profile.NewJSONStore(filepath.Join(t.TempDir(), "profile.json"))
	cal, rec, _, tk := newTestCalibrator(t, newPairSource(orientation.EulerAngles{}), store)

	assert.ErrorIs(t, cal.LoadProfile(), profile.ErrNoProfile)

	p := profile.New(orientation.EulerAngles{Yaw: 12}, r3.Vector{X: 1, Y: 2, Z: 4}, 4)
	p.TargetTrackingSystem = "oculus"
	require.NoError(t, store.Save(p))
	require.NoError(t, cal.LoadProfile())

	ctx := cal.Context()
	assert.True(t, ctx.ValidProfile)
	assert.Equal(t, 12.0, ctx.CalibratedRotation.Yaw)
	assert.Equal(t, r3.Vector{X: 1, Y: 2, Z: 4}, ctx.CalibratedTranslation)

	// First idle tick scans right away, then every 2.5s.
	tk.tick(1)
	assert.Len(t, rec.Calls(), 3)
	rec.Reset()

	tk.tick(20) // 1s
	assert.Empty(t, rec.Calls())
	tk.tick(30) // 2.5s since the scan
	assert.Len(t, rec.Calls(), 3)
	assert.Equal(t, offset.Call{Kind: offset.KindTranslation, ID: targetID, Translation: r3.Vector{X: 0.01, Y: 0.02, Z: 0.04}}, rec.Calls()[1])
}

func TestEditing(t *testing.T) {
	store := profile.NewJSONStore(filepath.Join(t.TempDir(), "profile.json"))
	src := newPairSource(orientation.EulerAngles{})
	logger, _ := logging.NewObservedTestLogger(t)
	rec := &offset.Recorder{}
	cal, err := New(Options{Source: src, Applier: rec, Store: store, Logger: logger, TargetTrackingSystem: "oculus"})
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Error(t, cal.SetOffsets(orientation.EulerAngles{}, r3.Vector{}))
	assert.Error(t, cal.EndEditing(now))

	require.NoError(t, cal.BeginEditing())
	assert.Equal(t, StateEditing, cal.State())
	assert.Zero(t, cal.Context().WantedUpdateInterval)
	assert.Error(t, cal.BeginEditing())

	require.NoError(t, cal.SetOffsets(orientation.EulerAngles{Roll: 2}, r3.Vector{Z: 50}))
	for i := 0; i < 3; i++ {
		now = now.Add(DefaultMinTickInterval)
		cal.Tick(now)
	}
	assert.Len(t, rec.Calls(), 9, "editing re-applies on every tick")

	require.NoError(t, cal.EndEditing(now))
	assert.Equal(t, StateNone, cal.State())
	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2.0, saved.Rotation.Roll)
	assert.Equal(t, 50.0, saved.TranslationCM.Z)
	assert.Equal(t, "oculus", saved.TargetTrackingSystem)
}

func TestEditingRequiresIdle(t *testing.T) {
	cal, _, _, _ := newTestCalibrator(t, newPairSource(orientation.EulerAngles{}), nil)
	cal.StartCalibration(refID, targetID)
	assert.Error(t, cal.BeginEditing())
}

func TestEditingWithoutTargetSystem(t *testing.T) {
	cal, _, _, _ := newTestCalibrator(t, newPairSource(orientation.EulerAngles{}), nil)
	require.NoError(t, cal.BeginEditing())
	assert.Error(t, cal.SetOffsets(orientation.EulerAngles{Yaw: 1}, r3.Vector{}))
}
