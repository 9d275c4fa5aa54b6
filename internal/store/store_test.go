package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCameraCreateGetUpdateDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cam := &Camera{Name: "Cam1", Kind: KindONVIF, Host: "192.0.2.10", Port: 80, Username: "a", Password: "b"}
	require.NoError(t, s.Cameras.Create(ctx, cam))
	assert.NotZero(t, cam.ID)

	got, err := s.Cameras.GetByID(ctx, cam.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cam1", got.Name)
	assert.Equal(t, KindONVIF, got.Kind)

	got.Name = "Cam1-renamed"
	require.NoError(t, s.Cameras.Update(ctx, got))

	got2, err := s.Cameras.GetByID(ctx, cam.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cam1-renamed", got2.Name)

	require.NoError(t, s.Cameras.Delete(ctx, cam.ID))
	_, err = s.Cameras.GetByID(ctx, cam.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// add_camera -> delete_camera is a no-op on the DB set difference (SPEC_FULL §8).
func TestAddDeleteCameraIsNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	before, err := s.Cameras.List(ctx)
	require.NoError(t, err)

	cam := &Camera{Name: "Tmp", Kind: KindRTSP, Host: "192.0.2.20", StreamPath: "/stream1"}
	require.NoError(t, s.Cameras.Create(ctx, cam))
	require.NoError(t, s.Cameras.Delete(ctx, cam.ID))

	after, err := s.Cameras.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestRecordingCascadeDeleteOnCamera(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cam := &Camera{Name: "Cam1", Kind: KindRTSP, Host: "192.0.2.10", StreamPath: "/s"}
	require.NoError(t, s.Cameras.Create(ctx, cam))

	now := time.Now().UTC()
	rec := &Recording{CameraID: cam.ID, Filename: "a.mp4", StartTime: now, EndTime: now.Add(time.Minute)}
	require.NoError(t, s.Recordings.Create(ctx, rec))

	require.NoError(t, s.Cameras.Delete(ctx, cam.ID))

	_, err := s.Recordings.GetByID(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound, "FK cascade should remove orphaned recordings")
}

func TestScheduleEnabledFlagGatesListEnabled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cam := &Camera{Name: "Cam1", Kind: KindRTSP, Host: "192.0.2.10", StreamPath: "/s"}
	require.NoError(t, s.Cameras.Create(ctx, cam))

	sched := &Schedule{CameraID: cam.ID, Name: "nightly", CronExpr: "0 9 * * *", DurationMinutes: 30, Enabled: true}
	require.NoError(t, s.Schedules.Create(ctx, sched))

	enabled, err := s.Schedules.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	require.NoError(t, s.Schedules.SetEnabled(ctx, sched.ID, false))
	enabled, err = s.Schedules.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 0)
}
