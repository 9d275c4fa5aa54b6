//go:build unix

package schedule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdeck/core/internal/camlock"
	"github.com/camdeck/core/internal/encoder"
	"github.com/camdeck/core/internal/eventbus"
	"github.com/camdeck/core/internal/recording"
	"github.com/camdeck/core/internal/store"
)

const fakeFFmpegScript = `#!/bin/sh
for a in "$@"; do out="$a"; done
printf 'stub-media-bytes' > "$out"
exit 0
`

func writeFakeFFmpeg(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake_ffmpeg.sh")
	require.NoError(t, os.WriteFile(path, []byte(fakeFFmpegScript), 0o755))
	return path
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *recording.Manager) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.DB.Close() })

	transcoder := writeFakeFFmpeg(t)
	sel, err := encoder.NewSelector(transcoder, nil)
	require.NoError(t, err)

	bus := eventbus.New("", nil)
	t.Cleanup(func() { bus.Close() })

	root := t.TempDir()
	rec := recording.New(st, bus, sel, &camlock.Set{}, transcoder,
		filepath.Join(root, "recordings"), filepath.Join(root, "thumbnails"), filepath.Join(root, "tmp"),
		encoder.PolicyCPUOnly, nil)

	eng, err := New(st, rec, "UTC", 0, nil)
	require.NoError(t, err)
	t.Cleanup(eng.Stop)

	return eng, st, rec
}

func insertUVCCamera(t *testing.T, st *store.Store) *store.Camera {
	t.Helper()
	cam := &store.Camera{Name: "cam-1", Kind: store.KindUVC, DeviceNode: "/dev/video0", FPS: 30}
	require.NoError(t, st.Cameras.Create(context.Background(), cam))
	return cam
}

func TestCreateRegistersAndWritesNextRun(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, eng.Start(context.Background()))
	cam := insertUVCCamera(t, st)

	s := &store.Schedule{CameraID: cam.ID, Name: "nightly", CronExpr: "0 2 * * *", DurationMinutes: 30, Enabled: true}
	require.NoError(t, eng.Create(context.Background(), s))

	got, err := st.Schedules.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now()))
}

func TestCreateRejectsInvalidCronExpr(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	cam := insertUVCCamera(t, st)

	s := &store.Schedule{CameraID: cam.ID, Name: "bad", CronExpr: "not a cron expr", Enabled: true}
	err := eng.Create(context.Background(), s)
	require.Error(t, err)
}

func TestFireDropsTickWhenCameraDeleted(t *testing.T) {
	eng, st, rec := newTestEngine(t)
	require.NoError(t, eng.Start(context.Background()))
	cam := insertUVCCamera(t, st)

	s := &store.Schedule{CameraID: cam.ID, Name: "once", CronExpr: "* * * * *", DurationMinutes: 30, Enabled: true}
	require.NoError(t, eng.Create(context.Background(), s))

	require.NoError(t, st.Cameras.Delete(context.Background(), cam.ID))

	eng.fire(s.ID)

	assert.False(t, rec.IsRecording(cam.ID))
}

func TestFireDropsTickWhenAlreadyRecording(t *testing.T) {
	eng, st, rec := newTestEngine(t)
	require.NoError(t, eng.Start(context.Background()))
	cam := insertUVCCamera(t, st)

	s := &store.Schedule{CameraID: cam.ID, Name: "once", CronExpr: "* * * * *", DurationMinutes: 30, Enabled: true}
	require.NoError(t, eng.Create(context.Background(), s))

	require.NoError(t, rec.Start(context.Background(), cam.ID, cam.DeviceNode, cam.FPS, recording.StartOptions{}))
	defer rec.Stop(context.Background(), cam.ID)

	eng.fire(s.ID)
}

func TestDeleteReloadsAndRemovesSchedule(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, eng.Start(context.Background()))
	cam := insertUVCCamera(t, st)

	s := &store.Schedule{CameraID: cam.ID, Name: "once", CronExpr: "* * * * *", DurationMinutes: 30, Enabled: true}
	require.NoError(t, eng.Create(context.Background(), s))

	require.NoError(t, eng.Delete(context.Background(), s.ID))

	_, err := st.Schedules.GetByID(context.Background(), s.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	eng.mu.Lock()
	_, ok := eng.entries[s.ID]
	eng.mu.Unlock()
	assert.False(t, ok)
}
