//go:build unix

package recording

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdeck/core/internal/camlock"
	"github.com/camdeck/core/internal/corerr"
	"github.com/camdeck/core/internal/encoder"
	"github.com/camdeck/core/internal/eventbus"
	"github.com/camdeck/core/internal/store"
)

// fakeFFmpeg writes a small valid file at whatever the last argument (the
// output path) is, simulating a successful capture/remux/thumbnail step
// without a real transcoder binary.
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

func newTestManager(t *testing.T, transcoderPath string) (*Manager, *store.Store, string) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.DB.Close() })

	sel, err := encoder.NewSelector(transcoderPath, nil)
	require.NoError(t, err)

	bus := eventbus.New("", nil)
	t.Cleanup(func() { bus.Close() })

	root := t.TempDir()
	recordingsRoot := filepath.Join(root, "recordings")
	thumbnailsRoot := filepath.Join(root, "thumbnails")
	tmpRoot := filepath.Join(root, "tmp")

	mgr := New(st, bus, sel, &camlock.Set{}, transcoderPath, recordingsRoot, thumbnailsRoot, tmpRoot,
		encoder.PolicyCPUOnly, nil)
	return mgr, st, root
}

func TestStartThenStopFinalizesRecordingAndEmitsEvent(t *testing.T) {
	transcoder := writeFakeFFmpeg(t)
	mgr, st, _ := newTestManager(t, transcoder)

	events, unsub := mgr.bus.Subscribe()
	defer unsub()

	require.NoError(t, mgr.Start(context.Background(), 1, "/dev/video0", 30, StartOptions{}))
	assert.True(t, mgr.IsRecording(1))
	assert.Contains(t, mgr.RecordingCameras(), int64(1))

	require.NoError(t, mgr.Stop(context.Background(), 1))
	assert.False(t, mgr.IsRecording(1))

	select {
	case evt := <-events:
		assert.Equal(t, eventbus.KindRecordingFinalized, evt.Kind)
		assert.Equal(t, int64(1), evt.CameraID)
	case <-time.After(time.Second):
		t.Fatal("expected a recording-finalized event")
	}

	recs, err := st.Recordings.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(1), recs[0].CameraID)
}

func TestStartRejectsConcurrentRecordingOnSameCamera(t *testing.T) {
	transcoder := writeFakeFFmpeg(t)
	mgr, _, _ := newTestManager(t, transcoder)

	require.NoError(t, mgr.Start(context.Background(), 7, "/dev/video0", 30, StartOptions{}))
	err := mgr.Start(context.Background(), 7, "/dev/video0", 30, StartOptions{})
	require.Error(t, err)
	assert.Equal(t, corerr.Conflict, corerr.KindOf(err))
}

func TestStopOnUnknownCameraReturnsNotFound(t *testing.T) {
	transcoder := writeFakeFFmpeg(t)
	mgr, _, _ := newTestManager(t, transcoder)

	err := mgr.Stop(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, corerr.NotFound, corerr.KindOf(err))
}

func TestDeleteToleratesMissingFiles(t *testing.T) {
	transcoder := writeFakeFFmpeg(t)
	mgr, st, _ := newTestManager(t, transcoder)

	rec := &store.Recording{
		CameraID:  3,
		Filename:  "missing.mp4",
		Thumbnail: "missing.jpg",
		StartTime: time.Now(),
		EndTime:   time.Now(),
	}
	require.NoError(t, st.Recordings.Create(context.Background(), rec))

	require.NoError(t, mgr.Delete(context.Background(), rec.ID))

	_, err := st.Recordings.GetByID(context.Background(), rec.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBuildCaptureArgsHonorsFPSOverride(t *testing.T) {
	args := buildCaptureArgs("/dev/video0", "/tmp/out.ts",
		encoder.Settings{Encoder: encoder.KindSoftware, Quality: 23}, 15)

	assert.Contains(t, args, "-r")
	assert.Contains(t, args, "15")
	assert.Contains(t, args, "mpegts")
}
