//go:build unix

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdeck/core/internal/camlock"
	"github.com/camdeck/core/internal/encoder"
	"github.com/camdeck/core/internal/eventbus"
	"github.com/camdeck/core/internal/recording"
	"github.com/camdeck/core/internal/store"
	"github.com/camdeck/core/internal/stream"
)

const fakeScript = "#!/bin/sh\nwhile true; do sleep 1; done\n"

func writeFakeTranscoder(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake_ffmpeg.sh")
	require.NoError(t, os.WriteFile(path, []byte(fakeScript), 0o755))
	return path
}

func TestCollectReportsLiveSessionCount(t *testing.T) {
	transcoder := writeFakeTranscoder(t)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.DB.Close() })

	sel, err := encoder.NewSelector(transcoder, nil)
	require.NoError(t, err)
	bus := eventbus.New("", nil)
	t.Cleanup(func() { bus.Close() })
	locks := &camlock.Set{}

	cam := &store.Camera{Name: "desk cam", Kind: store.KindUVC, DeviceNode: "/dev/null", FPS: 30}
	require.NoError(t, st.Cameras.Create(context.Background(), cam))

	sup := stream.New(st, bus, sel, locks, transcoder, t.TempDir(), 38471, encoder.PolicyCPUOnly, 0, 0, nil)
	rec := recording.New(st, bus, sel, locks, transcoder, t.TempDir(), t.TempDir(), t.TempDir(), encoder.PolicyCPUOnly, nil)

	_, err = sup.Start(context.Background(), cam.ID)
	require.NoError(t, err)
	t.Cleanup(func() { sup.Stop(context.Background(), cam.ID) })

	c := NewCollector(sup, rec)
	c.collect()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "camdeck_live_sessions 1")
	assert.Contains(t, body, `camdeck_camera_stream_uptime_seconds{camera_id="1"}`)
	assert.Contains(t, body, "camdeck_recording_jobs 0")
}
