//go:build unix

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdeck/core/internal/camlock"
	"github.com/camdeck/core/internal/encoder"
	"github.com/camdeck/core/internal/eventbus"
	"github.com/camdeck/core/internal/recording"
	"github.com/camdeck/core/internal/schedule"
	"github.com/camdeck/core/internal/store"
	"github.com/camdeck/core/internal/stream"
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

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.DB.Close() })

	transcoder := writeFakeFFmpeg(t)
	sel, err := encoder.NewSelector(transcoder, nil)
	require.NoError(t, err)

	bus := eventbus.New("", nil)
	t.Cleanup(bus.Close)

	locks := &camlock.Set{}
	root := t.TempDir()

	streaming := stream.New(st, bus, sel, locks, transcoder, filepath.Join(root, "hls"), 38471, encoder.PolicyCPUOnly, 0, 0, nil)
	rec := recording.New(st, bus, sel, locks, transcoder,
		filepath.Join(root, "recordings"), filepath.Join(root, "thumbnails"), filepath.Join(root, "tmp"),
		encoder.PolicyCPUOnly, nil)

	eng, err := schedule.New(st, rec, "UTC", 0, nil)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)

	facade := New(st, streaming, rec, eng, sel, bus, 38471, root, encoder.PolicyCPUOnly, 23, 0, nil)
	hub := NewHub(nil)
	srv := NewServer(facade, hub, nil)

	return srv, st
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAddAndGetCameras(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/rpc/cameras", map[string]any{
		"name": "front-door", "kind": "uvc", "deviceNode": "/dev/video0", "fps": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created store.Camera
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)

	listRec := doJSON(t, router, http.MethodGet, "/rpc/cameras", nil)
	require.Equal(t, http.StatusOK, listRec.Code)

	var cams []*store.Camera
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &cams))
	require.Len(t, cams, 1)
	assert.Equal(t, "front-door", cams[0].Name)
}

func TestAddCameraRejectsMissingRequiredField(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/rpc/cameras", map[string]any{
		"name": "no-device-node", "kind": "uvc",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteCameraCascadesStopAndRemovesRow(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	cam := &store.Camera{Name: "cam-1", Kind: store.KindUVC, DeviceNode: "/dev/video0", FPS: 30}
	require.NoError(t, st.Cameras.Create(context.Background(), cam))

	startRec := doJSON(t, router, http.MethodPost, "/rpc/cameras/"+itoa(cam.ID)+"/stream/start", nil)
	require.Equal(t, http.StatusOK, startRec.Code)

	delRec := doJSON(t, router, http.MethodDelete, "/rpc/cameras/"+itoa(cam.ID), nil)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	_, err := st.Cameras.GetByID(context.Background(), cam.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartAndStopRecording(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	cam := &store.Camera{Name: "cam-1", Kind: store.KindUVC, DeviceNode: "/dev/video0", FPS: 30}
	require.NoError(t, st.Cameras.Create(context.Background(), cam))

	startRec := doJSON(t, router, http.MethodPost, "/rpc/cameras/"+itoa(cam.ID)+"/recording/start", map[string]any{})
	require.Equal(t, http.StatusOK, startRec.Code)

	activeRec := doJSON(t, router, http.MethodGet, "/rpc/recordings/active", nil)
	require.Equal(t, http.StatusOK, activeRec.Code)
	var active []int64
	require.NoError(t, json.Unmarshal(activeRec.Body.Bytes(), &active))
	assert.Contains(t, active, cam.ID)

	stopRec := doJSON(t, router, http.MethodPost, "/rpc/cameras/"+itoa(cam.ID)+"/recording/stop", nil)
	assert.Equal(t, http.StatusNoContent, stopRec.Code)
}

func TestSchedulesCRUD(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	cam := &store.Camera{Name: "cam-1", Kind: store.KindUVC, DeviceNode: "/dev/video0", FPS: 30}
	require.NoError(t, st.Cameras.Create(context.Background(), cam))

	addRec := doJSON(t, router, http.MethodPost, "/rpc/schedules", map[string]any{
		"cameraId": cam.ID, "name": "nightly", "cronExpr": "0 2 * * *", "durationMinutes": 30, "enabled": true,
	})
	require.Equal(t, http.StatusCreated, addRec.Code)
	var sch store.Schedule
	require.NoError(t, json.Unmarshal(addRec.Body.Bytes(), &sch))
	require.NotNil(t, sch.NextRunAt)

	toggleRec := doJSON(t, router, http.MethodPost, "/rpc/schedules/"+itoa(sch.ID)+"/toggle", map[string]any{"enabled": false})
	assert.Equal(t, http.StatusNoContent, toggleRec.Code)

	delRec := doJSON(t, router, http.MethodDelete, "/rpc/schedules/"+itoa(sch.ID), nil)
	assert.Equal(t, http.StatusNoContent, delRec.Code)
}

func TestUpdateEncoderSettingsRejectsUnknownPolicy(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPut, "/rpc/encoder/settings", map[string]any{
		"policy": "bogus", "quality": 20,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiscoverUVCDevicesReturnsEmptyListOnCIHost(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/rpc/cameras/discover/uvc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var devices []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
}

func TestGetServerInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/rpc/server/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.EqualValues(t, 38471, info["mediaPort"])
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
